package xlog

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(fmt.Sprintf("%v %s", cond, format), args...)
	}
}

func TestDefaultLoggerIsWarnLevel(t *testing.T) {
	SetLogger(nil)
	assert(t, !DebugEnabled(), "default logger should not have debug enabled")
	assert(t, Logger().IsLevelEnabled(logrus.WarnLevel), "default logger should have warn enabled")
}

func TestSetLoggerIsObservedByDebugEnabled(t *testing.T) {
	defer SetLogger(nil)

	l := logrus.New()
	l.SetLevel(logrus.DebugLevel)
	SetLogger(l)

	assert(t, DebugEnabled(), "expected debug enabled after installing a debug-level logger")
	assert(t, Logger() == l, "Logger() should return the installed logger")
}
