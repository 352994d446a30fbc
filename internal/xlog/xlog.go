// Package xlog holds the package-level logger used throughout redjmp. It
// mirrors Hookshot's Message module: severity-leveled output, gated by a
// level check before any expensive formatting (disassembly strings in
// particular) is built.
package xlog

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu  sync.RWMutex
	log = newDefault()
)

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.Out = os.Stderr
	l.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	l.SetLevel(logrus.WarnLevel)
	return l
}

// Logger returns the logger currently in use.
func Logger() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// SetLogger replaces the package logger. Passing nil restores the default.
func SetLogger(l *logrus.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		log = newDefault()
		return
	}
	log = l
}

// DebugEnabled reports whether debug-level messages would actually be
// emitted, letting callers skip building a disassembly string that would
// otherwise be thrown away.
func DebugEnabled() bool {
	return Logger().IsLevelEnabled(logrus.DebugLevel)
}
