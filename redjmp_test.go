package redjmp

import (
	"fmt"
	"testing"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(fmt.Sprintf("%v %s", cond, format), args...)
	}
}

func TestResultOkCoversOnlySuccessAndNoEffect(t *testing.T) {
	assert(t, Success.Ok(), "Success must be Ok")
	assert(t, NoEffect.Ok(), "NoEffect must be Ok")

	failures := []Result{
		FailAllocation, FailBadState, FailCannotSetHook,
		FailDuplicate, FailInvalidArgument, FailInternal, FailNotFound,
	}
	for _, f := range failures {
		assert(t, !f.Ok(), "%v must not be Ok", f)
	}
}

func TestResultOrderingIsContiguous(t *testing.T) {
	assert(t, Success < NoEffect, "Success must precede NoEffect")
	assert(t, NoEffect < FailAllocation, "NoEffect must precede every failure code")
}

func TestResultStringIsHumanReadable(t *testing.T) {
	assert(t, Success.String() == "success", "unexpected String() for Success: %q", Success.String())
	assert(t, FailNotFound.String() == "not found", "unexpected String() for FailNotFound: %q", FailNotFound.String())
}
