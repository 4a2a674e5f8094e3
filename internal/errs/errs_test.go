package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"pgregory.net/rapid"
)

var allCodes = []Code{
	InvalidArgument,
	Unauthenticated,
	AlreadyExists,
	SyncFailed,
	NotFound,
	FailedPrecondition,
	PermissionDenied,
	ResourceExhausted,
	Unavailable,
	Internal,
}

func testCodeOf_RoundtripForTypedErrors(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")

	err := New(code, message)
	if got := CodeOf(err); got != code {
		t.Fatalf("CodeOf(New) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(err); got != message {
		t.Fatalf("MessageOf(New) mismatch: got=%q want=%q", got, message)
	}
	if !Is(err, code) {
		t.Fatalf("Is(%q) = false", code)
	}
}

func TestCodeOf_RoundtripForTypedErrors(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOf_RoundtripForTypedErrors)
}

func FuzzCodeOf_RoundtripForTypedErrors(f *testing.F) {
	f.Fuzz(rapid.MakeFuzz(testCodeOf_RoundtripForTypedErrors))
}

func testCodeOfAndMessageOf_WrappedTypedError(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")
	cause := errors.New(rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "cause"))

	err := Wrap(code, message, cause)
	wrapped := fmt.Errorf("outer: %w", err)

	if got := CodeOf(wrapped); got != code {
		t.Fatalf("CodeOf(wrapped) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(wrapped); got != message {
		t.Fatalf("MessageOf(wrapped) mismatch: got=%q want=%q", got, message)
	}
	if !errors.Is(wrapped, cause) {
		t.Fatal("wrapped error lost its cause")
	}
}

func TestCodeOfAndMessageOf_WrappedTypedError(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOfAndMessageOf_WrappedTypedError)
}

func TestUntypedAndNilFallbacks(t *testing.T) {
	t.Parallel()
	untyped := errors.New("open /data/owner.db: permission denied")

	if got := CodeOf(untyped); got != Internal {
		t.Fatalf("CodeOf(untyped) mismatch: got=%q want=%q", got, Internal)
	}
	if got := MessageOf(untyped); got != "internal error" {
		t.Fatalf("MessageOf(untyped) mismatch: got=%q", got)
	}
	if got := CodeOf(nil); got != Internal {
		t.Fatalf("CodeOf(nil) mismatch: got=%q", got)
	}
	if Is(nil, Internal) {
		t.Fatal("Is(nil) must be false")
	}
}

// Every known code must survive a trip through the HTTP layer.
func testHTTPStatus_RoundTrip(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	withReported := rapid.Bool().Draw(t, "with_reported")

	reported := ""
	if withReported {
		reported = string(code)
	}
	got := FromHTTPStatus(HTTPStatus(code), reported)
	if withReported && got != code {
		t.Fatalf("reported code lost: got=%q want=%q", got, code)
	}
	if !withReported && code != FailedPrecondition && got != code {
		t.Fatalf("status mapping mismatch: code=%q status=%d got=%q", code, HTTPStatus(code), got)
	}
}

func TestHTTPStatus_RoundTrip(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testHTTPStatus_RoundTrip)
}

func TestFromHTTPStatus_UnknownReportedCodeFallsBackToStatus(t *testing.T) {
	t.Parallel()
	if got := FromHTTPStatus(http.StatusServiceUnavailable, "bogus"); got != Unavailable {
		t.Fatalf("got %q want %q", got, Unavailable)
	}
	if got := FromHTTPStatus(http.StatusTeapot, ""); got != Internal {
		t.Fatalf("got %q want %q", got, Internal)
	}
}
