package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatsWithAndWithoutCause(t *testing.T) {
	plain := New(NotFound, "profile_missing", "profile not found")
	if got, want := plain.Error(), "[NotFound/profile_missing] profile not found"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}

	cause := errors.New("disk full")
	wrapped := Wrap(Internal, "persist_failed", "failed to persist", cause)
	if got, want := wrapped.Error(), "[Internal/persist_failed] failed to persist: disk full"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	wrapped := Wrap(Internal, "code", "msg", cause)
	if !errors.Is(wrapped, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestWithDetailsAndWithHintChain(t *testing.T) {
	e := New(InvalidParams, "bad", "bad input").
		WithDetails("field", "name").
		WithHint("try again")
	if e.Hint != "try again" {
		t.Fatalf("Hint = %q", e.Hint)
	}
	if e.Details["field"] != "name" {
		t.Fatalf("Details = %v", e.Details)
	}
}

func TestAsExtractsToolErrorAcrossWrapping(t *testing.T) {
	te := New(Denied, "denied", "nope")
	wrapped := fmt.Errorf("outer: %w", te)

	got, ok := As(wrapped)
	if !ok {
		t.Fatal("expected As to find the wrapped ToolError")
	}
	if got != te {
		t.Fatal("As returned a different ToolError instance")
	}

	if _, ok := As(errors.New("plain")); ok {
		t.Fatal("As should not match a non-ToolError")
	}
}

func TestCategoryOfDefaultsToInternal(t *testing.T) {
	if got := CategoryOf(errors.New("plain")); got != Internal {
		t.Fatalf("CategoryOf(plain) = %v, want Internal", got)
	}
	if got := CategoryOf(New(Timeout, "t", "timed out")); got != Timeout {
		t.Fatalf("CategoryOf(ToolError) = %v, want Timeout", got)
	}
}

func TestConvenienceConstructorsSetExpectedCategories(t *testing.T) {
	cases := []struct {
		name string
		err  *ToolError
		want Category
	}{
		{"InvalidParam", InvalidParam("f", "r"), InvalidParams},
		{"MissingParam", MissingParam("p"), InvalidParams},
		{"DeniedErr", DeniedErr("no"), Denied},
		{"NotFoundErr", NotFoundErr("profile", "x"), NotFound},
		{"ConflictErr", ConflictErr("conflict"), Conflict},
		{"RetryableErr", RetryableErr("retry", errors.New("x")), Retryable},
		{"TimeoutErr", TimeoutErr("op"), Timeout},
		{"InternalErr", InternalErr("internal", errors.New("x")), Internal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Category != tc.want {
				t.Fatalf("category = %v, want %v", tc.err.Category, tc.want)
			}
		})
	}
}

func TestNormalizePassesThroughToolErrorsAndWrapsOthers(t *testing.T) {
	if Normalize(nil) != nil {
		t.Fatal("Normalize(nil) should be nil")
	}
	te := New(Conflict, "c", "conflict")
	if Normalize(te) != te {
		t.Fatal("Normalize should pass through an existing ToolError unchanged")
	}
	plain := errors.New("oops")
	got := Normalize(plain)
	if got.Category != Internal {
		t.Fatalf("Normalize(plain).Category = %v, want Internal", got.Category)
	}
	if !errors.Is(got, plain) {
		t.Fatal("Normalize should wrap the original error as the cause")
	}
}
