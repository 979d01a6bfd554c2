package node

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapPreservesKind(t *testing.T) {
	inner := Errf(KindImmutableExists, "record exists")
	wrapped := Wrap(KindValidation, fmt.Errorf("program x: %w", inner))
	if wrapped.Kind != KindImmutableExists {
		t.Errorf("kind = %s, want immutable-exists", wrapped.Kind)
	}
}

func TestWrapPlainError(t *testing.T) {
	wrapped := Wrap(KindBackend, errors.New("boom"))
	if wrapped.Kind != KindBackend || wrapped.Message != "boom" {
		t.Errorf("got %+v", wrapped)
	}
	if Wrap(KindBackend, nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestKindOf(t *testing.T) {
	if k := KindOf(Errf(KindNotFound, "x")); k != KindNotFound {
		t.Errorf("kind = %s", k)
	}
	if k := KindOf(errors.New("plain")); k != KindBackend {
		t.Errorf("plain error kind = %s, want backend", k)
	}
	if k := KindOf(nil); k != "" {
		t.Errorf("nil kind = %q, want empty", k)
	}
}

func TestParseErrorRoundTrip(t *testing.T) {
	orig := Errf(KindHashMismatch, "digest differs")
	back := ParseError(orig.Error())
	if back.Kind != orig.Kind || back.Message != orig.Message {
		t.Errorf("round trip: got %+v, want %+v", back, orig)
	}
}

func TestParseErrorUnknownKind(t *testing.T) {
	e := ParseError("weird: something")
	if e.Kind != KindBackend {
		t.Errorf("kind = %s, want backend", e.Kind)
	}
	e = ParseError("no separator at all")
	if e.Kind != KindBackend || e.Message != "no separator at all" {
		t.Errorf("got %+v", e)
	}
}
