package node

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies node failures. The set is closed: every error crossing a
// node boundary carries exactly one of these.
type Kind string

const (
	KindNoSchema        Kind = "no-schema"
	KindValidation      Kind = "validation"
	KindImmutableExists Kind = "immutable-exists"
	KindHashMismatch    Kind = "hash-mismatch"
	KindNotFound        Kind = "not-found"
	KindBatchTooLarge   Kind = "batch-too-large"
	KindTimeout         Kind = "timeout"
	KindDisconnected    Kind = "disconnected"
	KindBackend         Kind = "backend"
	KindAuth            Kind = "auth"
	KindDecrypt         Kind = "decrypt"
)

// Error is the uniform failure type of the node protocol.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Errf builds a kinded error with a formatted message.
func Errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap converts an arbitrary error into a kinded one, preserving the kind
// if err already carries one.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	var ne *Error
	if errors.As(err, &ne) {
		return ne
	}
	return &Error{Kind: kind, Message: err.Error()}
}

// KindOf extracts the error kind; plain errors classify as backend.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ne *Error
	if errors.As(err, &ne) {
		return ne.Kind
	}
	return KindBackend
}

// ParseError recovers a kinded error from its wire form "kind: message".
// Unrecognized strings come back as backend errors.
func ParseError(s string) *Error {
	if i := strings.Index(s, ": "); i > 0 {
		k := Kind(s[:i])
		switch k {
		case KindNoSchema, KindValidation, KindImmutableExists, KindHashMismatch,
			KindNotFound, KindBatchTooLarge, KindTimeout, KindDisconnected,
			KindBackend, KindAuth, KindDecrypt:
			return &Error{Kind: k, Message: s[i+2:]}
		}
	}
	return &Error{Kind: KindBackend, Message: s}
}

// IsNotFound reports whether err is a not-found node error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}
