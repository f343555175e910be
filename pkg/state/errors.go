package state

import (
	"errors"
	"fmt"
)

// Sentinel errors for token encode/decode outcomes.
var (
	// ErrTamperedToken is returned for any integrity failure: decryption,
	// header parse, version mismatch, or signature mismatch. The causes
	// are deliberately indistinguishable to callers so a probing client
	// learns nothing about which check failed.
	ErrTamperedToken = errors.New("state: invalid token")

	// ErrExpiredToken is returned when a structurally valid token is
	// older than the configured maximum age. Distinguished from
	// ErrTamperedToken only so the user can be told to refresh.
	ErrExpiredToken = errors.New("state: token expired")

	// ErrStateRefresh is returned when persisted state references an
	// entity that no longer exists and the snapshot declared that entity
	// a load dependency. The client must discard the token and re-render.
	ErrStateRefresh = errors.New("state: persisted state no longer usable, refresh required")
)

// UnserializableError reports a snapshot value no codec or rule could
// encode. This is a programming error in the component, surfaced
// immediately at encode time and naming the offending attribute.
type UnserializableError struct {
	Component string
	Key       string
	Value     any
}

// Error returns the error message.
func (e *UnserializableError) Error() string {
	return fmt.Sprintf("state: component %q attribute %q: cannot serialize value of type %T",
		e.Component, e.Key, e.Value)
}

// PolicyViolationError reports a decoded type reference outside the
// allowlist. A well-formed token only ever contains references the server
// itself wrote, so this is tamper evidence; it is always fatal and the
// token is never retried.
type PolicyViolationError struct {
	Tag string
}

// Error returns the error message.
func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("state: reference to non-allowlisted type %q", e.Tag)
}

// IsPolicyViolation reports whether err is a PolicyViolationError.
func IsPolicyViolation(err error) bool {
	var pv *PolicyViolationError
	return errors.As(err, &pv)
}
