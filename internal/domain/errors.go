package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrStateConflict = errors.New("state conflict")
	ErrNotFound      = errors.New("candidate not found")
)

// StateConflictError is returned when a write does not carry a valid next state
// for the candidate as currently stored.
type StateConflictError struct {
	Fingerprint string
	From        Status
	To          Status
	Reason      string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("state conflict on %s: %s -> %s: %s", e.Fingerprint, e.From, e.To, e.Reason)
}

func (e *StateConflictError) Is(target error) bool { return target == ErrStateConflict }

func IsStateConflict(err error) bool { return errors.Is(err, ErrStateConflict) }

// ReasonPostInProgress is the conflict reason when another poster holds the claim.
const ReasonPostInProgress = "post in progress"

// PostInProgress reports a conflict lost to a live post claim.
func PostInProgress(err error) bool {
	var sc *StateConflictError
	return errors.As(err, &sc) && sc.Reason == ReasonPostInProgress
}

// TransientError wraps rate limits, timeouts and network failures that may
// succeed on a later attempt.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// MalformedResponseError means an AI backend answered with output that could not be parsed.
type MalformedResponseError struct {
	Raw string
	Err error
}

func (e *MalformedResponseError) Error() string {
	raw := e.Raw
	if len(raw) > 120 {
		raw = raw[:120] + "..."
	}
	return fmt.Sprintf("malformed response: %v (raw=%q)", e.Err, raw)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Problems, "\n- ")
}
