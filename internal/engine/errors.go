package engine

import (
	"errors"

	"google.golang.org/grpc/codes"

	"orianna/internal/domain"
)

// Error taxonomy of the session engine. State-machine and ordering
// violations are detected before any persistence write; provider failures
// never corrupt slot or answer invariants.
var (
	// ErrInvalidStateTransition rejects an operation illegal for the
	// session's current status. Not retryable.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrOutOfOrderAnswer rejects a submission whose ordinal is not the
	// session cursor; the caller should re-fetch the next question.
	ErrOutOfOrderAnswer = errors.New("answer out of order")
	// ErrAlreadyAnswered rejects a conflicting resubmission to a resolved
	// slot.
	ErrAlreadyAnswered = errors.New("slot already answered")
	// ErrProviderUnavailable marks a failed or timed-out provider call.
	// Retryable; the session state is unchanged.
	ErrProviderUnavailable = errors.New("question provider unavailable")
	// ErrEvaluationPending marks an answer whose evaluation has not landed
	// yet. Informational; the answer itself is already accepted.
	ErrEvaluationPending = errors.New("evaluation pending")
	// ErrNoMoreQuestions signals sequencer exhaustion; the caller should
	// complete the session.
	ErrNoMoreQuestions = errors.New("no more questions")
	// ErrNotFound covers unknown sessions/slots and ownership misses.
	ErrNotFound = errors.New("session not found")
)

// StateError carries the authoritative session snapshot alongside a
// rejection so the caller can resynchronize without a second read.
type StateError struct {
	Err     error
	Session *domain.Session
}

func (e *StateError) Error() string { return e.Err.Error() }

func (e *StateError) Unwrap() error { return e.Err }

// withSnapshot attaches the current session state to a rejection.
func withSnapshot(err error, s *domain.Session) error {
	if err == nil || s == nil {
		return err
	}
	return &StateError{Err: err, Session: s.Clone()}
}

// Code maps an engine error onto the gRPC status code the transport layer
// responds with.
func Code(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, ErrInvalidStateTransition):
		return codes.FailedPrecondition
	case errors.Is(err, ErrOutOfOrderAnswer):
		return codes.FailedPrecondition
	case errors.Is(err, ErrAlreadyAnswered):
		return codes.AlreadyExists
	case errors.Is(err, ErrProviderUnavailable):
		return codes.Unavailable
	case errors.Is(err, ErrEvaluationPending):
		return codes.Unavailable
	case errors.Is(err, ErrNoMoreQuestions):
		return codes.OutOfRange
	case errors.Is(err, ErrNotFound):
		return codes.NotFound
	default:
		return codes.Internal
	}
}
