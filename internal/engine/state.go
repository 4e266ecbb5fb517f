package engine

import (
	"time"

	"orianna/internal/domain"
)

// transitions is the complete session state machine. Anything not listed is
// rejected before persistence.
var transitions = map[domain.SessionStatus][]domain.SessionStatus{
	domain.SessionStatusCreated: {
		domain.SessionStatusInProgress,
		domain.SessionStatusAbandoned,
	},
	domain.SessionStatusInProgress: {
		domain.SessionStatusPaused,
		domain.SessionStatusCompleted,
		domain.SessionStatusAbandoned,
	},
	domain.SessionStatusPaused: {
		domain.SessionStatusInProgress,
		domain.SessionStatusAbandoned,
	},
	domain.SessionStatusCompleted: {
		domain.SessionStatusEvaluated,
	},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to domain.SessionStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves the session to the target status, stamping the lifecycle
// timestamps. The session is not persisted here.
func Transition(s *domain.Session, to domain.SessionStatus) error {
	if !CanTransition(s.Status, to) {
		return ErrInvalidStateTransition
	}
	now := time.Now()
	s.Status = to
	s.LastActivityAt = now
	switch to {
	case domain.SessionStatusInProgress:
		if s.StartedAt.IsZero() {
			s.StartedAt = now
		}
	case domain.SessionStatusCompleted, domain.SessionStatusAbandoned:
		s.CompletedAt = &now
	}
	return nil
}
