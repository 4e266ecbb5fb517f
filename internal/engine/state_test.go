package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orianna/internal/domain"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct {
		from, to domain.SessionStatus
	}{
		{domain.SessionStatusCreated, domain.SessionStatusInProgress},
		{domain.SessionStatusCreated, domain.SessionStatusAbandoned},
		{domain.SessionStatusInProgress, domain.SessionStatusPaused},
		{domain.SessionStatusInProgress, domain.SessionStatusCompleted},
		{domain.SessionStatusInProgress, domain.SessionStatusAbandoned},
		{domain.SessionStatusPaused, domain.SessionStatusInProgress},
		{domain.SessionStatusPaused, domain.SessionStatusAbandoned},
		{domain.SessionStatusCompleted, domain.SessionStatusEvaluated},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct {
		from, to domain.SessionStatus
	}{
		{domain.SessionStatusCreated, domain.SessionStatusCompleted},
		{domain.SessionStatusCreated, domain.SessionStatusPaused},
		{domain.SessionStatusCreated, domain.SessionStatusEvaluated},
		{domain.SessionStatusPaused, domain.SessionStatusCompleted},
		{domain.SessionStatusCompleted, domain.SessionStatusInProgress},
		{domain.SessionStatusCompleted, domain.SessionStatusAbandoned},
		{domain.SessionStatusAbandoned, domain.SessionStatusInProgress},
		{domain.SessionStatusAbandoned, domain.SessionStatusEvaluated},
		{domain.SessionStatusEvaluated, domain.SessionStatusInProgress},
		{domain.SessionStatusEvaluated, domain.SessionStatusCompleted},
	}
	for _, tc := range denied {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTransitionStampsLifecycleTimes(t *testing.T) {
	s := &domain.Session{Status: domain.SessionStatusCreated}

	require.NoError(t, Transition(s, domain.SessionStatusInProgress))
	assert.False(t, s.StartedAt.IsZero())
	startedAt := s.StartedAt

	require.NoError(t, Transition(s, domain.SessionStatusPaused))
	require.NoError(t, Transition(s, domain.SessionStatusInProgress))
	// Resuming does not restamp the start.
	assert.Equal(t, startedAt, s.StartedAt)
	assert.Nil(t, s.CompletedAt)

	require.NoError(t, Transition(s, domain.SessionStatusCompleted))
	require.NotNil(t, s.CompletedAt)

	require.NoError(t, Transition(s, domain.SessionStatusEvaluated))
	assert.Equal(t, domain.SessionStatusEvaluated, s.Status)
}

func TestTransitionRejectsInvalidMove(t *testing.T) {
	s := &domain.Session{Status: domain.SessionStatusAbandoned}
	err := Transition(s, domain.SessionStatusInProgress)
	require.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, domain.SessionStatusAbandoned, s.Status)
}
