package engine

import (
	"context"
	"fmt"
	"time"

	"orianna/internal/domain"
	"orianna/internal/repo"
	"orianna/internal/service"
)

// sequencer materializes the session's linear question sequence: scripted
// questions come from the provider one index at a time, follow-ups are
// spliced in right after their parent.
type sequencer struct {
	repo     *repo.Repository
	provider service.QuestionProvider
}

// next returns the slot at the session cursor. A slot that is already
// materialized is returned as is, so refetching the current question is
// idempotent and costs no provider call. When the cursor points past the end
// of the sequence, the next scripted question is fetched and appended; the
// caller persists the bumped ScriptedCount.
func (s *sequencer) next(ctx context.Context, session *domain.Session) (*domain.QuestionSlot, error) {
	slots, err := s.repo.Slot.List(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if int(session.Cursor) < len(slots) {
		return slots[session.Cursor], nil
	}

	if session.ScriptedCount >= session.Config.TotalPlannedQuestions {
		return nil, ErrNoMoreQuestions
	}

	start := time.Now()
	spec, err := s.provider.ScriptedQuestion(ctx, session, session.ScriptedCount)
	if err != nil {
		providerCalls.WithLabelValues("scripted", "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	providerCalls.WithLabelValues("scripted", "ok").Observe(time.Since(start).Seconds())

	slot := &domain.QuestionSlot{
		SessionID:        session.ID,
		Ordinal:          int32(len(slots)),
		QuestionText:     spec.Text,
		Category:         spec.Category,
		TimeLimitSeconds: questionTimeLimit(session, spec),
		State:            domain.SlotStatePending,
		CreatedAt:        time.Now(),
	}
	if err := s.repo.Slot.Append(ctx, slot); err != nil {
		return nil, err
	}
	session.ScriptedCount++
	return slot, nil
}

// materializeScripted eagerly fetches every planned scripted question. Used
// for practice sessions where the full script is fixed up front. All
// provider calls complete before the first write, so a provider failure
// leaves nothing behind.
func (s *sequencer) materializeScripted(ctx context.Context, session *domain.Session) error {
	specs := make([]*domain.QuestionSpec, 0, session.Config.TotalPlannedQuestions)
	for i := session.ScriptedCount; i < session.Config.TotalPlannedQuestions; i++ {
		start := time.Now()
		spec, err := s.provider.ScriptedQuestion(ctx, session, i)
		if err != nil {
			providerCalls.WithLabelValues("scripted", "error").Observe(time.Since(start).Seconds())
			return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		providerCalls.WithLabelValues("scripted", "ok").Observe(time.Since(start).Seconds())
		specs = append(specs, spec)
	}

	for _, spec := range specs {
		slot := &domain.QuestionSlot{
			SessionID:        session.ID,
			Ordinal:          session.ScriptedCount,
			QuestionText:     spec.Text,
			Category:         spec.Category,
			TimeLimitSeconds: questionTimeLimit(session, spec),
			State:            domain.SlotStatePending,
			CreatedAt:        time.Now(),
		}
		if err := s.repo.Slot.Append(ctx, slot); err != nil {
			return err
		}
		session.ScriptedCount++
	}
	return nil
}

// insertFollowUp splices a follow-up slot directly after its parent. The
// depth bound is enforced here: a follow-up that would exceed
// MaxFollowUpDepth is silently not created.
func (s *sequencer) insertFollowUp(ctx context.Context, session *domain.Session, parent *domain.QuestionSlot, spec *domain.QuestionSpec) (*domain.QuestionSlot, error) {
	depth := parent.FollowUpDepth + 1
	if depth > session.Config.MaxFollowUpDepth {
		return nil, nil
	}
	parentOrdinal := parent.Ordinal
	slot := &domain.QuestionSlot{
		SessionID:        session.ID,
		Ordinal:          parent.Ordinal + 1,
		ParentOrdinal:    &parentOrdinal,
		FollowUpDepth:    depth,
		QuestionText:     spec.Text,
		Category:         spec.Category,
		TimeLimitSeconds: questionTimeLimit(session, spec),
		State:            domain.SlotStatePending,
		CreatedAt:        time.Now(),
	}
	if err := s.repo.Slot.Insert(ctx, slot); err != nil {
		return nil, err
	}
	return slot, nil
}

func questionTimeLimit(session *domain.Session, spec *domain.QuestionSpec) int32 {
	if spec.TimeLimitSeconds > 0 {
		return spec.TimeLimitSeconds
	}
	return session.Config.TimeLimitSeconds
}
