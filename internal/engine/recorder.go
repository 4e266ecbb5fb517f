package engine

import (
	"context"
	"errors"
	"time"

	"orianna/internal/domain"
	"orianna/internal/repo"
)

// recorder enforces answer ordering and idempotency. All checks run against
// the snapshot read under the session lock, before any write.
type recorder struct {
	repo *repo.Repository
}

// record persists the answer for the slot at the given ordinal. A retry
// carrying an identical payload returns the stored answer with duplicate set;
// a different payload against a resolved slot is rejected.
func (r *recorder) record(ctx context.Context, session *domain.Session, ordinal int32, text string, timeTakenSeconds int32) (ans *domain.Answer, slot *domain.QuestionSlot, duplicate bool, err error) {
	slot, err = r.repo.Slot.Get(ctx, session.ID, ordinal)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil, false, ErrNotFound
		}
		return nil, nil, false, err
	}

	if slot.State.Resolved() {
		existing, err := r.repo.Slot.GetAnswer(ctx, session.ID, ordinal)
		if err == nil && existing.PayloadHash == domain.HashPayload(text) {
			return existing, slot, true, nil
		}
		return nil, nil, false, ErrAlreadyAnswered
	}

	if ordinal != session.Cursor {
		return nil, nil, false, ErrOutOfOrderAnswer
	}

	ans = &domain.Answer{
		SessionID:         session.ID,
		SlotOrdinal:       ordinal,
		Text:              text,
		PayloadHash:       domain.HashPayload(text),
		TimeTakenSeconds:  timeTakenSeconds,
		SubmittedAt:       time.Now(),
		PendingEvaluation: true,
	}
	if err := r.repo.Slot.SaveAnswer(ctx, ans); err != nil {
		return nil, nil, false, err
	}
	if err := r.repo.Slot.UpdateState(ctx, session.ID, ordinal, domain.SlotStateAnswered); err != nil {
		return nil, nil, false, err
	}
	slot.State = domain.SlotStateAnswered
	evaluationsPending.Inc()
	answersSubmitted.Inc()
	return ans, slot, false, nil
}

// skip resolves the slot at the cursor without an answer.
func (r *recorder) skip(ctx context.Context, session *domain.Session, ordinal int32) (*domain.QuestionSlot, error) {
	slot, err := r.repo.Slot.Get(ctx, session.ID, ordinal)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if slot.State.Resolved() {
		return nil, ErrAlreadyAnswered
	}
	if ordinal != session.Cursor {
		return nil, ErrOutOfOrderAnswer
	}
	if err := r.repo.Slot.UpdateState(ctx, session.ID, ordinal, domain.SlotStateSkipped); err != nil {
		return nil, err
	}
	slot.State = domain.SlotStateSkipped
	return slot, nil
}
