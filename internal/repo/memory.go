package repo

import (
	"context"
	gosort "sort"
	"sync"

	"orianna/internal/domain"
)

// memoryStore backs tests and local runs with map-based storage. Values are
// cloned on the way in and out so callers never share memory with the store.
type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	slots    map[string][]*domain.QuestionSlot
	answers  map[string]map[int32]*domain.Answer
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		sessions: make(map[string]*domain.Session),
		slots:    make(map[string][]*domain.QuestionSlot),
		answers:  make(map[string]map[int32]*domain.Answer),
	}
}

type memorySessionRepo struct {
	store *memoryStore
}

func (r *memorySessionRepo) Create(ctx context.Context, s *domain.Session) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.sessions[s.ID] = s.Clone()
	return nil
}

func (r *memorySessionRepo) Update(ctx context.Context, s *domain.Session) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	stored, ok := r.store.sessions[s.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != s.Version {
		return ErrVersionConflict
	}
	s.Version++
	r.store.sessions[s.ID] = s.Clone()
	return nil
}

func (r *memorySessionRepo) Get(ctx context.Context, id string) (*domain.Session, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	s, ok := r.store.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (r *memorySessionRepo) List(ctx context.Context, userID uint64, q ListQuery) ([]*domain.Session, int32, int32, error) {
	if q.PageIndex == 0 {
		q.PageIndex = 1
	}
	if q.PageSize == 0 {
		q.PageSize = 10
	}
	r.store.mu.RLock()
	var all []*domain.Session
	for _, s := range r.store.sessions {
		if s.UserID == userID {
			all = append(all, s.Clone())
		}
	}
	r.store.mu.RUnlock()

	gosort.Slice(all, func(i, j int) bool {
		for _, m := range q.Sorts {
			switch m.Field {
			case "updated_at":
				if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
					if m.Ascending {
						return all[i].UpdatedAt.Before(all[j].UpdatedAt)
					}
					return all[i].UpdatedAt.After(all[j].UpdatedAt)
				}
			case "status":
				if all[i].Status != all[j].Status {
					if m.Ascending {
						return all[i].Status < all[j].Status
					}
					return all[i].Status > all[j].Status
				}
			case "progress_percent":
				if all[i].ProgressPercent != all[j].ProgressPercent {
					if m.Ascending {
						return all[i].ProgressPercent < all[j].ProgressPercent
					}
					return all[i].ProgressPercent > all[j].ProgressPercent
				}
			default:
				if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
					if m.Ascending {
						return all[i].CreatedAt.Before(all[j].CreatedAt)
					}
					return all[i].CreatedAt.After(all[j].CreatedAt)
				}
			}
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	totalCount := int32(len(all))
	if totalCount == 0 {
		return nil, 0, 0, nil
	}
	totalPage := (totalCount-1)/q.PageSize + 1
	start := (q.PageIndex - 1) * q.PageSize
	if start >= totalCount {
		return nil, totalCount, totalPage, nil
	}
	end := start + q.PageSize
	if end > totalCount {
		end = totalCount
	}
	return all[start:end], totalCount, totalPage, nil
}

func (r *memorySessionRepo) Exists(ctx context.Context, id string) (bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	_, ok := r.store.sessions[id]
	return ok, nil
}

type memorySlotRepo struct {
	store *memoryStore
}

func (r *memorySlotRepo) Append(ctx context.Context, slot *domain.QuestionSlot) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.slots[slot.SessionID] = append(r.store.slots[slot.SessionID], slot.Clone())
	return nil
}

func (r *memorySlotRepo) Insert(ctx context.Context, slot *domain.QuestionSlot) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	slots := r.store.slots[slot.SessionID]
	for _, existing := range slots {
		if existing.Ordinal >= slot.Ordinal {
			existing.Ordinal++
		}
	}
	slots = append(slots, slot.Clone())
	gosort.Slice(slots, func(i, j int) bool { return slots[i].Ordinal < slots[j].Ordinal })
	r.store.slots[slot.SessionID] = slots
	return nil
}

func (r *memorySlotRepo) Get(ctx context.Context, sessionID string, ordinal int32) (*domain.QuestionSlot, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, slot := range r.store.slots[sessionID] {
		if slot.Ordinal == ordinal {
			return slot.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (r *memorySlotRepo) List(ctx context.Context, sessionID string) ([]*domain.QuestionSlot, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	slots := r.store.slots[sessionID]
	out := make([]*domain.QuestionSlot, 0, len(slots))
	for _, slot := range slots {
		out = append(out, slot.Clone())
	}
	return out, nil
}

func (r *memorySlotRepo) UpdateState(ctx context.Context, sessionID string, ordinal int32, state domain.SlotState) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, slot := range r.store.slots[sessionID] {
		if slot.Ordinal == ordinal {
			slot.State = state
			return nil
		}
	}
	return ErrNotFound
}

func (r *memorySlotRepo) SaveAnswer(ctx context.Context, ans *domain.Answer) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	byOrdinal, ok := r.store.answers[ans.SessionID]
	if !ok {
		byOrdinal = make(map[int32]*domain.Answer)
		r.store.answers[ans.SessionID] = byOrdinal
	}
	byOrdinal[ans.SlotOrdinal] = ans.Clone()
	return nil
}

func (r *memorySlotRepo) GetAnswer(ctx context.Context, sessionID string, ordinal int32) (*domain.Answer, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	ans, ok := r.store.answers[sessionID][ordinal]
	if !ok {
		return nil, ErrNotFound
	}
	return ans.Clone(), nil
}

func (r *memorySlotRepo) ListAnswers(ctx context.Context, sessionID string) ([]*domain.Answer, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	byOrdinal := r.store.answers[sessionID]
	out := make([]*domain.Answer, 0, len(byOrdinal))
	for _, ans := range byOrdinal {
		out = append(out, ans.Clone())
	}
	gosort.Slice(out, func(i, j int) bool { return out[i].SlotOrdinal < out[j].SlotOrdinal })
	return out, nil
}

func (r *memorySlotRepo) SetEvaluation(ctx context.Context, sessionID string, ordinal int32, ev *domain.Evaluation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	ans, ok := r.store.answers[sessionID][ordinal]
	if !ok {
		return ErrNotFound
	}
	if ans.Evaluation != nil {
		return nil
	}
	ans.Evaluation = ev.Clone()
	ans.PendingEvaluation = false
	return nil
}

func (r *memorySlotRepo) ListPendingEvaluations(ctx context.Context, limit int32) ([]*domain.Answer, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Answer
	for _, byOrdinal := range r.store.answers {
		for _, ans := range byOrdinal {
			if ans.PendingEvaluation {
				out = append(out, ans.Clone())
			}
		}
	}
	gosort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	if limit > 0 && int32(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}
