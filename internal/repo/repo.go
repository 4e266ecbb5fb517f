package repo

import (
	"context"
	"errors"

	entsql "entgo.io/ent/dialect/sql"

	"orianna/internal/domain"
	"orianna/internal/utils/sort"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when an optimistic update lost the race.
	ErrVersionConflict = errors.New("version conflict")
)

// ListQuery carries pagination and sorting for history listings.
type ListQuery struct {
	PageIndex int32
	PageSize  int32
	Sorts     []sort.Method
}

// ISession persists sessions.
type ISession interface {
	Create(ctx context.Context, s *domain.Session) error
	// Update writes the session guarded by its Version column and bumps the
	// version on success. Returns ErrVersionConflict when the stored version
	// moved on.
	Update(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	List(ctx context.Context, userID uint64, q ListQuery) ([]*domain.Session, int32, int32, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// ISlot persists question slots and their answers.
type ISlot interface {
	Append(ctx context.Context, slot *domain.QuestionSlot) error
	// Insert places a slot at its ordinal, shifting existing slots at that
	// ordinal and after down by one. Runs in a transaction.
	Insert(ctx context.Context, slot *domain.QuestionSlot) error
	Get(ctx context.Context, sessionID string, ordinal int32) (*domain.QuestionSlot, error)
	List(ctx context.Context, sessionID string) ([]*domain.QuestionSlot, error)
	UpdateState(ctx context.Context, sessionID string, ordinal int32, state domain.SlotState) error

	SaveAnswer(ctx context.Context, ans *domain.Answer) error
	GetAnswer(ctx context.Context, sessionID string, ordinal int32) (*domain.Answer, error)
	ListAnswers(ctx context.Context, sessionID string) ([]*domain.Answer, error)
	// SetEvaluation attaches the evaluation and clears the pending flag. A
	// slot that already carries an evaluation is left untouched.
	SetEvaluation(ctx context.Context, sessionID string, ordinal int32, ev *domain.Evaluation) error
	ListPendingEvaluations(ctx context.Context, limit int32) ([]*domain.Answer, error)
}

// Repository bundles the stores handed to the engine.
type Repository struct {
	Session ISession
	Slot    ISlot
}

// New builds the MySQL-backed repository on the shared driver.
func New(drv *entsql.Driver) *Repository {
	return &Repository{
		Session: newSessionRepo(drv),
		Slot:    newSlotRepo(drv),
	}
}

// NewMemory builds the in-memory repository used by tests and local runs.
func NewMemory() *Repository {
	store := newMemoryStore()
	return &Repository{
		Session: &memorySessionRepo{store: store},
		Slot:    &memorySlotRepo{store: store},
	}
}
