package repo

import (
	"context"
	stdsql "database/sql"
	"encoding/json"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"orianna/internal/domain"
)

const (
	slotTable   = "question_slots"
	answerTable = "answers"
)

var slotColumns = []string{
	"session_id", "ordinal", "parent_ordinal", "follow_up_depth",
	"question_text", "category", "time_limit_seconds", "state", "created_at",
}

var answerColumns = []string{
	"session_id", "slot_ordinal", "text", "payload_hash",
	"time_taken_seconds", "submitted_at", "pending_evaluation", "evaluation",
}

type slotRepo struct {
	drv *entsql.Driver
}

func newSlotRepo(drv *entsql.Driver) ISlot {
	return &slotRepo{drv: drv}
}

func (r *slotRepo) Append(ctx context.Context, slot *domain.QuestionSlot) error {
	query, args := insertSlotQuery(slot)
	var res stdsql.Result
	return r.drv.Exec(ctx, query, args, &res)
}

func (r *slotRepo) Insert(ctx context.Context, slot *domain.QuestionSlot) error {
	tx, err := r.drv.Tx(ctx)
	if err != nil {
		return err
	}
	// Shift from the highest ordinal down so the unique (session_id, ordinal)
	// key never collides mid-update. Slots at or after the insertion point
	// are still pending, so the answers table needs no shifting.
	shiftQuery, shiftArgs := entsql.Dialect(dialect.MySQL).
		Update(slotTable).
		Add("ordinal", 1).
		Where(entsql.And(
			entsql.EQ("session_id", slot.SessionID),
			entsql.GTE("ordinal", slot.Ordinal),
		)).
		OrderBy(entsql.Desc("ordinal")).
		Query()
	var res stdsql.Result
	if err := tx.Exec(ctx, shiftQuery, shiftArgs, &res); err != nil {
		tx.Rollback()
		return err
	}
	query, args := insertSlotQuery(slot)
	if err := tx.Exec(ctx, query, args, &res); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *slotRepo) Get(ctx context.Context, sessionID string, ordinal int32) (*domain.QuestionSlot, error) {
	query, args := entsql.Dialect(dialect.MySQL).
		Select(slotColumns...).
		From(entsql.Table(slotTable)).
		Where(entsql.And(
			entsql.EQ("session_id", sessionID),
			entsql.EQ("ordinal", ordinal),
		)).
		Query()
	var rows entsql.Rows
	if err := r.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanSlot(&rows)
}

func (r *slotRepo) List(ctx context.Context, sessionID string) ([]*domain.QuestionSlot, error) {
	query, args := entsql.Dialect(dialect.MySQL).
		Select(slotColumns...).
		From(entsql.Table(slotTable)).
		Where(entsql.EQ("session_id", sessionID)).
		OrderBy(entsql.Asc("ordinal")).
		Query()
	var rows entsql.Rows
	if err := r.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	var slots []*domain.QuestionSlot
	for rows.Next() {
		slot, err := scanSlot(&rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

func (r *slotRepo) UpdateState(ctx context.Context, sessionID string, ordinal int32, state domain.SlotState) error {
	query, args := entsql.Dialect(dialect.MySQL).
		Update(slotTable).
		Set("state", int32(state)).
		Where(entsql.And(
			entsql.EQ("session_id", sessionID),
			entsql.EQ("ordinal", ordinal),
		)).
		Query()
	var res stdsql.Result
	return r.drv.Exec(ctx, query, args, &res)
}

func (r *slotRepo) SaveAnswer(ctx context.Context, ans *domain.Answer) error {
	var evaluation interface{}
	if ans.Evaluation != nil {
		raw, err := json.Marshal(ans.Evaluation)
		if err != nil {
			return err
		}
		evaluation = string(raw)
	}
	query, args := entsql.Dialect(dialect.MySQL).
		Insert(answerTable).
		Columns(answerColumns...).
		Values(
			ans.SessionID, ans.SlotOrdinal, ans.Text, ans.PayloadHash,
			ans.TimeTakenSeconds, ans.SubmittedAt, ans.PendingEvaluation, evaluation,
		).
		Query()
	var res stdsql.Result
	return r.drv.Exec(ctx, query, args, &res)
}

func (r *slotRepo) GetAnswer(ctx context.Context, sessionID string, ordinal int32) (*domain.Answer, error) {
	query, args := entsql.Dialect(dialect.MySQL).
		Select(answerColumns...).
		From(entsql.Table(answerTable)).
		Where(entsql.And(
			entsql.EQ("session_id", sessionID),
			entsql.EQ("slot_ordinal", ordinal),
		)).
		Query()
	var rows entsql.Rows
	if err := r.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanAnswer(&rows)
}

func (r *slotRepo) ListAnswers(ctx context.Context, sessionID string) ([]*domain.Answer, error) {
	query, args := entsql.Dialect(dialect.MySQL).
		Select(answerColumns...).
		From(entsql.Table(answerTable)).
		Where(entsql.EQ("session_id", sessionID)).
		OrderBy(entsql.Asc("slot_ordinal")).
		Query()
	var rows entsql.Rows
	if err := r.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	var answers []*domain.Answer
	for rows.Next() {
		ans, err := scanAnswer(&rows)
		if err != nil {
			return nil, err
		}
		answers = append(answers, ans)
	}
	return answers, rows.Err()
}

func (r *slotRepo) SetEvaluation(ctx context.Context, sessionID string, ordinal int32, ev *domain.Evaluation) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	query, args := entsql.Dialect(dialect.MySQL).
		Update(answerTable).
		Set("evaluation", string(raw)).
		Set("pending_evaluation", false).
		Where(entsql.And(
			entsql.EQ("session_id", sessionID),
			entsql.EQ("slot_ordinal", ordinal),
			entsql.IsNull("evaluation"),
		)).
		Query()
	var res stdsql.Result
	if err := r.drv.Exec(ctx, query, args, &res); err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either already evaluated (idempotent no-op) or the answer is gone.
		if _, err := r.GetAnswer(ctx, sessionID, ordinal); err != nil {
			return err
		}
	}
	return nil
}

func (r *slotRepo) ListPendingEvaluations(ctx context.Context, limit int32) ([]*domain.Answer, error) {
	query, args := entsql.Dialect(dialect.MySQL).
		Select(answerColumns...).
		From(entsql.Table(answerTable)).
		Where(entsql.EQ("pending_evaluation", true)).
		OrderBy(entsql.Asc("submitted_at")).
		Limit(int(limit)).
		Query()
	var rows entsql.Rows
	if err := r.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	var answers []*domain.Answer
	for rows.Next() {
		ans, err := scanAnswer(&rows)
		if err != nil {
			return nil, err
		}
		answers = append(answers, ans)
	}
	return answers, rows.Err()
}

func insertSlotQuery(slot *domain.QuestionSlot) (string, []interface{}) {
	var parent interface{}
	if slot.ParentOrdinal != nil {
		parent = *slot.ParentOrdinal
	}
	return entsql.Dialect(dialect.MySQL).
		Insert(slotTable).
		Columns(slotColumns...).
		Values(
			slot.SessionID, slot.Ordinal, parent, slot.FollowUpDepth,
			slot.QuestionText, slot.Category, slot.TimeLimitSeconds,
			int32(slot.State), slot.CreatedAt,
		).
		Query()
}

func scanSlot(rows *entsql.Rows) (*domain.QuestionSlot, error) {
	var (
		slot   domain.QuestionSlot
		parent stdsql.NullInt32
		state  int32
	)
	err := rows.Scan(
		&slot.SessionID, &slot.Ordinal, &parent, &slot.FollowUpDepth,
		&slot.QuestionText, &slot.Category, &slot.TimeLimitSeconds,
		&state, &slot.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if parent.Valid {
		p := parent.Int32
		slot.ParentOrdinal = &p
	}
	slot.State = domain.SlotState(state)
	return &slot, nil
}

func scanAnswer(rows *entsql.Rows) (*domain.Answer, error) {
	var (
		ans        domain.Answer
		evaluation stdsql.NullString
	)
	err := rows.Scan(
		&ans.SessionID, &ans.SlotOrdinal, &ans.Text, &ans.PayloadHash,
		&ans.TimeTakenSeconds, &ans.SubmittedAt, &ans.PendingEvaluation, &evaluation,
	)
	if err != nil {
		return nil, err
	}
	if evaluation.Valid {
		ans.Evaluation = &domain.Evaluation{}
		if err := json.Unmarshal([]byte(evaluation.String), ans.Evaluation); err != nil {
			return nil, err
		}
	}
	return &ans, nil
}
