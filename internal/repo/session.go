package repo

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"orianna/internal/domain"
)

const sessionTable = "sessions"

var sessionColumns = []string{
	"id", "user_id", "kind", "status", "config",
	"cursor", "scripted_count", "progress_percent", "summary",
	"started_at", "last_activity_at", "completed_at",
	"version", "created_at", "updated_at",
}

// SessionSortFields whitelists the request sort fields for history listings.
var SessionSortFields = map[string]string{
	"createdAt":       "created_at",
	"updatedAt":       "updated_at",
	"status":          "status",
	"progressPercent": "progress_percent",
}

type sessionRepo struct {
	drv *entsql.Driver
}

func newSessionRepo(drv *entsql.Driver) ISession {
	return &sessionRepo{drv: drv}
}

func (r *sessionRepo) Create(ctx context.Context, s *domain.Session) error {
	config, err := json.Marshal(s.Config)
	if err != nil {
		return err
	}
	query, args := entsql.Dialect(dialect.MySQL).
		Insert(sessionTable).
		Columns(sessionColumns...).
		Values(
			s.ID, s.UserID, int32(s.Kind), int32(s.Status), string(config),
			s.Cursor, s.ScriptedCount, s.ProgressPercent, nil,
			s.StartedAt, s.LastActivityAt, nil,
			s.Version, s.CreatedAt, s.UpdatedAt,
		).
		Query()
	var res stdsql.Result
	return r.drv.Exec(ctx, query, args, &res)
}

func (r *sessionRepo) Update(ctx context.Context, s *domain.Session) error {
	var summary interface{}
	if s.Summary != nil {
		raw, err := json.Marshal(s.Summary)
		if err != nil {
			return err
		}
		summary = string(raw)
	}
	var completedAt interface{}
	if s.CompletedAt != nil {
		completedAt = *s.CompletedAt
	}
	query, args := entsql.Dialect(dialect.MySQL).
		Update(sessionTable).
		Set("status", int32(s.Status)).
		Set("cursor", s.Cursor).
		Set("scripted_count", s.ScriptedCount).
		Set("progress_percent", s.ProgressPercent).
		Set("summary", summary).
		Set("last_activity_at", s.LastActivityAt).
		Set("completed_at", completedAt).
		Set("version", s.Version+1).
		Set("updated_at", time.Now()).
		Where(entsql.And(
			entsql.EQ("id", s.ID),
			entsql.EQ("version", s.Version),
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
		exists, err := r.Exists(ctx, s.ID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	s.Version++
	return nil
}

func (r *sessionRepo) Get(ctx context.Context, id string) (*domain.Session, error) {
	query, args := entsql.Dialect(dialect.MySQL).
		Select(sessionColumns...).
		From(entsql.Table(sessionTable)).
		Where(entsql.EQ("id", id)).
		Query()
	var rows entsql.Rows
	if err := r.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanSession(&rows)
}

func (r *sessionRepo) List(ctx context.Context, userID uint64, q ListQuery) ([]*domain.Session, int32, int32, error) {
	if q.PageIndex == 0 {
		q.PageIndex = 1
	}
	if q.PageSize == 0 {
		q.PageSize = 10
	}

	countQuery, countArgs := entsql.Dialect(dialect.MySQL).
		Select(entsql.Count("*")).
		From(entsql.Table(sessionTable)).
		Where(entsql.EQ("user_id", userID)).
		Query()
	var rows entsql.Rows
	if err := r.drv.Query(ctx, countQuery, countArgs, &rows); err != nil {
		return nil, 0, 0, err
	}
	var totalCount int32
	if rows.Next() {
		if err := rows.Scan(&totalCount); err != nil {
			rows.Close()
			return nil, 0, 0, err
		}
	}
	rows.Close()
	if totalCount == 0 {
		return nil, 0, 0, nil
	}
	totalPage := (totalCount-1)/q.PageSize + 1

	sb := entsql.Dialect(dialect.MySQL).
		Select(sessionColumns...).
		From(entsql.Table(sessionTable)).
		Where(entsql.EQ("user_id", userID))
	if len(q.Sorts) == 0 {
		sb.OrderBy(entsql.Desc("created_at"))
	}
	for _, m := range q.Sorts {
		if m.Ascending {
			sb.OrderBy(entsql.Asc(m.Field))
		} else {
			sb.OrderBy(entsql.Desc(m.Field))
		}
	}
	query, args := sb.
		Offset(int(q.PageIndex-1) * int(q.PageSize)).
		Limit(int(q.PageSize)).
		Query()

	var pageRows entsql.Rows
	if err := r.drv.Query(ctx, query, args, &pageRows); err != nil {
		return nil, 0, 0, err
	}
	defer pageRows.Close()

	var sessions []*domain.Session
	for pageRows.Next() {
		s, err := scanSession(&pageRows)
		if err != nil {
			return nil, 0, 0, err
		}
		sessions = append(sessions, s)
	}
	return sessions, totalCount, totalPage, pageRows.Err()
}

func (r *sessionRepo) Exists(ctx context.Context, id string) (bool, error) {
	query, args := entsql.Dialect(dialect.MySQL).
		Select(entsql.Count("*")).
		From(entsql.Table(sessionTable)).
		Where(entsql.EQ("id", id)).
		Query()
	var rows entsql.Rows
	if err := r.drv.Query(ctx, query, args, &rows); err != nil {
		return false, err
	}
	defer rows.Close()
	var count int
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return false, err
		}
	}
	return count > 0, nil
}

func scanSession(rows *entsql.Rows) (*domain.Session, error) {
	var (
		s           domain.Session
		kind        int32
		status      int32
		config      string
		summary     stdsql.NullString
		completedAt stdsql.NullTime
	)
	err := rows.Scan(
		&s.ID, &s.UserID, &kind, &status, &config,
		&s.Cursor, &s.ScriptedCount, &s.ProgressPercent, &summary,
		&s.StartedAt, &s.LastActivityAt, &completedAt,
		&s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Kind = domain.SessionKind(kind)
	s.Status = domain.SessionStatus(status)
	if err := json.Unmarshal([]byte(config), &s.Config); err != nil {
		return nil, err
	}
	if summary.Valid {
		s.Summary = &domain.ScoreSummary{}
		if err := json.Unmarshal([]byte(summary.String), s.Summary); err != nil {
			return nil, err
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		s.CompletedAt = &t
	}
	return &s, nil
}
