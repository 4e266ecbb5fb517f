package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"orianna/internal/domain"
	"orianna/internal/repo"
	"orianna/internal/service"
	"orianna/internal/utils/cache"
	"orianna/internal/utils/checker"
	"orianna/internal/utils/sse"
	logging "orianna/pkg/logger/pkg"
	rabbit "orianna/pkg/rabbit/pkg"
)

// Engine is the session orchestrator. Every mutation of a session runs under
// that session's lock; components below it (sequencer, recorder, aggregator)
// assume the lock is held.
type Engine struct {
	repo     *repo.Repository
	provider service.QuestionProvider
	cache    cache.Cache
	rabbit   rabbit.Rabbit
	pool     *WorkerPool
	timers   *timerManager
	locks    lockManager
	seq      sequencer
	rec      recorder
	feedback singleflight.Group
	logger   *zap.Logger

	defaultTotalQuestions int32
	defaultMaxDepth       int32
	defaultTimeLimit      int32
	pendingBatch          int32
}

func New(r *repo.Repository, provider service.QuestionProvider, c cache.Cache, rb rabbit.Rabbit, logger *zap.Logger) *Engine {
	workers := viper.GetInt("engine.workers")
	if workers == 0 {
		workers = 4
	}
	queueSize := viper.GetInt("engine.queue_size")
	if queueSize == 0 {
		queueSize = 64
	}
	maxTaskWait := viper.GetInt("engine.max_task_wait_time")
	if maxTaskWait == 0 {
		maxTaskWait = 2
	}

	e := &Engine{
		repo:                  r,
		provider:              provider,
		cache:                 c,
		rabbit:                rb,
		pool:                  NewWorkerPool(workers, queueSize, maxTaskWait, logger),
		timers:                newTimerManager(logger),
		seq:                   sequencer{repo: r, provider: provider},
		rec:                   recorder{repo: r},
		logger:                logger,
		defaultTotalQuestions: viper.GetInt32("engine.default_total_questions"),
		defaultMaxDepth:       viper.GetInt32("engine.default_max_follow_up_depth"),
		defaultTimeLimit:      viper.GetInt32("engine.default_time_limit_seconds"),
		pendingBatch:          viper.GetInt32("engine.pending_eval_batch"),
	}
	if e.defaultTotalQuestions == 0 {
		e.defaultTotalQuestions = 5
	}
	if e.pendingBatch == 0 {
		e.pendingBatch = 50
	}
	return e
}

func (e *Engine) Start() {
	e.pool.Start()
}

func (e *Engine) Shutdown() {
	e.timers.shutdown()
	e.pool.Stop()
}

// PoolMetrics exposes worker pool counters to the ops endpoint.
func (e *Engine) PoolMetrics() map[string]interface{} {
	return e.pool.Metrics()
}

// StartSessionInput carries the immutable session parameters.
type StartSessionInput struct {
	Kind   domain.SessionKind
	Config domain.SessionConfig
}

// QuestionView is the result of fetching the next question. Done marks a
// session that ran out of questions and auto-completed.
type QuestionView struct {
	Slot             *domain.QuestionSlot
	RemainingSeconds int32
	Done             bool
	Session          *domain.Session
}

// SubmitResult bundles everything the caller learns from a submission.
type SubmitResult struct {
	Answer    *domain.Answer
	Duplicate bool
	FollowUp  *domain.QuestionSlot
	Progress  *domain.Progress
	Completed bool
	Session   *domain.Session
}

// SkipResult reports a resolved skip.
type SkipResult struct {
	Slot      *domain.QuestionSlot
	Progress  *domain.Progress
	Completed bool
	Session   *domain.Session
}

// SessionDetail is the full per-session serialization: the session with all
// its slots and answers in ordinal order.
type SessionDetail struct {
	Session  *domain.Session
	Slots    []*domain.QuestionSlot
	Answers  []*domain.Answer
	Progress *domain.Progress
}

// StartSession creates a session in CREATED. Practice sessions materialize
// their whole script up front, so a provider outage fails the start without
// leaving a half-built session behind.
func (e *Engine) StartSession(ctx context.Context, userID uint64, in StartSessionInput) (*domain.Session, error) {
	if in.Kind != domain.SessionKindPractice && in.Kind != domain.SessionKindProfileBuilding {
		return nil, status.Errorf(codes.InvalidArgument, "unknown session kind")
	}
	cfg := in.Config
	if cfg.TotalPlannedQuestions <= 0 {
		cfg.TotalPlannedQuestions = e.defaultTotalQuestions
	}
	if cfg.MaxFollowUpDepth < 0 {
		cfg.MaxFollowUpDepth = 0
	}
	if cfg.MaxFollowUpDepth == 0 && in.Kind == domain.SessionKindPractice {
		cfg.MaxFollowUpDepth = e.defaultMaxDepth
	}
	if cfg.TimeLimitSeconds == 0 {
		cfg.TimeLimitSeconds = e.defaultTimeLimit
	}

	now := time.Now()
	session := &domain.Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		Kind:           in.Kind,
		Status:         domain.SessionStatusCreated,
		Config:         cfg,
		StartedAt:      now,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if in.Kind == domain.SessionKindPractice {
		if err := e.seq.materializeScripted(ctx, session); err != nil {
			return nil, err
		}
	}

	if err := e.repo.Session.Create(ctx, session); err != nil {
		return nil, err
	}
	e.cache.SetSession(ctx, session)
	sessionsStarted.WithLabelValues(session.Kind.String()).Inc()
	e.publish(ctx, map[string]interface{}{
		"type":      "session.started",
		"sessionId": session.ID,
		"userId":    session.UserID,
		"kind":      session.Kind.String(),
	})
	return session.Clone(), nil
}

// GetNextQuestion returns the slot at the cursor, materializing it when
// needed. Refetching without answering returns the same slot again.
func (e *Engine) GetNextQuestion(ctx context.Context, userID uint64, sessionID string) (*QuestionView, error) {
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	s, err := e.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	switch s.Status {
	case domain.SessionStatusCreated:
		if err := Transition(s, domain.SessionStatusInProgress); err != nil {
			return nil, withSnapshot(err, s)
		}
	case domain.SessionStatusInProgress:
	default:
		return nil, withSnapshot(ErrInvalidStateTransition, s)
	}

	slot, err := e.seq.next(ctx, s)
	if errors.Is(err, ErrNoMoreQuestions) {
		slots, lerr := e.repo.Slot.List(ctx, s.ID)
		if lerr != nil {
			return nil, lerr
		}
		if _, cerr := e.finishIfDone(ctx, s, slots); cerr != nil {
			return nil, cerr
		}
		if perr := e.persist(ctx, s); perr != nil {
			return nil, perr
		}
		return &QuestionView{Done: true, Session: s.Clone()}, nil
	}
	if err != nil {
		return nil, err
	}

	s.LastActivityAt = time.Now()
	if err := e.persist(ctx, s); err != nil {
		return nil, err
	}

	if slot.TimeLimitSeconds > 0 && e.timers.remaining(s.ID, slot.Ordinal) == 0 {
		e.timers.start(s.ID, slot.Ordinal, time.Duration(slot.TimeLimitSeconds)*time.Second, e.autoSkip)
	}
	if s.Kind == domain.SessionKindProfileBuilding {
		e.enqueuePrefetch(s.ID)
	}

	return &QuestionView{
		Slot:             slot,
		RemainingSeconds: int32(e.timers.remaining(s.ID, slot.Ordinal).Seconds()),
		Session:          s.Clone(),
	}, nil
}

// SubmitAnswer records an answer for the slot at the cursor. Practice
// answers are evaluated inline; profile answers are evaluated in the
// background. An evaluation failure never loses the recorded answer.
func (e *Engine) SubmitAnswer(ctx context.Context, userID uint64, sessionID string, ordinal int32, text string, timeTakenSeconds int32) (*SubmitResult, error) {
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	s, err := e.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	switch s.Status {
	case domain.SessionStatusCreated:
		// Answering the first question starts the session, same as a
		// first getNextQuestion would.
		if err := Transition(s, domain.SessionStatusInProgress); err != nil {
			return nil, withSnapshot(err, s)
		}
	case domain.SessionStatusInProgress:
	default:
		return nil, withSnapshot(ErrInvalidStateTransition, s)
	}

	ans, slot, duplicate, err := e.rec.record(ctx, s, ordinal, text, timeTakenSeconds)
	if err != nil {
		return nil, withSnapshot(err, s)
	}
	if duplicate {
		slots, lerr := e.repo.Slot.List(ctx, s.ID)
		if lerr != nil {
			return nil, lerr
		}
		return &SubmitResult{
			Answer:    ans,
			Duplicate: true,
			Progress:  computeProgress(s, slots),
			Session:   s.Clone(),
		}, nil
	}

	e.timers.cancel(s.ID, ordinal)
	s.Cursor = ordinal + 1
	s.LastActivityAt = time.Now()

	var followUp *domain.QuestionSlot
	if s.Kind == domain.SessionKindPractice {
		ev, evalErr := e.callEvaluate(ctx, s, slot, ans)
		if evalErr != nil {
			logging.Logger(ctx).Warn("evaluation failed, answer kept pending",
				zap.String("sessionID", s.ID),
				zap.Int32("ordinal", ordinal),
				zap.Error(evalErr))
		} else {
			followUp, err = e.attachEvaluation(ctx, s, slot, ans, ev)
			if err != nil {
				return nil, err
			}
		}
	} else {
		e.enqueueEvaluation(s.ID, ordinal)
	}

	slots, err := e.repo.Slot.List(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	progress := computeProgress(s, slots)
	s.ProgressPercent = progress.Percent

	completed := false
	if int(s.Cursor) >= len(slots) {
		completed, err = e.finishIfDone(ctx, s, slots)
		if err != nil {
			return nil, err
		}
	}

	if err := e.persist(ctx, s); err != nil {
		return nil, err
	}
	e.cache.SetProgress(ctx, s.ID, progress)

	return &SubmitResult{
		Answer:    ans,
		FollowUp:  followUp,
		Progress:  progress,
		Completed: completed,
		Session:   s.Clone(),
	}, nil
}

// SkipQuestion resolves the current slot without an answer.
func (e *Engine) SkipQuestion(ctx context.Context, userID uint64, sessionID string, ordinal int32) (*SkipResult, error) {
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	s, err := e.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	switch s.Status {
	case domain.SessionStatusCreated:
		if err := Transition(s, domain.SessionStatusInProgress); err != nil {
			return nil, withSnapshot(err, s)
		}
	case domain.SessionStatusInProgress:
	default:
		return nil, withSnapshot(ErrInvalidStateTransition, s)
	}

	slot, err := e.rec.skip(ctx, s, ordinal)
	if err != nil {
		return nil, withSnapshot(err, s)
	}
	questionsSkipped.WithLabelValues("user").Inc()
	e.timers.cancel(s.ID, ordinal)
	s.Cursor = ordinal + 1
	s.LastActivityAt = time.Now()

	slots, err := e.repo.Slot.List(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	progress := computeProgress(s, slots)
	s.ProgressPercent = progress.Percent

	completed := false
	if int(s.Cursor) >= len(slots) {
		completed, err = e.finishIfDone(ctx, s, slots)
		if err != nil {
			return nil, err
		}
	}

	if err := e.persist(ctx, s); err != nil {
		return nil, err
	}
	e.cache.SetProgress(ctx, s.ID, progress)

	return &SkipResult{Slot: slot, Progress: progress, Completed: completed, Session: s.Clone()}, nil
}

// PauseSession stops the clock. The cursor and all recorded answers stay put.
func (e *Engine) PauseSession(ctx context.Context, userID uint64, sessionID string) (*domain.Session, error) {
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	s, err := e.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := Transition(s, domain.SessionStatusPaused); err != nil {
		return nil, withSnapshot(err, s)
	}
	e.timers.cancel(s.ID, s.Cursor)
	if err := e.persist(ctx, s); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// ResumeSession continues a paused session exactly where it stopped.
func (e *Engine) ResumeSession(ctx context.Context, userID uint64, sessionID string) (*domain.Session, error) {
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	s, err := e.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status != domain.SessionStatusPaused {
		return nil, withSnapshot(ErrInvalidStateTransition, s)
	}
	if err := Transition(s, domain.SessionStatusInProgress); err != nil {
		return nil, withSnapshot(err, s)
	}
	if err := e.persist(ctx, s); err != nil {
		return nil, err
	}

	// Restart the countdown on the current question.
	if slot, serr := e.repo.Slot.Get(ctx, s.ID, s.Cursor); serr == nil &&
		slot.State == domain.SlotStatePending && slot.TimeLimitSeconds > 0 {
		e.timers.start(s.ID, slot.Ordinal, time.Duration(slot.TimeLimitSeconds)*time.Second, e.autoSkip)
	}
	return s.Clone(), nil
}

// CompleteSession finishes the session early. Unanswered slots are skipped,
// never deleted, so the record of what was asked survives.
func (e *Engine) CompleteSession(ctx context.Context, userID uint64, sessionID string) (*domain.Session, error) {
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	s, err := e.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(s.Status, domain.SessionStatusCompleted) {
		return nil, withSnapshot(ErrInvalidStateTransition, s)
	}

	slots, err := e.repo.Slot.List(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	for _, slot := range slots {
		if slot.State == domain.SlotStatePending {
			if err := e.repo.Slot.UpdateState(ctx, s.ID, slot.Ordinal, domain.SlotStateSkipped); err != nil {
				return nil, err
			}
			slot.State = domain.SlotStateSkipped
			questionsSkipped.WithLabelValues("completed_early").Inc()
		}
	}
	s.Cursor = int32(len(slots))

	if err := Transition(s, domain.SessionStatusCompleted); err != nil {
		return nil, err
	}
	progress := computeProgress(s, slots)
	s.ProgressPercent = progress.Percent
	e.timers.cleanupSession(s.ID)
	if err := e.persist(ctx, s); err != nil {
		return nil, err
	}
	e.cache.SetProgress(ctx, s.ID, progress)

	sessionsFinished.WithLabelValues(s.Status.String()).Inc()
	e.publish(ctx, map[string]interface{}{
		"type":      "session.completed",
		"sessionId": s.ID,
		"userId":    s.UserID,
	})
	sse.SendToUser(s.UserID, map[string]interface{}{
		"type":      "session.completed",
		"sessionId": s.ID,
	})
	return s.Clone(), nil
}

// CancelSession abandons the session. Abandoned sessions keep their data but
// accept no further operations.
func (e *Engine) CancelSession(ctx context.Context, userID uint64, sessionID string) (*domain.Session, error) {
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	s, err := e.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := Transition(s, domain.SessionStatusAbandoned); err != nil {
		return nil, withSnapshot(err, s)
	}
	e.timers.cleanupSession(s.ID)
	if err := e.persist(ctx, s); err != nil {
		return nil, err
	}
	e.cache.DropSession(ctx, s.ID)
	sessionsFinished.WithLabelValues(s.Status.String()).Inc()
	e.publish(ctx, map[string]interface{}{
		"type":      "session.abandoned",
		"sessionId": s.ID,
		"userId":    s.UserID,
	})
	return s.Clone(), nil
}

// GenerateFeedback computes the terminal score summary, moving the session
// from COMPLETED to EVALUATED. Repeated calls return the stored summary
// unchanged; concurrent calls share one computation.
func (e *Engine) GenerateFeedback(ctx context.Context, userID uint64, sessionID string) (*domain.ScoreSummary, *domain.Session, error) {
	// Ownership is checked before joining the flight so a coalesced result
	// is only ever shared between callers entitled to it.
	if _, err := e.load(ctx, userID, sessionID); err != nil {
		return nil, nil, err
	}
	v, err, _ := e.feedback.Do(sessionID, func() (interface{}, error) {
		return e.generateFeedback(ctx, userID, sessionID)
	})
	if err != nil {
		return nil, nil, err
	}
	s := v.(*domain.Session)
	return s.Summary.Clone(), s.Clone(), nil
}

func (e *Engine) generateFeedback(ctx context.Context, userID uint64, sessionID string) (*domain.Session, error) {
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	s, err := e.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status == domain.SessionStatusEvaluated {
		return s, nil
	}
	if s.Status != domain.SessionStatusCompleted {
		return nil, withSnapshot(ErrInvalidStateTransition, s)
	}

	answers, err := e.repo.Slot.ListAnswers(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	slots, err := e.repo.Slot.List(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	slotByOrdinal := make(map[int32]*domain.QuestionSlot, len(slots))
	for _, slot := range slots {
		slotByOrdinal[slot.Ordinal] = slot
	}

	// Best-effort retry for answers the background evaluation missed.
	// Answers still pending afterwards are left out of the aggregation
	// rather than blocking it; they are never counted as zero.
	for _, ans := range answers {
		if !ans.PendingEvaluation {
			continue
		}
		slot := slotByOrdinal[ans.SlotOrdinal]
		ev, evalErr := e.callEvaluate(ctx, s, slot, ans)
		if evalErr != nil {
			logging.Logger(ctx).Warn("evaluation retry failed, scoring without it",
				zap.String("sessionID", s.ID),
				zap.Int32("ordinal", ans.SlotOrdinal),
				zap.Error(evalErr))
			continue
		}
		if err := e.repo.Slot.SetEvaluation(ctx, s.ID, ans.SlotOrdinal, ev); err != nil {
			return nil, err
		}
		ans.Evaluation = ev
		ans.PendingEvaluation = false
		evaluationsPending.Dec()
	}

	s.Summary = buildSummary(s, slots, answers)
	if err := Transition(s, domain.SessionStatusEvaluated); err != nil {
		return nil, err
	}
	if err := e.persist(ctx, s); err != nil {
		return nil, err
	}
	e.publish(ctx, map[string]interface{}{
		"type":      "session.evaluated",
		"sessionId": s.ID,
		"userId":    s.UserID,
	})
	sse.SendToUser(s.UserID, map[string]interface{}{
		"type":      "session.evaluated",
		"sessionId": s.ID,
	})
	return s, nil
}

// GetProgress serves the dashboard progress view, cache first.
func (e *Engine) GetProgress(ctx context.Context, userID uint64, sessionID string) (*domain.Progress, error) {
	s, err := e.loadCached(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if p, ok := e.cache.GetProgress(ctx, sessionID); ok {
		return p, nil
	}
	slots, err := e.repo.Slot.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	progress := computeProgress(s, slots)
	e.cache.SetProgress(ctx, sessionID, progress)
	return progress, nil
}

// GetSession returns the full serialized session.
func (e *Engine) GetSession(ctx context.Context, userID uint64, sessionID string) (*SessionDetail, error) {
	s, err := e.loadCached(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	slots, err := e.repo.Slot.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	answers, err := e.repo.Slot.ListAnswers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionDetail{
		Session:  s,
		Slots:    slots,
		Answers:  answers,
		Progress: computeProgress(s, slots),
	}, nil
}

// ListSessions returns the user's session history.
func (e *Engine) ListSessions(ctx context.Context, userID uint64, q repo.ListQuery) ([]*domain.SessionSummary, int32, int32, error) {
	sessions, totalCount, totalPage, err := e.repo.Session.List(ctx, userID, q)
	if err != nil {
		return nil, 0, 0, err
	}
	summaries := make([]*domain.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summary := &domain.SessionSummary{
			ID:              s.ID,
			Kind:            s.Kind,
			Status:          s.Status,
			TargetRole:      s.Config.TargetRole,
			ProgressPercent: s.ProgressPercent,
			CreatedAt:       s.CreatedAt,
			UpdatedAt:       s.UpdatedAt,
		}
		if s.Summary != nil && s.Summary.OverallScore != nil {
			score := *s.Summary.OverallScore
			summary.OverallScore = &score
		}
		summaries = append(summaries, summary)
	}
	return summaries, totalCount, totalPage, nil
}

// RetryPendingEvaluations re-enqueues answers whose evaluation never landed.
// Invoked by the cron sweeper.
func (e *Engine) RetryPendingEvaluations(ctx context.Context) {
	answers, err := e.repo.Slot.ListPendingEvaluations(ctx, e.pendingBatch)
	if err != nil {
		logging.Logger(ctx).Error("listing pending evaluations failed", zap.Error(err))
		return
	}
	for _, ans := range answers {
		e.enqueueEvaluation(ans.SessionID, ans.SlotOrdinal)
	}
}

type evaluationMessage struct {
	SessionID          string           `json:"sessionId"`
	SlotOrdinal        int32            `json:"slotOrdinal"`
	Scores             map[string]int32 `json:"scores"`
	Feedback           string           `json:"feedback"`
	NeedsClarification bool             `json:"needsClarification"`
}

// ReceiveEvaluation consumes evaluation results published by the external
// scoring pipeline.
func (e *Engine) ReceiveEvaluation(ctx context.Context, msg amqp.Delivery) error {
	var m evaluationMessage
	if err := json.Unmarshal(msg.Body, &m); err != nil {
		return err
	}
	ev := &domain.Evaluation{
		Scores:             m.Scores,
		Feedback:           m.Feedback,
		NeedsClarification: m.NeedsClarification,
		EvaluatedAt:        time.Now(),
	}
	return e.applyEvaluation(ctx, m.SessionID, m.SlotOrdinal, ev)
}

func (e *Engine) load(ctx context.Context, userID uint64, sessionID string) (*domain.Session, error) {
	s, err := e.repo.Session.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	// A foreign session is indistinguishable from a missing one.
	if err := checker.CheckOwnership(ctx, s.UserID, userID); err != nil {
		return nil, ErrNotFound
	}
	return s, nil
}

// loadCached is the read-path variant of load: snapshots land in the cache
// on every persist, so reads that tolerate a snapshot skip the database.
// Mutating operations always go through load for the authoritative row.
func (e *Engine) loadCached(ctx context.Context, userID uint64, sessionID string) (*domain.Session, error) {
	if s, ok := e.cache.GetSession(ctx, sessionID); ok {
		if err := checker.CheckOwnership(ctx, s.UserID, userID); err != nil {
			return nil, ErrNotFound
		}
		return s, nil
	}
	s, err := e.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	e.cache.SetSession(ctx, s)
	return s, nil
}

func (e *Engine) persist(ctx context.Context, s *domain.Session) error {
	s.UpdatedAt = time.Now()
	if err := e.repo.Session.Update(ctx, s); err != nil {
		return err
	}
	e.cache.SetSession(ctx, s)
	return nil
}

// finishIfDone completes the session once the script is exhausted and every
// slot is resolved. The caller persists.
func (e *Engine) finishIfDone(ctx context.Context, s *domain.Session, slots []*domain.QuestionSlot) (bool, error) {
	if s.ScriptedCount < s.Config.TotalPlannedQuestions {
		return false, nil
	}
	for _, slot := range slots {
		if !slot.State.Resolved() {
			return false, nil
		}
	}
	if !CanTransition(s.Status, domain.SessionStatusCompleted) {
		return false, nil
	}
	if err := Transition(s, domain.SessionStatusCompleted); err != nil {
		return false, err
	}
	s.ProgressPercent = 100
	e.timers.cleanupSession(s.ID)
	sessionsFinished.WithLabelValues(s.Status.String()).Inc()
	e.publish(ctx, map[string]interface{}{
		"type":      "session.completed",
		"sessionId": s.ID,
		"userId":    s.UserID,
	})
	sse.SendToUser(s.UserID, map[string]interface{}{
		"type":      "session.completed",
		"sessionId": s.ID,
	})
	return true, nil
}

func (e *Engine) callEvaluate(ctx context.Context, s *domain.Session, slot *domain.QuestionSlot, ans *domain.Answer) (*domain.Evaluation, error) {
	start := time.Now()
	ev, err := e.provider.Evaluate(ctx, s, slot, ans)
	if err != nil {
		providerCalls.WithLabelValues("evaluate", "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	providerCalls.WithLabelValues("evaluate", "ok").Observe(time.Since(start).Seconds())
	return ev, nil
}

// attachEvaluation stores the evaluation and, when the user has not moved
// past the answered slot, asks the provider for a follow-up. Follow-up
// generation is best effort; its failure never fails the submission.
// Caller holds the session lock.
func (e *Engine) attachEvaluation(ctx context.Context, s *domain.Session, slot *domain.QuestionSlot, ans *domain.Answer, ev *domain.Evaluation) (*domain.QuestionSlot, error) {
	if err := e.repo.Slot.SetEvaluation(ctx, s.ID, slot.Ordinal, ev); err != nil {
		return nil, err
	}
	if ans.PendingEvaluation {
		ans.PendingEvaluation = false
		ans.Evaluation = ev
		evaluationsPending.Dec()
	}

	if s.Status != domain.SessionStatusInProgress ||
		s.Cursor != slot.Ordinal+1 ||
		slot.FollowUpDepth >= s.Config.MaxFollowUpDepth {
		return nil, nil
	}

	start := time.Now()
	spec, err := e.provider.GenerateFollowUp(ctx, s, slot, ans)
	if err != nil {
		providerCalls.WithLabelValues("follow_up", "error").Observe(time.Since(start).Seconds())
		logging.Logger(ctx).Warn("follow-up generation failed",
			zap.String("sessionID", s.ID),
			zap.Int32("ordinal", slot.Ordinal),
			zap.Error(err))
		return nil, nil
	}
	providerCalls.WithLabelValues("follow_up", "ok").Observe(time.Since(start).Seconds())
	if spec == nil {
		return nil, nil
	}
	return e.seq.insertFollowUp(ctx, s, slot, spec)
}

// applyEvaluation is the async entry point used by worker jobs and the
// broker consumer. It takes the session lock itself.
func (e *Engine) applyEvaluation(ctx context.Context, sessionID string, ordinal int32, ev *domain.Evaluation) error {
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	s, err := e.repo.Session.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	slot, err := e.repo.Slot.Get(ctx, sessionID, ordinal)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	ans, err := e.repo.Slot.GetAnswer(ctx, sessionID, ordinal)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if ans.Evaluation != nil {
		return nil
	}

	followUp, err := e.attachEvaluation(ctx, s, slot, ans, ev)
	if err != nil {
		return err
	}
	s.LastActivityAt = time.Now()

	slots, err := e.repo.Slot.List(ctx, sessionID)
	if err != nil {
		return err
	}
	progress := computeProgress(s, slots)
	s.ProgressPercent = progress.Percent

	if err := e.persist(ctx, s); err != nil {
		return err
	}
	e.cache.SetProgress(ctx, sessionID, progress)

	notification := map[string]interface{}{
		"type":      "answer.evaluated",
		"sessionId": sessionID,
		"ordinal":   ordinal,
	}
	if followUp != nil {
		notification["followUpOrdinal"] = followUp.Ordinal
	}
	sse.SendToUser(s.UserID, notification)
	return nil
}

func (e *Engine) enqueueEvaluation(sessionID string, ordinal int32) {
	e.pool.Enqueue(Job{
		SessionID: sessionID,
		Ordinal:   ordinal,
		Run: func(ctx context.Context) {
			e.evaluateNow(ctx, sessionID, ordinal)
		},
	})
}

func (e *Engine) evaluateNow(ctx context.Context, sessionID string, ordinal int32) {
	s, err := e.repo.Session.Get(ctx, sessionID)
	if err != nil {
		logging.Logger(ctx).Warn("evaluation job: session load failed", zap.Error(err))
		return
	}
	slot, err := e.repo.Slot.Get(ctx, sessionID, ordinal)
	if err != nil {
		logging.Logger(ctx).Warn("evaluation job: slot load failed", zap.Error(err))
		return
	}
	ans, err := e.repo.Slot.GetAnswer(ctx, sessionID, ordinal)
	if err != nil || ans.Evaluation != nil {
		return
	}
	ev, err := e.callEvaluate(ctx, s, slot, ans)
	if err != nil {
		// Stays pending; the sweeper retries it.
		logging.Logger(ctx).Warn("evaluation job failed",
			zap.String("sessionID", sessionID),
			zap.Int32("ordinal", ordinal),
			zap.Error(err))
		return
	}
	if err := e.applyEvaluation(ctx, sessionID, ordinal, ev); err != nil {
		logging.Logger(ctx).Error("applying evaluation failed", zap.Error(err))
	}
}

func (e *Engine) enqueuePrefetch(sessionID string) {
	e.pool.Enqueue(Job{
		SessionID: sessionID,
		Run: func(ctx context.Context) {
			e.prefetchNext(ctx, sessionID)
		},
	})
}

// prefetchNext materializes one scripted question ahead of the cursor so the
// next fetch does not wait on the provider.
func (e *Engine) prefetchNext(ctx context.Context, sessionID string) {
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	s, err := e.repo.Session.Get(ctx, sessionID)
	if err != nil || s.Status != domain.SessionStatusInProgress {
		return
	}
	if s.ScriptedCount >= s.Config.TotalPlannedQuestions {
		return
	}
	slots, err := e.repo.Slot.List(ctx, sessionID)
	if err != nil || len(slots) > int(s.Cursor)+1 {
		return
	}

	start := time.Now()
	spec, err := e.provider.ScriptedQuestion(ctx, s, s.ScriptedCount)
	if err != nil {
		providerCalls.WithLabelValues("scripted", "error").Observe(time.Since(start).Seconds())
		return
	}
	providerCalls.WithLabelValues("scripted", "ok").Observe(time.Since(start).Seconds())

	slot := &domain.QuestionSlot{
		SessionID:        sessionID,
		Ordinal:          int32(len(slots)),
		QuestionText:     spec.Text,
		Category:         spec.Category,
		TimeLimitSeconds: questionTimeLimit(s, spec),
		State:            domain.SlotStatePending,
		CreatedAt:        time.Now(),
	}
	if err := e.repo.Slot.Append(ctx, slot); err != nil {
		return
	}
	s.ScriptedCount++
	if err := e.persist(ctx, s); err != nil {
		logging.Logger(ctx).Warn("prefetch persist failed", zap.Error(err))
	}
}

// autoSkip fires when a question's time limit elapses.
func (e *Engine) autoSkip(sessionID string, ordinal int32) {
	ctx := context.Background()
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	s, err := e.repo.Session.Get(ctx, sessionID)
	if err != nil || s.Status != domain.SessionStatusInProgress || s.Cursor != ordinal {
		return
	}
	slot, err := e.repo.Slot.Get(ctx, sessionID, ordinal)
	if err != nil || slot.State.Resolved() {
		return
	}
	if err := e.repo.Slot.UpdateState(ctx, sessionID, ordinal, domain.SlotStateSkipped); err != nil {
		return
	}
	questionsSkipped.WithLabelValues("timeout").Inc()
	s.Cursor = ordinal + 1
	s.LastActivityAt = time.Now()

	slots, err := e.repo.Slot.List(ctx, sessionID)
	if err != nil {
		return
	}
	progress := computeProgress(s, slots)
	s.ProgressPercent = progress.Percent
	if int(s.Cursor) >= len(slots) {
		if _, err := e.finishIfDone(ctx, s, slots); err != nil {
			return
		}
	}
	if err := e.persist(ctx, s); err != nil {
		e.logger.Error("auto-skip persist failed", zap.Error(err))
		return
	}
	e.cache.SetProgress(ctx, sessionID, progress)
	sse.SendToUser(s.UserID, map[string]interface{}{
		"type":      "question.skipped",
		"sessionId": sessionID,
		"ordinal":   ordinal,
	})
}

func (e *Engine) publish(ctx context.Context, event map[string]interface{}) {
	body, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := e.rabbit.Publish(ctx, body); err != nil {
		logging.Logger(ctx).Warn("event publish failed", zap.Error(err))
	}
}
