package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"orianna/internal/domain"
	"orianna/internal/engine"
	"orianna/internal/repo"
	"orianna/internal/utils/checker"
	"orianna/internal/utils/extractor"
	"orianna/internal/utils/sort"
)

// Handler exposes the session engine over HTTP.
type Handler struct {
	engine *engine.Engine
	ext    extractor.Extractor
	logger *zap.Logger
}

func New(e *engine.Engine, logger *zap.Logger) *Handler {
	return &Handler{
		engine: e,
		ext:    extractor.New(),
		logger: logger,
	}
}

func (h *Handler) Register(r *gin.Engine) {
	r.Use(metadataMiddleware())

	v1 := r.Group("/v1")
	{
		v1.POST("/sessions", h.startSession)
		v1.GET("/sessions", h.listSessions)
		v1.GET("/sessions/:id", h.getSession)
		v1.DELETE("/sessions/:id", h.cancelSession)
		v1.GET("/sessions/:id/next", h.nextQuestion)
		v1.POST("/sessions/:id/answers", h.submitAnswer)
		v1.POST("/sessions/:id/skip", h.skipQuestion)
		v1.POST("/sessions/:id/pause", h.pauseSession)
		v1.POST("/sessions/:id/resume", h.resumeSession)
		v1.POST("/sessions/:id/complete", h.completeSession)
		v1.POST("/sessions/:id/feedback", h.generateFeedback)
		v1.GET("/sessions/:id/progress", h.getProgress)
	}

	admin := r.Group("/admin")
	{
		admin.POST("/evaluations/retry", h.retryEvaluations)
	}
}

// metadataMiddleware mirrors the gateway's header annotator: every x- header
// becomes incoming gRPC metadata so the extractor and logger see the same
// context on HTTP as they would behind the gateway.
func metadataMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		md := metadata.MD{}
		for name, values := range c.Request.Header {
			lowerName := strings.ToLower(name)
			if strings.HasPrefix(lowerName, "x-") || lowerName == "x_request_id" {
				md.Append(lowerName, values...)
			}
		}
		ctx := metadata.NewIncomingContext(c.Request.Context(), md)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

type startSessionRequest struct {
	Kind                  string           `json:"kind" binding:"required"`
	TargetRole            string           `json:"targetRole"`
	Difficulty            string           `json:"difficulty"`
	Language              string           `json:"language"`
	TotalPlannedQuestions int32            `json:"totalPlannedQuestions"`
	MaxFollowUpDepth      int32            `json:"maxFollowUpDepth"`
	TimeLimitSeconds      int32            `json:"timeLimitSeconds"`
	CategoryWeights       map[string]int32 `json:"categoryWeights"`
}

type submitAnswerRequest struct {
	Ordinal          *int32 `json:"ordinal" binding:"required"`
	Text             string `json:"text" binding:"required"`
	TimeTakenSeconds int32  `json:"timeTakenSeconds"`
}

type skipQuestionRequest struct {
	Ordinal *int32 `json:"ordinal" binding:"required"`
}

func (h *Handler) startSession(c *gin.Context) {
	ctx := c.Request.Context()
	userID, err := h.ext.GetUserID(ctx)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var kind domain.SessionKind
	switch req.Kind {
	case "PRACTICE":
		kind = domain.SessionKindPractice
	case "PROFILE_BUILDING":
		kind = domain.SessionKindProfileBuilding
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be PRACTICE or PROFILE_BUILDING"})
		return
	}

	session, err := h.engine.StartSession(ctx, userID, engine.StartSessionInput{
		Kind: kind,
		Config: domain.SessionConfig{
			TargetRole:            req.TargetRole,
			Difficulty:            req.Difficulty,
			Language:              req.Language,
			TotalPlannedQuestions: req.TotalPlannedQuestions,
			MaxFollowUpDepth:      req.MaxFollowUpDepth,
			TimeLimitSeconds:      req.TimeLimitSeconds,
			CategoryWeights:       req.CategoryWeights,
		},
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": sessionView(session)})
}

func (h *Handler) listSessions(c *gin.Context) {
	ctx := c.Request.Context()
	userID, err := h.ext.GetUserID(ctx)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	var q repo.ListQuery
	var page struct {
		PageIndex int32 `form:"pageIndex"`
		PageSize  int32 `form:"pageSize"`
	}
	if err := c.ShouldBindQuery(&page); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	q.PageIndex = page.PageIndex
	q.PageSize = page.PageSize
	q.Sorts = sort.Parse(c.QueryArray("sort"), repo.SessionSortFields)

	summaries, totalCount, totalPage, err := h.engine.ListSessions(ctx, userID, q)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions":   summaries,
		"totalCount": totalCount,
		"totalPage":  totalPage,
	})
}

func (h *Handler) getSession(c *gin.Context) {
	ctx := c.Request.Context()
	userID, err := h.ext.GetUserID(ctx)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	detail, err := h.engine.GetSession(ctx, userID, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	slots := make([]gin.H, 0, len(detail.Slots))
	for _, slot := range detail.Slots {
		slots = append(slots, slotView(slot))
	}
	answers := make([]gin.H, 0, len(detail.Answers))
	for _, ans := range detail.Answers {
		answers = append(answers, answerView(ans))
	}
	c.JSON(http.StatusOK, gin.H{
		"session":  sessionView(detail.Session),
		"slots":    slots,
		"answers":  answers,
		"progress": detail.Progress,
	})
}

func (h *Handler) nextQuestion(c *gin.Context) {
	ctx := c.Request.Context()
	userID, err := h.ext.GetUserID(ctx)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	view, err := h.engine.GetNextQuestion(ctx, userID, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if view.Done {
		c.JSON(http.StatusOK, gin.H{
			"done":    true,
			"session": sessionView(view.Session),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"question":         slotView(view.Slot),
		"remainingSeconds": view.RemainingSeconds,
		"session":          sessionView(view.Session),
	})
}

func (h *Handler) submitAnswer(c *gin.Context) {
	ctx := c.Request.Context()
	userID, err := h.ext.GetUserID(ctx)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	var req submitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.engine.SubmitAnswer(ctx, userID, c.Param("id"), *req.Ordinal, req.Text, req.TimeTakenSeconds)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := gin.H{
		"answer":    answerView(result.Answer),
		"duplicate": result.Duplicate,
		"progress":  result.Progress,
		"completed": result.Completed,
		"session":   sessionView(result.Session),
	}
	if result.FollowUp != nil {
		resp["followUp"] = slotView(result.FollowUp)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) skipQuestion(c *gin.Context) {
	ctx := c.Request.Context()
	userID, err := h.ext.GetUserID(ctx)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	var req skipQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.engine.SkipQuestion(ctx, userID, c.Param("id"), *req.Ordinal)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"skipped":   slotView(result.Slot),
		"progress":  result.Progress,
		"completed": result.Completed,
		"session":   sessionView(result.Session),
	})
}

func (h *Handler) pauseSession(c *gin.Context) {
	h.transition(c, h.engine.PauseSession)
}

func (h *Handler) resumeSession(c *gin.Context) {
	h.transition(c, h.engine.ResumeSession)
}

func (h *Handler) completeSession(c *gin.Context) {
	h.transition(c, h.engine.CompleteSession)
}

func (h *Handler) cancelSession(c *gin.Context) {
	h.transition(c, h.engine.CancelSession)
}

func (h *Handler) transition(c *gin.Context, op func(ctx context.Context, userID uint64, sessionID string) (*domain.Session, error)) {
	ctx := c.Request.Context()
	userID, err := h.ext.GetUserID(ctx)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	session, err := op(ctx, userID, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sessionView(session)})
}

func (h *Handler) generateFeedback(c *gin.Context) {
	ctx := c.Request.Context()
	userID, err := h.ext.GetUserID(ctx)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	summary, session, err := h.engine.GenerateFeedback(ctx, userID, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"summary": summary,
		"session": sessionView(session),
	})
}

// retryEvaluations forces a sweep of answers whose evaluation never landed.
// Restricted to operators.
func (h *Handler) retryEvaluations(c *gin.Context) {
	ctx := c.Request.Context()
	if err := checker.CheckRole(ctx, "admin", h.ext.GetRoleIDs(ctx)); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	h.engine.RetryPendingEvaluations(ctx)
	c.JSON(http.StatusAccepted, gin.H{"status": "scheduled"})
}

func (h *Handler) getProgress(c *gin.Context) {
	ctx := c.Request.Context()
	userID, err := h.ext.GetUserID(ctx)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	progress, err := h.engine.GetProgress(ctx, userID, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"progress": progress})
}

// writeError translates engine errors into HTTP via their gRPC codes, the
// same mapping the gateway applies.
func (h *Handler) writeError(c *gin.Context, err error) {
	code := engine.Code(err)
	if s, ok := status.FromError(err); ok && s.Code() != codes.Unknown && code == codes.Internal {
		code = s.Code()
	}
	httpStatus := runtime.HTTPStatusFromCode(code)
	if httpStatus >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	body := gin.H{
		"error": err.Error(),
		"code":  code.String(),
	}
	// Rejections carry the authoritative snapshot so the client can
	// resynchronize without a second round trip.
	var stateErr *engine.StateError
	if errors.As(err, &stateErr) {
		body["session"] = sessionView(stateErr.Session)
	}
	c.JSON(httpStatus, body)
}

func sessionView(s *domain.Session) gin.H {
	view := gin.H{
		"id":              s.ID,
		"kind":            s.Kind.String(),
		"status":          s.Status.String(),
		"config":          s.Config,
		"cursor":          s.Cursor,
		"scriptedCount":   s.ScriptedCount,
		"progressPercent": s.ProgressPercent,
		"startedAt":       s.StartedAt,
		"lastActivityAt":  s.LastActivityAt,
		"createdAt":       s.CreatedAt,
		"updatedAt":       s.UpdatedAt,
	}
	if s.CompletedAt != nil {
		view["completedAt"] = s.CompletedAt
	}
	if s.Summary != nil {
		view["summary"] = s.Summary
	}
	return view
}

func slotView(slot *domain.QuestionSlot) gin.H {
	view := gin.H{
		"ordinal":       slot.Ordinal,
		"question":      slot.QuestionText,
		"category":      slot.Category,
		"followUpDepth": slot.FollowUpDepth,
		"state":         slot.State.String(),
	}
	if slot.ParentOrdinal != nil {
		view["parentOrdinal"] = *slot.ParentOrdinal
	}
	if slot.TimeLimitSeconds > 0 {
		view["timeLimitSeconds"] = slot.TimeLimitSeconds
	}
	return view
}

func answerView(ans *domain.Answer) gin.H {
	view := gin.H{
		"ordinal":           ans.SlotOrdinal,
		"text":              ans.Text,
		"timeTakenSeconds":  ans.TimeTakenSeconds,
		"submittedAt":       ans.SubmittedAt,
		"pendingEvaluation": ans.PendingEvaluation,
	}
	if ans.Evaluation != nil {
		view["evaluation"] = ans.Evaluation
	}
	return view
}
