package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"orianna/internal/domain"
)

// EkkoClient talks to the Ekko question service over HTTP.
type EkkoClient struct {
	client *http.Client
	logger *zap.Logger
}

// NewEkkoClient creates a new Ekko HTTP client
func NewEkkoClient(logger *zap.Logger) *EkkoClient {
	timeout := viper.GetDuration("ekko.timeout")
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &EkkoClient{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type ekkoQuestionResponse struct {
	Question         string `json:"question"`
	Category         string `json:"category"`
	TimeLimitSeconds int32  `json:"timeLimitSeconds"`
	NoFollowUp       bool   `json:"noFollowUp,omitempty"`
}

type ekkoEvaluateResponse struct {
	Scores             map[string]int32 `json:"scores"`
	Feedback           string           `json:"feedback"`
	NeedsClarification bool             `json:"needsClarification"`
}

// ScriptedQuestion requests the index-th planned question from Ekko.
func (e *EkkoClient) ScriptedQuestion(ctx context.Context, session *domain.Session, index int32) (*domain.QuestionSpec, error) {
	payload := map[string]interface{}{
		"sessionId":      session.ID,
		"kind":           session.Kind.String(),
		"targetRole":     session.Config.TargetRole,
		"difficulty":     session.Config.Difficulty,
		"language":       session.Config.Language,
		"questionIndex":  index,
		"totalQuestions": session.Config.TotalPlannedQuestions,
	}

	var resp ekkoQuestionResponse
	if err := e.post(ctx, viper.GetString("ekko.genurl"), payload, &resp); err != nil {
		return nil, err
	}
	return &domain.QuestionSpec{
		Text:             resp.Question,
		Category:         resp.Category,
		TimeLimitSeconds: resp.TimeLimitSeconds,
	}, nil
}

// GenerateFollowUp asks Ekko whether the answer warrants a probing question.
func (e *EkkoClient) GenerateFollowUp(ctx context.Context, session *domain.Session, slot *domain.QuestionSlot, answer *domain.Answer) (*domain.QuestionSpec, error) {
	payload := map[string]interface{}{
		"sessionId":     session.ID,
		"targetRole":    session.Config.TargetRole,
		"question":      slot.QuestionText,
		"category":      slot.Category,
		"answer":        answer.Text,
		"followUpDepth": slot.FollowUpDepth,
	}

	var resp ekkoQuestionResponse
	if err := e.post(ctx, viper.GetString("ekko.folurl"), payload, &resp); err != nil {
		return nil, err
	}
	if resp.NoFollowUp || resp.Question == "" {
		return nil, nil
	}
	category := resp.Category
	if category == "" {
		category = slot.Category
	}
	return &domain.QuestionSpec{
		Text:             resp.Question,
		Category:         category,
		TimeLimitSeconds: resp.TimeLimitSeconds,
	}, nil
}

// Evaluate scores an answer through Ekko.
func (e *EkkoClient) Evaluate(ctx context.Context, session *domain.Session, slot *domain.QuestionSlot, answer *domain.Answer) (*domain.Evaluation, error) {
	payload := map[string]interface{}{
		"sessionId":  session.ID,
		"targetRole": session.Config.TargetRole,
		"question":   slot.QuestionText,
		"category":   slot.Category,
		"answer":     answer.Text,
	}

	var resp ekkoEvaluateResponse
	if err := e.post(ctx, viper.GetString("ekko.scrurl"), payload, &resp); err != nil {
		return nil, err
	}
	return &domain.Evaluation{
		Scores:             resp.Scores,
		Feedback:           resp.Feedback,
		NeedsClarification: resp.NeedsClarification,
		EvaluatedAt:        time.Now(),
	}, nil
}

func (e *EkkoClient) post(ctx context.Context, url string, payload map[string]interface{}, out interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return status.Errorf(codes.Internal, "Failed to marshal payload: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return status.Errorf(codes.Internal, "Failed to create HTTP request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return status.Errorf(codes.Unavailable, "Failed to send HTTP request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return status.Errorf(codes.Unavailable, "Failed to read response body: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return status.Errorf(codes.Unavailable, "Ekko service returned non-200 status: %d, body: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return status.Errorf(codes.Internal, "Failed to unmarshal response JSON: %v", err)
	}
	return nil
}
