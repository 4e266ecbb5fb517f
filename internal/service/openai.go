package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"orianna/internal/domain"
)

// OpenAIProvider generates questions and evaluations directly against the
// OpenAI API when no dedicated question service is deployed.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

func NewOpenAIProvider(logger *zap.Logger) *OpenAIProvider {
	model := viper.GetString("openai.model")
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIProvider{
		client: openai.NewClient(viper.GetString("openai.api_key")),
		model:  model,
		logger: logger,
	}
}

func (p *OpenAIProvider) ScriptedQuestion(ctx context.Context, session *domain.Session, index int32) (*domain.QuestionSpec, error) {
	prompt := fmt.Sprintf(
		"You are interviewing a candidate for a %s role (difficulty %s, language %s). "+
			"Produce interview question %d of %d. Respond with JSON: "+
			`{"question": string, "category": "technical"|"communication"|"problem_solving"}`,
		session.Config.TargetRole, session.Config.Difficulty, session.Config.Language,
		index+1, session.Config.TotalPlannedQuestions,
	)

	var out ekkoQuestionResponse
	if err := p.complete(ctx, prompt, &out); err != nil {
		return nil, err
	}
	if out.Category == "" {
		out.Category = CategoryTechnical
	}
	return &domain.QuestionSpec{Text: out.Question, Category: out.Category}, nil
}

func (p *OpenAIProvider) GenerateFollowUp(ctx context.Context, session *domain.Session, slot *domain.QuestionSlot, answer *domain.Answer) (*domain.QuestionSpec, error) {
	prompt := fmt.Sprintf(
		"Interview question: %q\nCandidate answer: %q\n"+
			"If the answer leaves something worth probing, produce one follow-up question. "+
			`Respond with JSON: {"question": string, "category": string, "noFollowUp": bool}. `+
			"Set noFollowUp to true when the answer is complete.",
		slot.QuestionText, answer.Text,
	)

	var out ekkoQuestionResponse
	if err := p.complete(ctx, prompt, &out); err != nil {
		return nil, err
	}
	if out.NoFollowUp || out.Question == "" {
		return nil, nil
	}
	category := out.Category
	if category == "" {
		category = slot.Category
	}
	return &domain.QuestionSpec{Text: out.Question, Category: category}, nil
}

func (p *OpenAIProvider) Evaluate(ctx context.Context, session *domain.Session, slot *domain.QuestionSlot, answer *domain.Answer) (*domain.Evaluation, error) {
	prompt := fmt.Sprintf(
		"Interview question: %q\nCandidate answer: %q\n"+
			"Score the answer from 0 to 100 on accuracy, completeness, clarity and relevance. "+
			`Respond with JSON: {"scores": {"accuracy": int, "completeness": int, "clarity": int, "relevance": int}, `+
			`"feedback": string, "needsClarification": bool}`,
		slot.QuestionText, answer.Text,
	)

	var out ekkoEvaluateResponse
	if err := p.complete(ctx, prompt, &out); err != nil {
		return nil, err
	}
	return &domain.Evaluation{
		Scores:             out.Scores,
		Feedback:           out.Feedback,
		NeedsClarification: out.NeedsClarification,
		EvaluatedAt:        time.Now(),
	}, nil
}

func (p *OpenAIProvider) complete(ctx context.Context, prompt string, out interface{}) error {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return status.Errorf(codes.Unavailable, "OpenAI request failed: %v", err)
	}
	if len(resp.Choices) == 0 {
		return status.Errorf(codes.Unavailable, "OpenAI returned no choices")
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), out); err != nil {
		return status.Errorf(codes.Internal, "Failed to unmarshal completion JSON: %v", err)
	}
	return nil
}
