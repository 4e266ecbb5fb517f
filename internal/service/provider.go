package service

import (
	"context"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"orianna/internal/domain"
)

// QuestionProvider generates interview content. Implementations are external
// services; every call can fail and callers must treat a failure as
// retryable without touching session state.
type QuestionProvider interface {
	// ScriptedQuestion returns the index-th planned question for the session.
	ScriptedQuestion(ctx context.Context, session *domain.Session, index int32) (*domain.QuestionSpec, error)
	// GenerateFollowUp proposes a probing question for the given answer, or
	// nil when the answer needs no follow-up.
	GenerateFollowUp(ctx context.Context, session *domain.Session, slot *domain.QuestionSlot, answer *domain.Answer) (*domain.QuestionSpec, error)
	// Evaluate scores an answer on the provider's dimensions.
	Evaluate(ctx context.Context, session *domain.Session, slot *domain.QuestionSlot, answer *domain.Answer) (*domain.Evaluation, error)
}

// NewProvider picks the configured provider: the ekko service when its URLs
// are set, OpenAI when an API key is present, otherwise the built-in
// template bank.
func NewProvider(logger *zap.Logger) QuestionProvider {
	if viper.GetString("ekko.genurl") != "" {
		return NewEkkoClient(logger)
	}
	if viper.GetString("openai.api_key") != "" {
		return NewOpenAIProvider(logger)
	}
	return NewTemplateProvider()
}
