package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"orianna/internal/domain"
)

// Question categories shared by providers and the score aggregator.
const (
	CategoryTechnical      = "technical"
	CategoryCommunication  = "communication"
	CategoryProblemSolving = "problem_solving"
)

// TemplateProvider serves questions from a fixed bank. It backs local runs
// and tests, and acts as the fallback when no external provider is
// configured. It never proposes follow-ups.
type TemplateProvider struct {
	banks map[string][]string
}

func NewTemplateProvider() *TemplateProvider {
	return &TemplateProvider{
		banks: map[string][]string{
			CategoryTechnical: {
				"Walk me through a recent project where you were responsible for the %s work. What was your contribution?",
				"Which technologies do you rely on most in your day-to-day work as a %s, and why those?",
				"Describe a technically difficult bug you tracked down. How did you approach it?",
				"How do you decide when code is ready to ship?",
			},
			CategoryCommunication: {
				"Tell me about a time you had to explain a technical decision to a non-technical audience.",
				"How do you handle disagreement with a teammate about a design direction?",
				"Describe how you keep stakeholders informed on a long-running piece of work.",
			},
			CategoryProblemSolving: {
				"Tell me about a problem you solved where the obvious approach would not work.",
				"You inherit a system with no documentation and a failing component. Where do you start?",
				"Describe a time you had to make a decision with incomplete information.",
			},
		},
	}
}

// categoryOrder interleaves categories so a session mixes question types.
var categoryOrder = []string{
	CategoryTechnical,
	CategoryCommunication,
	CategoryTechnical,
	CategoryProblemSolving,
}

func (p *TemplateProvider) ScriptedQuestion(ctx context.Context, session *domain.Session, index int32) (*domain.QuestionSpec, error) {
	category := categoryOrder[int(index)%len(categoryOrder)]
	bank := p.banks[category]
	text := bank[int(index/int32(len(categoryOrder)))%len(bank)]
	if strings.Contains(text, "%s") {
		text = fmt.Sprintf(text, session.Config.TargetRole)
	}
	return &domain.QuestionSpec{Text: text, Category: category}, nil
}

func (p *TemplateProvider) GenerateFollowUp(ctx context.Context, session *domain.Session, slot *domain.QuestionSlot, answer *domain.Answer) (*domain.QuestionSpec, error) {
	return nil, nil
}

// Evaluate produces a rough effort-based score so sessions can complete the
// full lifecycle without an external provider.
func (p *TemplateProvider) Evaluate(ctx context.Context, session *domain.Session, slot *domain.QuestionSlot, answer *domain.Answer) (*domain.Evaluation, error) {
	words := int32(len(strings.Fields(answer.Text)))
	score := words * 2
	if score > 100 {
		score = 100
	}
	return &domain.Evaluation{
		Scores: map[string]int32{
			"completeness": score,
			"relevance":    score,
		},
		Feedback:           "Answer recorded.",
		NeedsClarification: words < 5,
		EvaluatedAt:        time.Now(),
	}, nil
}
