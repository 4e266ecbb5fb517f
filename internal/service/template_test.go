package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orianna/internal/domain"
)

func TestTemplateScriptedQuestionsInterleaveCategories(t *testing.T) {
	p := NewTemplateProvider()
	session := &domain.Session{Config: domain.SessionConfig{TargetRole: "data engineer"}}

	var categories []string
	for i := int32(0); i < 4; i++ {
		spec, err := p.ScriptedQuestion(context.Background(), session, i)
		require.NoError(t, err)
		require.NotEmpty(t, spec.Text)
		assert.NotContains(t, spec.Text, "%s")
		categories = append(categories, spec.Category)
	}
	assert.Equal(t, []string{
		CategoryTechnical,
		CategoryCommunication,
		CategoryTechnical,
		CategoryProblemSolving,
	}, categories)

	first, err := p.ScriptedQuestion(context.Background(), session, 0)
	require.NoError(t, err)
	assert.True(t, strings.Contains(first.Text, "data engineer"))
}

func TestTemplateScriptedQuestionsAreDeterministic(t *testing.T) {
	p := NewTemplateProvider()
	session := &domain.Session{Config: domain.SessionConfig{TargetRole: "sre"}}

	a, err := p.ScriptedQuestion(context.Background(), session, 2)
	require.NoError(t, err)
	b, err := p.ScriptedQuestion(context.Background(), session, 2)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// A long session wraps around the bank without running out.
	for i := int32(0); i < 20; i++ {
		spec, err := p.ScriptedQuestion(context.Background(), session, i)
		require.NoError(t, err)
		assert.NotEmpty(t, spec.Text)
	}
}

func TestTemplateNeverProposesFollowUps(t *testing.T) {
	p := NewTemplateProvider()
	spec, err := p.GenerateFollowUp(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, spec)
}

func TestTemplateEvaluateScoresEffort(t *testing.T) {
	p := NewTemplateProvider()

	short, err := p.Evaluate(context.Background(), nil, nil, &domain.Answer{Text: "yes"})
	require.NoError(t, err)
	assert.True(t, short.NeedsClarification)
	assert.Equal(t, int32(2), short.Scores["completeness"])

	long, err := p.Evaluate(context.Background(), nil, nil, &domain.Answer{
		Text: strings.Repeat("word ", 80),
	})
	require.NoError(t, err)
	assert.False(t, long.NeedsClarification)
	assert.Equal(t, int32(100), long.Scores["completeness"])
	assert.Equal(t, int32(100), long.Scores["relevance"])
}
