package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"orianna/internal/domain"
	"orianna/internal/service"
)

func slot(ordinal int32, category string, state domain.SlotState, depth int32) *domain.QuestionSlot {
	return &domain.QuestionSlot{
		Ordinal:       ordinal,
		Category:      category,
		State:         state,
		FollowUpDepth: depth,
	}
}

func evaluated(ordinal int32, score int32) *domain.Answer {
	return &domain.Answer{
		SlotOrdinal: ordinal,
		Evaluation:  &domain.Evaluation{Scores: map[string]int32{"overall": score}},
	}
}

func TestComputeProgressCountsResolvedSlots(t *testing.T) {
	s := &domain.Session{Config: domain.SessionConfig{TotalPlannedQuestions: 4}}
	slots := []*domain.QuestionSlot{
		slot(0, service.CategoryTechnical, domain.SlotStateAnswered, 0),
		slot(1, service.CategoryTechnical, domain.SlotStateSkipped, 0),
		slot(2, service.CategoryTechnical, domain.SlotStatePending, 0),
	}

	p := computeProgress(s, slots)
	assert.Equal(t, int32(50), p.Percent)
	assert.Equal(t, int32(2), p.AnsweredCount)
	assert.Equal(t, int32(3), p.MaterializedCount)
}

func TestComputeProgressClampsWhenFollowUpGrowsDenominator(t *testing.T) {
	s := &domain.Session{Config: domain.SessionConfig{TotalPlannedQuestions: 3}}
	slots := []*domain.QuestionSlot{
		slot(0, service.CategoryTechnical, domain.SlotStateAnswered, 0),
		slot(1, service.CategoryTechnical, domain.SlotStatePending, 0),
		slot(2, service.CategoryTechnical, domain.SlotStatePending, 0),
	}
	p := computeProgress(s, slots)
	assert.Equal(t, int32(33), p.Percent)
	s.ProgressPercent = p.Percent

	// A follow-up lands after the answered slot: 1 of 4 raw would be 25, but
	// the reported value never drops.
	withFollowUp := []*domain.QuestionSlot{
		slots[0],
		slot(1, service.CategoryTechnical, domain.SlotStatePending, 1),
		slot(2, service.CategoryTechnical, domain.SlotStatePending, 0),
		slot(3, service.CategoryTechnical, domain.SlotStatePending, 0),
	}
	p = computeProgress(s, withFollowUp)
	assert.Equal(t, int32(33), p.Percent)
	assert.Equal(t, int32(4), p.MaterializedCount)
}

func TestComputeProgressNeverDecreases(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.Int32Range(1, 8).Draw(t, "total")
		session := &domain.Session{Config: domain.SessionConfig{TotalPlannedQuestions: total}}
		var slots []*domain.QuestionSlot
		last := int32(0)

		steps := rapid.IntRange(1, 50).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				if int32(len(slots)) < total {
					slots = append(slots, slot(int32(len(slots)), service.CategoryTechnical, domain.SlotStatePending, 0))
				}
			case 1:
				if len(slots) > 0 {
					slots = append(slots, slot(int32(len(slots)), service.CategoryTechnical, domain.SlotStatePending, 1))
				}
			case 2:
				for _, sl := range slots {
					if !sl.State.Resolved() {
						sl.State = domain.SlotStateAnswered
						break
					}
				}
			}

			p := computeProgress(session, slots)
			if p.Percent < last {
				t.Fatalf("progress dropped from %d to %d", last, p.Percent)
			}
			if p.Percent > 100 {
				t.Fatalf("progress overshot: %d", p.Percent)
			}
			session.ProgressPercent = p.Percent
			last = p.Percent
		}
	})
}

func TestBuildSummaryNoEvaluationsMeansNoScore(t *testing.T) {
	s := &domain.Session{
		Kind:   domain.SessionKindPractice,
		Config: domain.SessionConfig{TotalPlannedQuestions: 2},
	}
	slots := []*domain.QuestionSlot{
		slot(0, service.CategoryTechnical, domain.SlotStateSkipped, 0),
		slot(1, service.CategoryTechnical, domain.SlotStateSkipped, 0),
	}

	summary := buildSummary(s, slots, nil)
	assert.Nil(t, summary.OverallScore)
	assert.Zero(t, summary.EvaluatedAnswers)
	assert.Empty(t, summary.CategoryScores)
}

func TestBuildSummaryWeightsCategoriesWithData(t *testing.T) {
	s := &domain.Session{
		Kind:   domain.SessionKindPractice,
		Config: domain.SessionConfig{TotalPlannedQuestions: 3},
	}
	slots := []*domain.QuestionSlot{
		slot(0, service.CategoryTechnical, domain.SlotStateAnswered, 0),
		slot(1, service.CategoryTechnical, domain.SlotStateAnswered, 0),
		slot(2, service.CategoryCommunication, domain.SlotStateAnswered, 0),
	}
	answers := []*domain.Answer{
		evaluated(0, 80),
		evaluated(1, 60),
		evaluated(2, 90),
	}

	summary := buildSummary(s, slots, answers)
	assert.Equal(t, int32(3), summary.EvaluatedAnswers)
	assert.InDelta(t, 70.0, summary.CategoryScores[service.CategoryTechnical], 0.001)
	assert.InDelta(t, 90.0, summary.CategoryScores[service.CategoryCommunication], 0.001)

	// Default weights: technical 40, communication 30. Problem solving has no
	// data so its weight is dropped and the rest renormalized.
	require.NotNil(t, summary.OverallScore)
	assert.InDelta(t, (70.0*40+90.0*30)/70.0, *summary.OverallScore, 0.001)
}

func TestBuildSummaryCustomWeights(t *testing.T) {
	s := &domain.Session{
		Kind: domain.SessionKindPractice,
		Config: domain.SessionConfig{
			TotalPlannedQuestions: 2,
			CategoryWeights: map[string]int32{
				service.CategoryTechnical:     75,
				service.CategoryCommunication: 25,
			},
		},
	}
	slots := []*domain.QuestionSlot{
		slot(0, service.CategoryTechnical, domain.SlotStateAnswered, 0),
		slot(1, service.CategoryCommunication, domain.SlotStateAnswered, 0),
	}
	answers := []*domain.Answer{
		evaluated(0, 40),
		evaluated(1, 80),
	}

	summary := buildSummary(s, slots, answers)
	require.NotNil(t, summary.OverallScore)
	assert.InDelta(t, 40*0.75+80*0.25, *summary.OverallScore, 0.001)
}

func TestBuildSummaryProfileReadiness(t *testing.T) {
	cases := []struct {
		name     string
		total    int32
		answered int32
		want     string
	}{
		{"nothing answered", 5, 0, domain.ReadinessInsufficient},
		{"below partial threshold", 5, 1, domain.ReadinessInsufficient},
		{"partial", 5, 2, domain.ReadinessPartial},
		{"ready", 5, 4, domain.ReadinessReady},
		{"everything answered", 5, 5, domain.ReadinessReady},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &domain.Session{
				Kind:   domain.SessionKindProfileBuilding,
				Config: domain.SessionConfig{TotalPlannedQuestions: tc.total},
			}
			var slots []*domain.QuestionSlot
			var answers []*domain.Answer
			for i := int32(0); i < tc.total; i++ {
				state := domain.SlotStateSkipped
				if i < tc.answered {
					state = domain.SlotStateAnswered
					answers = append(answers, &domain.Answer{SlotOrdinal: i})
				}
				slots = append(slots, slot(i, service.CategoryTechnical, state, 0))
			}

			summary := buildSummary(s, slots, answers)
			assert.Nil(t, summary.OverallScore)
			require.NotNil(t, summary.Readiness)
			assert.Equal(t, tc.want, summary.Readiness.Status)
			assert.Equal(t, tc.answered, summary.Readiness.AnsweredSlots)
		})
	}
}

func TestBuildReadinessCountsClarifications(t *testing.T) {
	s := &domain.Session{
		Kind:   domain.SessionKindProfileBuilding,
		Config: domain.SessionConfig{TotalPlannedQuestions: 2},
	}
	slots := []*domain.QuestionSlot{
		slot(0, service.CategoryTechnical, domain.SlotStateAnswered, 0),
		slot(1, service.CategoryCommunication, domain.SlotStateAnswered, 0),
	}
	answers := []*domain.Answer{
		{SlotOrdinal: 0, Evaluation: &domain.Evaluation{NeedsClarification: true}},
		{SlotOrdinal: 1},
	}

	summary := buildSummary(s, slots, answers)
	require.NotNil(t, summary.Readiness)
	assert.Equal(t, int32(1), summary.Readiness.NeedsClarificationCount)
	assert.Equal(t, int32(1), summary.Readiness.AnsweredByCategory[service.CategoryTechnical])
	assert.Equal(t, int32(1), summary.Readiness.AnsweredByCategory[service.CategoryCommunication])
}
