package engine

import (
	"time"

	"orianna/internal/domain"
	"orianna/internal/service"
)

// defaultCategoryWeights is used when the session config carries no weights.
var defaultCategoryWeights = map[string]int32{
	service.CategoryTechnical:      40,
	service.CategoryCommunication:  30,
	service.CategoryProblemSolving: 30,
}

// computeProgress derives the completion view. The denominator is the
// planned scripted questions plus every follow-up materialized so far, so
// inserting a follow-up can shrink the raw percentage; the reported percent
// is clamped against the session's last value and never decreases.
func computeProgress(session *domain.Session, slots []*domain.QuestionSlot) *domain.Progress {
	var resolved, followUps int32
	for _, slot := range slots {
		if slot.State.Resolved() {
			resolved++
		}
		if slot.FollowUpDepth > 0 {
			followUps++
		}
	}
	total := session.Config.TotalPlannedQuestions + followUps
	if total < int32(len(slots)) {
		total = int32(len(slots))
	}
	percent := int32(0)
	if total > 0 {
		percent = resolved * 100 / total
	}
	if percent < session.ProgressPercent {
		percent = session.ProgressPercent
	}
	if percent > 100 {
		percent = 100
	}
	return &domain.Progress{
		Percent:           percent,
		AnsweredCount:     resolved,
		MaterializedCount: int32(len(slots)),
	}
}

// buildSummary computes the terminal score summary. Practice sessions get a
// weighted overall score; profile sessions get a readiness indicator
// instead, never a number.
func buildSummary(session *domain.Session, slots []*domain.QuestionSlot, answers []*domain.Answer) *domain.ScoreSummary {
	summary := &domain.ScoreSummary{
		Kind:        session.Kind,
		GeneratedAt: time.Now(),
	}

	slotByOrdinal := make(map[int32]*domain.QuestionSlot, len(slots))
	for _, slot := range slots {
		slotByOrdinal[slot.Ordinal] = slot
	}

	if session.Kind == domain.SessionKindProfileBuilding {
		summary.Readiness = buildReadiness(session, slots, answers)
		return summary
	}

	catSums := make(map[string]float64)
	catCounts := make(map[string]int32)
	for _, ans := range answers {
		if ans.Evaluation == nil {
			continue
		}
		slot, ok := slotByOrdinal[ans.SlotOrdinal]
		if !ok {
			continue
		}
		catSums[slot.Category] += ans.Evaluation.Mean()
		catCounts[slot.Category]++
		summary.EvaluatedAnswers++
	}

	// No evaluated answers means no score, not a zero.
	if summary.EvaluatedAnswers == 0 {
		return summary
	}

	summary.CategoryScores = make(map[string]float64, len(catSums))
	for cat, sum := range catSums {
		summary.CategoryScores[cat] = sum / float64(catCounts[cat])
	}

	weights := session.Config.CategoryWeights
	if len(weights) == 0 {
		weights = defaultCategoryWeights
	}

	// Weights of categories without data are dropped and the rest
	// renormalized, so a session that never touched a category is not
	// penalized for it.
	var weightedSum, weightTotal float64
	for cat, score := range summary.CategoryScores {
		w := float64(weights[cat])
		if w == 0 {
			w = 1
		}
		weightedSum += score * w
		weightTotal += w
	}
	overall := weightedSum / weightTotal
	summary.OverallScore = &overall
	return summary
}

func buildReadiness(session *domain.Session, slots []*domain.QuestionSlot, answers []*domain.Answer) *domain.ProfileReadiness {
	readiness := &domain.ProfileReadiness{
		TotalSlots:         int32(len(slots)),
		AnsweredByCategory: make(map[string]int32),
	}

	slotByOrdinal := make(map[int32]*domain.QuestionSlot, len(slots))
	for _, slot := range slots {
		slotByOrdinal[slot.Ordinal] = slot
	}

	for _, ans := range answers {
		readiness.AnsweredSlots++
		if slot, ok := slotByOrdinal[ans.SlotOrdinal]; ok {
			readiness.AnsweredByCategory[slot.Category]++
		}
		if ans.Evaluation != nil && ans.Evaluation.NeedsClarification {
			readiness.NeedsClarificationCount++
		}
	}

	total := session.Config.TotalPlannedQuestions
	if total < readiness.TotalSlots {
		total = readiness.TotalSlots
	}
	switch {
	case total == 0 || readiness.AnsweredSlots == 0:
		readiness.Status = domain.ReadinessInsufficient
	case readiness.AnsweredSlots*100 >= total*80:
		readiness.Status = domain.ReadinessReady
	case readiness.AnsweredSlots*100 >= total*40:
		readiness.Status = domain.ReadinessPartial
	default:
		readiness.Status = domain.ReadinessInsufficient
	}
	return readiness
}
