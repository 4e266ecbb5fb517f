package domain

import "time"

// Progress is the derived completion view of a session. AnsweredCount counts
// resolved slots (answered or skipped); the denominator is the number of
// slots materialized so far, which grows as follow-ups are created.
type Progress struct {
	Percent           int32 `json:"percent"`
	AnsweredCount     int32 `json:"answeredCount"`
	MaterializedCount int32 `json:"materializedCount"`
}

// ScoreSummary is computed once on the COMPLETED -> EVALUATED transition and
// cached on the session; repeated generateFeedback calls return it unchanged.
type ScoreSummary struct {
	Kind SessionKind `json:"kind"`
	// OverallScore is nil when no answer was evaluated ("no data" is not
	// "scored zero") and always nil for PROFILE_BUILDING sessions.
	OverallScore   *float64           `json:"overallScore"`
	CategoryScores map[string]float64 `json:"categoryScores,omitempty"`
	// EvaluatedAnswers counts the answers that contributed to the means.
	EvaluatedAnswers int32             `json:"evaluatedAnswers"`
	Readiness        *ProfileReadiness `json:"readiness,omitempty"`
	GeneratedAt      time.Time         `json:"generatedAt"`
}

func (s *ScoreSummary) Clone() *ScoreSummary {
	if s == nil {
		return nil
	}
	out := *s
	if s.OverallScore != nil {
		v := *s.OverallScore
		out.OverallScore = &v
	}
	if s.CategoryScores != nil {
		cs := make(map[string]float64, len(s.CategoryScores))
		for k, v := range s.CategoryScores {
			cs[k] = v
		}
		out.CategoryScores = cs
	}
	if s.Readiness != nil {
		r := *s.Readiness
		if s.Readiness.AnsweredByCategory != nil {
			m := make(map[string]int32, len(s.Readiness.AnsweredByCategory))
			for k, v := range s.Readiness.AnsweredByCategory {
				m[k] = v
			}
			r.AnsweredByCategory = m
		}
		out.Readiness = &r
	}
	return &out
}

// ProfileReadiness is the PROFILE_BUILDING replacement for a numeric score:
// a structured indicator of how much profile material the answered slots
// yielded.
type ProfileReadiness struct {
	Status                  string           `json:"status"`
	TotalSlots              int32            `json:"totalSlots"`
	AnsweredSlots           int32            `json:"answeredSlots"`
	AnsweredByCategory      map[string]int32 `json:"answeredByCategory,omitempty"`
	NeedsClarificationCount int32            `json:"needsClarificationCount"`
}

// Readiness status values, ordered by completeness.
const (
	ReadinessInsufficient = "INSUFFICIENT"
	ReadinessPartial      = "PARTIAL"
	ReadinessReady        = "READY"
)
