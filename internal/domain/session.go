package domain

import (
	"time"
)

// SessionKind selects the question source and scoring rules for a session.
type SessionKind int32

const (
	SessionKindUnspecified SessionKind = iota
	SessionKindProfileBuilding
	SessionKindPractice
)

func (k SessionKind) String() string {
	switch k {
	case SessionKindProfileBuilding:
		return "PROFILE_BUILDING"
	case SessionKindPractice:
		return "PRACTICE"
	default:
		return "UNSPECIFIED"
	}
}

// SessionStatus is the lifecycle state of a session.
// COMPLETED, EVALUATED and ABANDONED are terminal (EVALUATED is reachable
// only from COMPLETED).
type SessionStatus int32

const (
	SessionStatusUnspecified SessionStatus = iota
	SessionStatusCreated
	SessionStatusInProgress
	SessionStatusPaused
	SessionStatusCompleted
	SessionStatusAbandoned
	SessionStatusEvaluated
)

func (s SessionStatus) String() string {
	switch s {
	case SessionStatusCreated:
		return "CREATED"
	case SessionStatusInProgress:
		return "IN_PROGRESS"
	case SessionStatusPaused:
		return "PAUSED"
	case SessionStatusCompleted:
		return "COMPLETED"
	case SessionStatusAbandoned:
		return "ABANDONED"
	case SessionStatusEvaluated:
		return "EVALUATED"
	default:
		return "UNSPECIFIED"
	}
}

// Terminal reports whether no further mutation is allowed except
// COMPLETED -> EVALUATED.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusAbandoned || s == SessionStatusEvaluated
}

// SessionConfig is immutable after session creation.
type SessionConfig struct {
	TargetRole            string `json:"targetRole"`
	Difficulty            string `json:"difficulty"`
	Language              string `json:"language"`
	TotalPlannedQuestions int32  `json:"totalPlannedQuestions"`
	MaxFollowUpDepth      int32  `json:"maxFollowUpDepth"`
	TimeLimitSeconds      int32  `json:"timeLimitSeconds"`
	// CategoryWeights maps question category to its share of the overall
	// PRACTICE score, in percent. Must sum to 100 when set.
	CategoryWeights map[string]int32 `json:"categoryWeights,omitempty"`
}

// Session is one interview attempt by one user. It exclusively owns its
// slots; slots are looked up through the repository, never back-referenced.
type Session struct {
	ID     string
	UserID uint64
	Kind   SessionKind
	Status SessionStatus
	Config SessionConfig

	// Cursor is the ordinal of the first pending slot, or the number of
	// materialized slots when none are pending.
	Cursor int32
	// ScriptedCount is how many scripted (non-follow-up) questions have been
	// materialized so far; it doubles as the provider's next question index.
	ScriptedCount int32
	// ProgressPercent is the last reported progress value. It is clamped to
	// never decrease even though follow-ups grow the denominator.
	ProgressPercent int32

	Summary *ScoreSummary

	StartedAt      time.Time
	LastActivityAt time.Time
	CompletedAt    *time.Time

	// Version is the optimistic-lock counter bumped on every update.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	out.Summary = s.Summary.Clone()
	if s.Config.CategoryWeights != nil {
		w := make(map[string]int32, len(s.Config.CategoryWeights))
		for k, v := range s.Config.CategoryWeights {
			w[k] = v
		}
		out.Config.CategoryWeights = w
	}
	return &out
}

// SessionSummary is the history-listing projection of a session.
type SessionSummary struct {
	ID              string        `json:"id"`
	Kind            SessionKind   `json:"kind"`
	Status          SessionStatus `json:"status"`
	TargetRole      string        `json:"targetRole"`
	ProgressPercent int32         `json:"progressPercent"`
	OverallScore    *float64      `json:"overallScore,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}
