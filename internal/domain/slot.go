package domain

import "time"

// SlotState transitions PENDING -> ANSWERED or PENDING -> SKIPPED exactly
// once and never reverts.
type SlotState int32

const (
	SlotStateUnspecified SlotState = iota
	SlotStatePending
	SlotStateAnswered
	SlotStateSkipped
)

func (s SlotState) String() string {
	switch s {
	case SlotStatePending:
		return "PENDING"
	case SlotStateAnswered:
		return "ANSWERED"
	case SlotStateSkipped:
		return "SKIPPED"
	default:
		return "UNSPECIFIED"
	}
}

// Resolved reports whether the slot no longer awaits an answer.
func (s SlotState) Resolved() bool {
	return s == SlotStateAnswered || s == SlotStateSkipped
}

// QuestionSlot is one question position in a session's linear sequence.
// Follow-up slots reference their parent by ordinal; the reference is a
// lookup key, not an ownership edge.
type QuestionSlot struct {
	SessionID        string
	Ordinal          int32
	ParentOrdinal    *int32
	FollowUpDepth    int32
	QuestionText     string
	Category         string
	TimeLimitSeconds int32
	State            SlotState
	CreatedAt        time.Time
}

func (q *QuestionSlot) Clone() *QuestionSlot {
	if q == nil {
		return nil
	}
	out := *q
	if q.ParentOrdinal != nil {
		p := *q.ParentOrdinal
		out.ParentOrdinal = &p
	}
	return &out
}

// QuestionSpec is what the provider returns for a scripted question or a
// follow-up before it is materialized into a slot.
type QuestionSpec struct {
	Text             string `json:"text"`
	Category         string `json:"category"`
	TimeLimitSeconds int32  `json:"timeLimitSeconds,omitempty"`
}
