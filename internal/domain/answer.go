package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Answer is the single submission recorded against a slot. The payload hash
// makes retries idempotent: an identical resubmission returns the stored
// answer, a conflicting one is rejected.
type Answer struct {
	SessionID        string
	SlotOrdinal      int32
	Text             string
	PayloadHash      string
	TimeTakenSeconds int32
	SubmittedAt      time.Time

	// PendingEvaluation marks an answered slot whose provider evaluation has
	// not completed yet; a failed evaluation leaves it set for retry.
	PendingEvaluation bool
	Evaluation        *Evaluation
}

func (a *Answer) Clone() *Answer {
	if a == nil {
		return nil
	}
	out := *a
	out.Evaluation = a.Evaluation.Clone()
	return &out
}

// HashPayload derives the idempotency key for a submitted payload.
func HashPayload(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Evaluation is produced by the external provider. Once set on an answer it
// is immutable.
type Evaluation struct {
	// Scores holds 0-100 per dimension (accuracy, completeness, clarity,
	// relevance - whichever the provider populated).
	Scores             map[string]int32 `json:"scores"`
	Feedback           string           `json:"feedback"`
	NeedsClarification bool             `json:"needsClarification"`
	EvaluatedAt        time.Time        `json:"evaluatedAt"`
}

func (e *Evaluation) Clone() *Evaluation {
	if e == nil {
		return nil
	}
	out := *e
	if e.Scores != nil {
		s := make(map[string]int32, len(e.Scores))
		for k, v := range e.Scores {
			s[k] = v
		}
		out.Scores = s
	}
	return &out
}

// Mean is the arithmetic mean of the populated dimensions.
func (e *Evaluation) Mean() float64 {
	if e == nil || len(e.Scores) == 0 {
		return 0
	}
	var sum int64
	for _, v := range e.Scores {
		sum += int64(v)
	}
	return float64(sum) / float64(len(e.Scores))
}
