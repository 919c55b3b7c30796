package memory

import (
	"encoding/json"

	"github.com/JohnV2002/Finja-AI-Ecosystem/store"
)

// Reason explains a rejected candidate.
type Reason string

const (
	ReasonDuplicate    Reason = "duplicate"
	ReasonFiltered     Reason = "filtered"
	ReasonLowRelevance Reason = "low_relevance"
	ReasonStorageError Reason = "storage_error"
)

// Outcome is the result of offering one candidate memory. Rejections are
// ordinary values, not errors.
type Outcome struct {
	Accepted bool
	ID       string
	Reason   Reason
	// Fallback is set when a provider stage fell back to its local path.
	Fallback bool
	Notice   string
	// Text is the stored text for accepted candidates. Extraction also sets
	// it on rejections so callers can tell candidates apart.
	Text string
	Bank store.Bank
}

// Accepted returns the outcome for a stored item.
func Accepted(item *store.MemoryItem) Outcome {
	return Outcome{Accepted: true, ID: item.ID, Text: item.Text, Bank: item.Bank}
}

// Rejected returns the outcome for a candidate that was not stored.
func Rejected(reason Reason) Outcome {
	return Outcome{Reason: reason}
}

type acceptedJSON struct {
	Accepted bool       `json:"accepted"`
	ID       string     `json:"id"`
	Text     string     `json:"text,omitempty"`
	Bank     store.Bank `json:"bank,omitempty"`
	Fallback bool       `json:"fallback"`
	Notice   string     `json:"notice,omitempty"`
}

type rejectedJSON struct {
	Accepted bool   `json:"accepted"`
	Reason   Reason `json:"reason"`
	Text     string `json:"text,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
	Notice   string `json:"notice,omitempty"`
}

// MarshalJSON renders {"accepted": true, "id", "fallback"} or
// {"accepted": false, "reason"}. Secrets text is never echoed.
func (o Outcome) MarshalJSON() ([]byte, error) {
	text := o.Text
	if o.Bank == store.BankSecrets {
		text = ""
	}
	if o.Accepted {
		return json.Marshal(acceptedJSON{
			Accepted: true,
			ID:       o.ID,
			Text:     text,
			Bank:     o.Bank,
			Fallback: o.Fallback,
			Notice:   o.Notice,
		})
	}
	return json.Marshal(rejectedJSON{
		Reason:   o.Reason,
		Text:     text,
		Fallback: o.Fallback,
		Notice:   o.Notice,
	})
}
