package chain

import (
	"fmt"
	"strings"
)

// Verification is the outcome of checking one chain. Integrity failures
// are reported here, never as errors.
type Verification struct {
	Valid            bool
	TotalEvents      int
	CorruptedIndices []int
	// ChainBreakAt is the lowest corrupted index, nil for a valid chain.
	ChainBreakAt *int
	ExpectedHash string
	ActualHash   string
}

// ValidEvents is the number of events not marked corrupted.
func (v Verification) ValidEvents() int {
	return v.TotalEvents - len(v.CorruptedIndices)
}

// VerifyChain checks linkage and digests of events, which must be one
// chain in timestamp order. An empty chain is valid.
func VerifyChain(events []Event) Verification {
	res := Verification{TotalEvents: len(events), CorruptedIndices: []int{}}
	if len(events) == 0 {
		res.Valid = true
		return res
	}

	corrupted := make([]bool, len(events))
	for i, ev := range events {
		if i == 0 {
			if ev.PreviousHash != GenesisHash {
				corrupted[0] = true
			}
		} else if ev.PreviousHash != events[i-1].CurrentHash {
			corrupted[i] = true
		}
		if HashEvent(ev) != ev.CurrentHash {
			corrupted[i] = true
		}
	}

	for i, bad := range corrupted {
		if bad {
			res.CorruptedIndices = append(res.CorruptedIndices, i)
		}
	}

	if len(res.CorruptedIndices) == 0 {
		tip := events[len(events)-1].CurrentHash
		res.Valid = true
		res.ExpectedHash = tip
		res.ActualHash = tip
		return res
	}

	first := res.CorruptedIndices[0]
	res.ChainBreakAt = &first
	ev := events[first]
	switch {
	case first == 0:
		res.ExpectedHash = HashEvent(ev)
		res.ActualHash = ev.CurrentHash
	case ev.PreviousHash != events[first-1].CurrentHash:
		res.ExpectedHash = events[first-1].CurrentHash
		res.ActualHash = ev.PreviousHash
	default:
		res.ExpectedHash = HashEvent(ev)
		res.ActualHash = ev.CurrentHash
	}
	return res
}

// Details renders the human readable summary of v.
func (v Verification) Details() string {
	switch {
	case v.TotalEvents == 0:
		return "No events found for this alias - chain is empty"
	case v.Valid:
		return fmt.Sprintf("Hash chain integrity verified - all %d events are consistent", v.TotalEvents)
	default:
		idx := make([]string, len(v.CorruptedIndices))
		for i, c := range v.CorruptedIndices {
			idx[i] = fmt.Sprint(c)
		}
		return fmt.Sprintf("Chain broken at %d point(s) - events at indices [%s] are corrupted",
			len(v.CorruptedIndices), strings.Join(idx, ", "))
	}
}

// VerificationResponse is the wire shape returned to auditors.
type VerificationResponse struct {
	Alias           string `json:"alias"`
	IsValid         bool   `json:"is_valid"`
	TotalEvents     int    `json:"total_events"`
	ValidEvents     int    `json:"valid_events"`
	CorruptedEvents []int  `json:"corrupted_events"`
	ChainBreakAt    *int   `json:"chain_break_at"`
	ExpectedHash    string `json:"expected_hash,omitempty"`
	ActualHash      string `json:"actual_hash,omitempty"`
	Details         string `json:"details"`
}

// Response builds the wire shape of v for alias.
func (v Verification) Response(alias string) VerificationResponse {
	return VerificationResponse{
		Alias:           alias,
		IsValid:         v.Valid,
		TotalEvents:     v.TotalEvents,
		ValidEvents:     v.ValidEvents(),
		CorruptedEvents: v.CorruptedIndices,
		ChainBreakAt:    v.ChainBreakAt,
		ExpectedHash:    v.ExpectedHash,
		ActualHash:      v.ActualHash,
		Details:         v.Details(),
	}
}
