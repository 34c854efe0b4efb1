package models

import (
	"github.com/shopspring/decimal"
)

// Confidence is the certainty with which a transaction was matched to a payer.
type Confidence float64

const (
	NoMatch  Confidence = 0.0 // no evidence
	Possible Confidence = 0.5 // one signal, or two conflicting signals
	Certain  Confidence = 1.0 // code and amount agree on a single payer
)

// String returns the tier name used in reports.
func (c Confidence) String() string {
	switch c {
	case Certain:
		return "certain"
	case Possible:
		return "possible"
	default:
		return "none"
	}
}

// OutstandingItem is a single billing record as delivered by the billing feed.
type OutstandingItem struct {
	ID     int64           `json:"id"`
	Payer  string          `json:"payer"`
	Period string          `json:"period"`
	Amount decimal.Decimal `json:"amount"`
	Code   string          `json:"code"`
	Paid   bool            `json:"paid"`
	TID    string          `json:"tid,omitempty"`
	Source string          `json:"source,omitempty"`
}

// VirtualInvoice aggregates the unpaid items of one payer within a period.
// It only exists for the duration of a reconciliation run.
type VirtualInvoice struct {
	Payer  string          `json:"payer"`
	Code   string          `json:"code"`
	Amount decimal.Decimal `json:"amount"`
}

// MatchResult is a credit transaction annotated with the payer it settles.
type MatchResult struct {
	Transaction
	Code       string     `json:"code,omitempty"`  // reference code extracted from the note
	Payer      string     `json:"payer,omitempty"` // empty when unmatched
	Confidence Confidence `json:"confidence"`
	Duplicate  bool       `json:"duplicate"`
	Paid       bool       `json:"paid"`
}

// Matched reports whether a payer was resolved.
func (r MatchResult) Matched() bool {
	return r.Payer != ""
}
