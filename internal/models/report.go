package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Summary counts the outcomes of a reconciliation run.
type Summary struct {
	Transactions int             `json:"transactions"` // credit transactions matched
	Certain      int             `json:"certain"`
	Possible     int             `json:"possible"`
	Unmatched    int             `json:"unmatched"`
	Duplicates   int             `json:"duplicates"`
	Paid         int             `json:"paid"`
	Applied      int             `json:"applied"` // settlements recorded by this run
	Total        decimal.Decimal `json:"total"`   // sum of all credits
	Settled      decimal.Decimal `json:"settled"` // sum of new certain matches
}

// Add counts one result.
func (s *Summary) Add(r MatchResult) {
	s.Transactions++
	s.Total = s.Total.Add(r.Amount)

	switch {
	case r.Paid:
		s.Paid++
	case r.Duplicate:
		s.Duplicates++
	case r.Confidence == Certain:
		s.Certain++
		s.Settled = s.Settled.Add(r.Amount)
	case r.Confidence == Possible:
		s.Possible++
	default:
		s.Unmatched++
	}
}

// Report is the outcome of reconciling one statement against one period.
type Report struct {
	RunID     string        `json:"runId"`
	Period    string        `json:"period"`
	Format    Format        `json:"format"`
	Source    string        `json:"source,omitempty"` // statement file name
	Currency  string        `json:"currency"`
	CreatedAt time.Time     `json:"createdAt"`
	Results   []MatchResult `json:"results"`
	Summary   Summary       `json:"summary"`
}

// Settlements returns the results that may be recorded as payments: certain,
// not yet recorded and not part of a duplicate group.
func (r *Report) Settlements() []MatchResult {
	var out []MatchResult
	for _, res := range r.Results {
		if res.Confidence == Certain && !res.Paid && !res.Duplicate && res.Payer != "" {
			out = append(out, res)
		}
	}
	return out
}
