// Package matcher assigns bank transactions to the payers whose outstanding
// balance they settle.
package matcher

import (
	"iter"
	"slices"
	"strings"

	"github.com/insightdelivered/payment-reconciler/internal/ledger"
	"github.com/insightdelivered/payment-reconciler/internal/models"
	"github.com/insightdelivered/payment-reconciler/internal/refcode"
)

// DefaultCurrency is the settlement currency used when none is configured.
const DefaultCurrency = "CHF"

// Config holds matcher settings
type Config struct {
	// Currency is the expected settlement currency. Transactions in any
	// other currency are reported without a payer.
	Currency string
}

// Matcher matches the transactions of one statement against an index.
// An index belongs to a single run; build a new Matcher for every run.
type Matcher struct {
	currency string
	idx      *ledger.Index
}

// New creates a matcher reading from idx.
func New(cfg Config, idx *ledger.Index) *Matcher {
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Matcher{currency: currency, idx: idx}
}

type key struct {
	code   string
	amount string
}

// candidate is a credit transaction that still needs evidence resolution.
type candidate struct {
	result models.MatchResult
	key    key
	fresh  bool
}

// Match returns one result per credit transaction of txs, in order.
//
// Duplicate detection needs the whole batch, so txs is drained before the
// first result is yielded. A parse error is yielded once and ends the
// sequence; no results are produced for a batch that failed to parse.
func (m *Matcher) Match(txs iter.Seq2[models.Transaction, error]) iter.Seq2[models.MatchResult, error] {
	return func(yield func(models.MatchResult, error) bool) {
		var (
			batch  []candidate
			counts = make(map[key]int)
		)

		for tx, err := range txs {
			if err != nil {
				yield(models.MatchResult{}, err)
				return
			}
			if !tx.Credit {
				continue
			}

			c := m.screen(tx)
			if c.fresh {
				counts[c.key]++
			}
			batch = append(batch, c)
		}

		for _, c := range batch {
			result := c.result
			if c.fresh {
				if counts[c.key] > 1 {
					result.Duplicate = true
				} else {
					m.resolve(&result)
				}
			}
			if !yield(result, nil) {
				return
			}
		}
	}
}

// screen applies the currency filter and the idempotency lookup. The
// returned candidate is fresh when neither decided the outcome.
func (m *Matcher) screen(tx models.Transaction) candidate {
	result := models.MatchResult{Transaction: tx, Confidence: models.NoMatch}
	result.Code, _ = refcode.Extract(tx.Note)

	if !strings.EqualFold(tx.Currency, m.currency) {
		return candidate{result: result}
	}

	if payer, ok := m.idx.SettledBy(tx.TID); ok {
		result.Payer = payer
		result.Confidence = models.Certain
		result.Paid = true
		return candidate{result: result}
	}

	return candidate{
		result: result,
		key:    key{code: result.Code, amount: ledger.RoundAmount(tx.Amount).String()},
		fresh:  true,
	}
}

// resolve weighs code and amount evidence.
func (m *Matcher) resolve(result *models.MatchResult) {
	byCode := m.idx.ByCode(result.Code)
	byAmount := m.idx.ByAmount(result.Amount)

	switch {
	case len(byCode) > 0 && len(byAmount) > 0:
		combined := intersect(byCode, byAmount)
		if len(combined) == 1 {
			result.Payer = combined[0]
			result.Confidence = models.Certain
			return
		}
		if len(combined) == 0 {
			combined = union(byCode, byAmount)
		}
		result.Payer = combined[0]
		result.Confidence = models.Possible
	case len(byCode) > 0:
		result.Payer = byCode[0]
		result.Confidence = models.Possible
	case len(byAmount) > 0:
		result.Payer = byAmount[0]
		result.Confidence = models.Possible
	}
}

// intersect returns the sorted payers present in both sorted slices.
func intersect(a, b []string) []string {
	var out []string
	for _, p := range a {
		if _, found := slices.BinarySearch(b, p); found {
			out = append(out, p)
		}
	}
	return out
}

func union(a, b []string) []string {
	out := append(slices.Clone(a), b...)
	slices.Sort(out)
	return slices.Compact(out)
}
