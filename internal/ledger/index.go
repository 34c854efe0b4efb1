// Package ledger turns a snapshot of outstanding billing items into the
// lookup structures used to match bank transactions to payers.
package ledger

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/insightdelivered/payment-reconciler/internal/models"
	"github.com/shopspring/decimal"
)

// SourceReconciliation marks items settled by matching a bank statement.
const SourceReconciliation = "reconciliation"

// Source is the billing feed the index is built from. Both calls are made
// once per run and their results are treated as a point-in-time snapshot.
type Source interface {
	// ListUnpaid returns the items of the period that are not paid yet.
	ListUnpaid(ctx context.Context, period string) ([]models.OutstandingItem, error)
	// ListSettledIDs maps bank transaction ids to the payer whose items they
	// settled through reconciliation.
	ListSettledIDs(ctx context.Context, period string) (map[string]string, error)
}

// InconsistentAggregateError is returned when the unpaid items of one payer
// disagree on the reference code. Picking one of the codes could route a
// payment to the wrong payer, so the run is refused.
type InconsistentAggregateError struct {
	Payer string
	Codes []string
}

func (e *InconsistentAggregateError) Error() string {
	return fmt.Sprintf("inconsistent reference codes for payer %q: %s", e.Payer, strings.Join(e.Codes, ", "))
}

// Index holds the virtual invoices of one period together with lookups by
// reference code, by rounded amount and by settled transaction id. It is
// immutable once built and must not be reused across runs.
type Index struct {
	invoices map[string]models.VirtualInvoice
	byCode   map[string][]string
	byAmount map[string][]string
	settled  map[string]string
}

// RoundAmount rounds to whole currency units using banker's rounding
// (half to even), so 124.50 becomes 124 and 125.50 becomes 126.
func RoundAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.RoundBank(0)
}

func amountKey(amount decimal.Decimal) string {
	return RoundAmount(amount).String()
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// Build loads a snapshot of the period from src and indexes it. Items that
// belong to another period are ignored.
func Build(ctx context.Context, src Source, period string) (*Index, error) {
	items, err := src.ListUnpaid(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("failed to list unpaid items: %w", err)
	}
	settled, err := src.ListSettledIDs(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("failed to list settled transactions: %w", err)
	}

	scoped := items[:0:0]
	for _, item := range items {
		if item.Period == period {
			scoped = append(scoped, item)
		}
	}

	return NewIndex(scoped, settled)
}

// NewIndex aggregates the unpaid items per payer and builds the lookups.
// Paid items are skipped. settled may be nil.
func NewIndex(items []models.OutstandingItem, settled map[string]string) (*Index, error) {
	idx := &Index{
		invoices: make(map[string]models.VirtualInvoice),
		byCode:   make(map[string][]string),
		byAmount: make(map[string][]string),
		settled:  make(map[string]string, len(settled)),
	}

	codes := make(map[string][]string)
	for _, item := range items {
		if item.Paid {
			continue
		}

		code := normalizeCode(item.Code)
		inv, ok := idx.invoices[item.Payer]
		if !ok {
			inv = models.VirtualInvoice{Payer: item.Payer, Code: code}
		}
		inv.Amount = inv.Amount.Add(item.Amount)
		idx.invoices[item.Payer] = inv

		if !slices.Contains(codes[item.Payer], code) {
			codes[item.Payer] = append(codes[item.Payer], code)
		}
	}

	payers := slices.Sorted(maps.Keys(codes))
	for _, payer := range payers {
		if c := codes[payer]; len(c) > 1 {
			sort.Strings(c)
			return nil, &InconsistentAggregateError{Payer: payer, Codes: c}
		}
	}

	for payer, inv := range idx.invoices {
		if inv.Code != "" {
			idx.byCode[inv.Code] = append(idx.byCode[inv.Code], payer)
		}
		key := amountKey(inv.Amount)
		idx.byAmount[key] = append(idx.byAmount[key], payer)
	}
	for _, payers := range idx.byCode {
		sort.Strings(payers)
	}
	for _, payers := range idx.byAmount {
		sort.Strings(payers)
	}

	for tid, payer := range settled {
		if tid != "" {
			idx.settled[tid] = payer
		}
	}

	return idx, nil
}

// ByCode returns the payers, sorted, whose invoice carries code.
func (idx *Index) ByCode(code string) []string {
	code = normalizeCode(code)
	if code == "" {
		return nil
	}
	return slices.Clone(idx.byCode[code])
}

// ByAmount returns the payers, sorted, whose invoice total rounds to the
// same whole amount as amount.
func (idx *Index) ByAmount(amount decimal.Decimal) []string {
	return slices.Clone(idx.byAmount[amountKey(amount)])
}

// SettledBy returns the payer a bank transaction id was already applied to.
func (idx *Index) SettledBy(tid string) (string, bool) {
	if tid == "" {
		return "", false
	}
	payer, ok := idx.settled[tid]
	return payer, ok
}

// Invoice returns the virtual invoice of payer.
func (idx *Index) Invoice(payer string) (models.VirtualInvoice, bool) {
	inv, ok := idx.invoices[payer]
	return inv, ok
}

// Invoices returns all virtual invoices ordered by payer.
func (idx *Index) Invoices() []models.VirtualInvoice {
	out := make([]models.VirtualInvoice, 0, len(idx.invoices))
	for _, inv := range idx.invoices {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Payer < out[j].Payer
	})
	return out
}
