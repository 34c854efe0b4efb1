package matcher

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/insightdelivered/payment-reconciler/internal/ledger"
	"github.com/insightdelivered/payment-reconciler/internal/models"
	"github.com/insightdelivered/payment-reconciler/internal/parser"
	testutil "github.com/insightdelivered/payment-reconciler/internal/testing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ownerCode   = "q70171292fa"
	member17    = "q0a1b2c3d4e"
	member18    = "q9f8e7d6c5b"
	owner       = "owner"
	member      = "member"
	otherMember = "zeta"
)

// memorySource serves billing items for several periods.
type memorySource struct {
	items   []models.OutstandingItem
	settled map[string]map[string]string
}

func (s *memorySource) ListUnpaid(ctx context.Context, period string) ([]models.OutstandingItem, error) {
	var out []models.OutstandingItem
	for _, it := range s.items {
		if it.Period == period && !it.Paid {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *memorySource) ListSettledIDs(ctx context.Context, period string) (map[string]string, error) {
	return s.settled[period], nil
}

func billingItem(payer, period, code, amount string) models.OutstandingItem {
	return models.OutstandingItem{
		Payer:  payer,
		Period: period,
		Code:   code,
		Amount: decimal.RequireFromString(amount),
	}
}

func newSource() *memorySource {
	return &memorySource{
		items: []models.OutstandingItem{
			billingItem(owner, "2017", ownerCode, "250"),
			billingItem(owner, "2017", ownerCode, "250"),
			billingItem(member, "2017", member17, "250"),
			billingItem(member, "2018", member18, "250"),
		},
	}
}

func match(t *testing.T, src ledger.Source, period string, payments []testutil.Payment) []models.MatchResult {
	t.Helper()

	idx, err := ledger.Build(context.Background(), src, period)
	require.NoError(t, err)

	doc := testutil.GenerateCAMT053(payments)
	txs := (&parser.CAMT053Parser{}).Parse(strings.NewReader(doc))

	var results []models.MatchResult
	for r, err := range New(Config{}, idx).Match(txs) {
		require.NoError(t, err)
		results = append(results, r)
	}
	return results
}

func TestMatch_PerfectAndAmountMismatch(t *testing.T) {
	results := match(t, newSource(), "2017", []testutil.Payment{
		{Amount: "500.00 CHF", Note: ownerCode},
		{Amount: "500.00 CHF", Note: member17},
	})

	require.Len(t, results, 2)

	assert.Equal(t, owner, results[0].Payer)
	assert.Equal(t, models.Certain, results[0].Confidence)
	assert.Equal(t, ownerCode, results[0].Code)
	assert.Equal(t, ownerCode, results[0].Note)
	assert.True(t, decimal.NewFromInt(500).Equal(results[0].Amount))

	assert.Equal(t, member, results[1].Payer)
	assert.Equal(t, models.Possible, results[1].Confidence)
	assert.False(t, results[1].Duplicate)
	assert.False(t, results[1].Paid)
}

func TestMatch_DebitsAreDropped(t *testing.T) {
	results := match(t, newSource(), "2017", []testutil.Payment{
		{Amount: "-500.00 CHF", Note: ownerCode},
		{Amount: "-500.00 CHF", Note: member17},
	})
	assert.Empty(t, results)

	results = match(t, newSource(), "2017", []testutil.Payment{
		{Amount: "-500.00 CHF", Note: ownerCode},
		{Amount: "500.00 CHF", Note: ownerCode},
		{Amount: "-24.00 CHF"},
	})
	require.Len(t, results, 1)
	assert.Equal(t, "T1", results[0].TID)
}

func TestMatch_CodeInProse(t *testing.T) {
	results := match(t, newSource(), "2017", []testutil.Payment{
		{Amount: "500.00 CHF", Note: "Code: Q-7o171-292FA"},
	})

	require.Len(t, results, 1)
	assert.Equal(t, owner, results[0].Payer)
	assert.Equal(t, models.Certain, results[0].Confidence)
	assert.Equal(t, ownerCode, results[0].Code)
}

func TestMatch_OtherPeriod(t *testing.T) {
	results := match(t, newSource(), "2018", []testutil.Payment{
		{Amount: "500.00 CHF", Note: ownerCode},
		{Amount: "250.00 CHF", Note: member17},
		{Amount: "250.00 CHF", Note: member18},
	})

	require.Len(t, results, 3)

	assert.Empty(t, results[0].Payer)
	assert.Equal(t, models.NoMatch, results[0].Confidence)
	assert.False(t, results[0].Matched())

	assert.Equal(t, member, results[1].Payer)
	assert.Equal(t, models.Possible, results[1].Confidence)

	assert.Equal(t, member, results[2].Payer)
	assert.Equal(t, models.Certain, results[2].Confidence)
}

func TestMatch_WrongCurrency(t *testing.T) {
	results := match(t, newSource(), "2018", []testutil.Payment{
		{Amount: "250.00 EUR", Note: member18},
	})

	require.Len(t, results, 1)
	assert.Empty(t, results[0].Payer)
	assert.Equal(t, models.NoMatch, results[0].Confidence)
	assert.False(t, results[0].Duplicate)
	assert.False(t, results[0].Paid)
}

func TestMatch_ConfiguredCurrency(t *testing.T) {
	idx, err := ledger.NewIndex([]models.OutstandingItem{
		billingItem(member, "2018", member18, "250"),
	}, nil)
	require.NoError(t, err)

	doc := testutil.GenerateCAMT053([]testutil.Payment{{Amount: "250.00 EUR", Note: member18}})
	txs := (&parser.CAMT053Parser{}).Parse(strings.NewReader(doc))

	var results []models.MatchResult
	for r, err := range New(Config{Currency: "eur"}, idx).Match(txs) {
		require.NoError(t, err)
		results = append(results, r)
	}

	require.Len(t, results, 1)
	assert.Equal(t, member, results[0].Payer)
	assert.Equal(t, models.Certain, results[0].Confidence)
}

func TestMatch_WrongCode(t *testing.T) {
	results := match(t, newSource(), "2018", []testutil.Payment{
		{Amount: "250.00 CHF", Note: "asdf"},
	})
	require.Len(t, results, 1)
	assert.Equal(t, member, results[0].Payer)
	assert.Equal(t, models.Possible, results[0].Confidence)
	assert.Empty(t, results[0].Code)

	results = match(t, newSource(), "2018", []testutil.Payment{
		{Amount: "123.00 CHF", Note: "asdf"},
	})
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Payer)
	assert.Equal(t, models.NoMatch, results[0].Confidence)
}

func TestMatch_DuplicateBookings(t *testing.T) {
	results := match(t, newSource(), "2018", []testutil.Payment{
		{Amount: "250.00 CHF", Note: member18},
		{Amount: "250.00 CHF", Note: member18},
	})

	require.Len(t, results, 2)
	for _, r := range results {
		assert.Empty(t, r.Payer)
		assert.Equal(t, models.NoMatch, r.Confidence)
		assert.True(t, r.Duplicate)
		assert.False(t, r.Paid)
	}
}

func TestMatch_SplitBookings(t *testing.T) {
	results := match(t, newSource(), "2017", []testutil.Payment{
		{Amount: "500.00 CHF", Note: ownerCode},
		{Amount: "125.00 CHF", Note: ownerCode},
		{Amount: "125.00 CHF", Note: ownerCode},
	})

	require.Len(t, results, 3)
	assert.False(t, results[0].Duplicate)
	assert.Equal(t, owner, results[0].Payer)
	assert.Equal(t, models.Certain, results[0].Confidence)
	for _, r := range results[1:] {
		assert.Empty(t, r.Payer)
		assert.Equal(t, models.NoMatch, r.Confidence)
		assert.True(t, r.Duplicate)
	}
}

func TestMatch_DuplicatesRoundToTheSameAmount(t *testing.T) {
	results := match(t, newSource(), "2018", []testutil.Payment{
		{Amount: "250.20 CHF", Note: member18},
		{Amount: "249.90 CHF", Note: member18},
	})

	require.Len(t, results, 2)
	assert.True(t, results[0].Duplicate)
	assert.True(t, results[1].Duplicate)
}

func TestMatch_SameAmountWithoutCodeIsDuplicate(t *testing.T) {
	results := match(t, newSource(), "2018", []testutil.Payment{
		{Amount: "250.00 CHF", Note: "thanks"},
		{Amount: "250.00 CHF", Note: "see you"},
	})

	require.Len(t, results, 2)
	assert.True(t, results[0].Duplicate)
	assert.True(t, results[1].Duplicate)
}

func TestMatch_PaidTransactions(t *testing.T) {
	src := newSource()
	src.items[0].Paid = true
	src.items[0].TID = "foobar"
	src.items[0].Source = ledger.SourceReconciliation
	src.settled = map[string]map[string]string{"2017": {"foobar": owner}}

	results := match(t, src, "2017", []testutil.Payment{
		{Amount: "250 CHF", Note: ownerCode, TID: "foobar"},
		{Amount: "250 CHF", Note: ownerCode},
	})

	require.Len(t, results, 2)

	assert.Equal(t, "foobar", results[0].TID)
	assert.Equal(t, owner, results[0].Payer)
	assert.Equal(t, models.Certain, results[0].Confidence)
	assert.True(t, results[0].Paid)
	assert.False(t, results[0].Duplicate)

	// The replayed settlement does not count against the fresh payment.
	assert.Equal(t, owner, results[1].Payer)
	assert.Equal(t, models.Certain, results[1].Confidence)
	assert.False(t, results[1].Paid)
	assert.False(t, results[1].Duplicate)
}

func TestMatch_CurrencyCheckedBeforeSettlements(t *testing.T) {
	src := newSource()
	src.settled = map[string]map[string]string{"2017": {"foobar": owner}}

	results := match(t, src, "2017", []testutil.Payment{
		{Amount: "250 EUR", Note: ownerCode, TID: "foobar"},
	})

	require.Len(t, results, 1)
	assert.False(t, results[0].Paid, "the currency filter runs first")
	assert.Equal(t, models.NoMatch, results[0].Confidence)
}

func TestMatch_TieBreak(t *testing.T) {
	idx, err := ledger.NewIndex([]models.OutstandingItem{
		billingItem(otherMember, "2017", ownerCode, "100"),
		billingItem(owner, "2017", ownerCode, "100"),
		billingItem(member, "2017", member17, "300"),
	}, nil)
	require.NoError(t, err)

	tests := []struct {
		name       string
		amount     string
		note       string
		payer      string
		confidence models.Confidence
	}{
		{"shared code and amount", "100.00", ownerCode, owner, models.Possible},
		{"shared code only", "42.00", ownerCode, owner, models.Possible},
		{"code and amount disagree", "300.00", ownerCode, member, models.Possible},
		{"amount only", "300.00", "", member, models.Possible},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := models.Transaction{
				Amount:   decimal.RequireFromString(tt.amount),
				Currency: "CHF",
				Credit:   true,
				Note:     tt.note,
			}

			var results []models.MatchResult
			for r, err := range New(Config{}, idx).Match(seq(tx)) {
				require.NoError(t, err)
				results = append(results, r)
			}

			require.Len(t, results, 1)
			assert.Equal(t, tt.payer, results[0].Payer)
			assert.Equal(t, tt.confidence, results[0].Confidence)
		})
	}
}

func TestMatch_ParseErrorStopsSequence(t *testing.T) {
	idx, err := ledger.NewIndex(nil, nil)
	require.NoError(t, err)

	boom := errors.New("boom")
	txs := func(yield func(models.Transaction, error) bool) {
		if !yield(models.Transaction{Credit: true, Currency: "CHF"}, nil) {
			return
		}
		yield(models.Transaction{}, boom)
	}

	var (
		results []models.MatchResult
		errs    []error
	)
	for r, err := range New(Config{}, idx).Match(txs) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, r)
	}

	assert.Empty(t, results)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
}

func TestMatch_MalformedDocument(t *testing.T) {
	idx, err := ledger.NewIndex(nil, nil)
	require.NoError(t, err)

	txs := (&parser.CAMT053Parser{}).Parse(strings.NewReader("<Document><BkToCstmrStmt>"))

	var malformed *parser.MalformedDocumentError
	for _, err := range New(Config{}, idx).Match(txs) {
		require.ErrorAs(t, err, &malformed)
	}
	assert.NotNil(t, malformed)
}

func TestMatch_StopEarly(t *testing.T) {
	results := 0
	src := newSource()
	idx, err := ledger.Build(context.Background(), src, "2018")
	require.NoError(t, err)

	txs := seq(
		models.Transaction{Amount: decimal.NewFromInt(1), Currency: "CHF", Credit: true},
		models.Transaction{Amount: decimal.NewFromInt(2), Currency: "CHF", Credit: true},
		models.Transaction{Amount: decimal.NewFromInt(3), Currency: "CHF", Credit: true},
	)
	for range New(Config{}, idx).Match(txs) {
		results++
		break
	}
	assert.Equal(t, 1, results)
}

func seq(txs ...models.Transaction) iter.Seq2[models.Transaction, error] {
	return func(yield func(models.Transaction, error) bool) {
		for _, tx := range txs {
			if !yield(tx, nil) {
				return
			}
		}
	}
}
