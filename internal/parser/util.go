package parser

import (
	"fmt"
	"strings"
	"time"

	"github.com/insightdelivered/payment-reconciler/internal/models"
	"github.com/shopspring/decimal"
)

const isoDate = "2006-01-02"

// parseAmount converts an ISO 20022 amount like "1234.56" to an exact decimal.
// ISO amounts never carry thousands separators or currency symbols.
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q", s)
	}
	return amount, nil
}

// parseDate parses an ISO date (YYYY-MM-DD).
func parseDate(s string) (models.Date, error) {
	t, err := time.Parse(isoDate, strings.TrimSpace(s))
	if err != nil {
		return models.Date{}, fmt.Errorf("invalid date %q", s)
	}
	return models.NewDate(t), nil
}

// parseDateTime keeps the calendar date of an ISO date time such as
// "2016-04-30T10:15:00+02:00". The time of day is dropped as written, without
// converting time zones.
func parseDateTime(s string) (models.Date, error) {
	s = strings.TrimSpace(s)
	if len(s) < len(isoDate) {
		return models.Date{}, fmt.Errorf("invalid date time %q", s)
	}
	return parseDate(s[:len(isoDate)])
}

// parseIndicator maps CdtDbtInd to true for credits.
func parseIndicator(s string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRDT":
		return true, nil
	case "DBIT":
		return false, nil
	case "":
		return false, fmt.Errorf("missing credit/debit indicator")
	default:
		return false, fmt.Errorf("invalid credit/debit indicator %q", s)
	}
}

// joinLines joins the unstructured remittance lines of a transaction.
func joinLines(lines []string) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, "\n")
}
