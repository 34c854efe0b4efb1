package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction represents a single transaction detail block of a bank statement.
type Transaction struct {
	BookingDate    Date            `json:"bookingDate"`
	ValueDate      Date            `json:"valueDate"`
	BookingText    string          `json:"bookingText,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Credit         bool            `json:"credit"`
	Note           string          `json:"note,omitempty"`
	Reference      string          `json:"reference,omitempty"`
	Debitor        string          `json:"debitor,omitempty"`
	DebitorAccount string          `json:"debitorAccount,omitempty"`
	TID            string          `json:"tid,omitempty"` // bank-assigned transaction id
}

// Format represents supported statement document formats.
type Format string

const (
	FormatCAMT053 Format = "camt.053"
	FormatCAMT054 Format = "camt.054"
)

// Date is a calendar date without a time of day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate returns the calendar date of t in t's location.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// String formats the date as YYYY-MM-DD, or "" when unset.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// MarshalJSON encodes the date as a YYYY-MM-DD string, or null when unset.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}
