package parser

import (
	"testing"
	"time"

	"github.com/insightdelivered/payment-reconciler/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		wantErr  bool
	}{
		{"24.00", "24", false},
		{" 328.75 ", "328.75", false},
		{"0.1", "0.1", false},
		{"1234567.89", "1234567.89", false},
		{"", "", true},
		{"1,234.56", "", true},
		{"CHF 10", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseAmount(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.expected).Equal(got), "got %s, want %s", got, tt.expected)
		})
	}
}

func TestParseAmount_NoFloatDrift(t *testing.T) {
	a, err := parseAmount("0.1")
	require.NoError(t, err)
	b, err := parseAmount("0.2")
	require.NoError(t, err)

	assert.True(t, a.Add(b).Equal(decimal.RequireFromString("0.3")))
}

func TestParseDate(t *testing.T) {
	got, err := parseDate("2016-04-30")
	require.NoError(t, err)
	assert.Equal(t, models.Date{Year: 2016, Month: time.April, Day: 30}, got)

	_, err = parseDate("30/04/2016")
	assert.Error(t, err)
}

func TestParseDateTime(t *testing.T) {
	got, err := parseDateTime("2016-04-30T23:30:00-05:00")
	require.NoError(t, err)
	assert.Equal(t, models.Date{Year: 2016, Month: time.April, Day: 30}, got)

	_, err = parseDateTime("2016")
	assert.Error(t, err)
}

func TestParseIndicator(t *testing.T) {
	credit, err := parseIndicator("CRDT")
	require.NoError(t, err)
	assert.True(t, credit)

	credit, err = parseIndicator(" dbit ")
	require.NoError(t, err)
	assert.False(t, credit)

	_, err = parseIndicator("")
	assert.Error(t, err)
	_, err = parseIndicator("RVSL")
	assert.Error(t, err)
}

func TestJoinLines(t *testing.T) {
	assert.Equal(t, "A\nB", joinLines([]string{" A ", "", "B"}))
	assert.Equal(t, "", joinLines(nil))
}
