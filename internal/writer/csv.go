package writer

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/insightdelivered/payment-reconciler/internal/models"
)

// CSVWriter writes reconciliation reports to CSV format.
type CSVWriter struct {
	IncludeHeader bool
}

// WriteToFile writes the report to a CSV file at the given path.
func (w *CSVWriter) WriteToFile(path string, report *models.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file %q: %w", path, err)
	}
	defer f.Close()

	if err := w.Write(f, report); err != nil {
		return err
	}
	return f.Close()
}

// Write writes the report in CSV format to the given writer.
func (w *CSVWriter) Write(out io.Writer, report *models.Report) error {
	writer := csv.NewWriter(out)

	// Write run metadata as comment rows
	if w.IncludeHeader {
		meta := [][]string{
			{"# Run", report.RunID},
			{"# Period", report.Period},
			{"# Format", string(report.Format)},
			{"# Source", report.Source},
			{"# Currency", report.Currency},
			{"# Certain", strconv.Itoa(report.Summary.Certain)},
			{"# Possible", strconv.Itoa(report.Summary.Possible)},
			{"# Unmatched", strconv.Itoa(report.Summary.Unmatched)},
			{"# Duplicates", strconv.Itoa(report.Summary.Duplicates)},
			{"# Paid", strconv.Itoa(report.Summary.Paid)},
		}
		for _, row := range meta {
			if row[1] == "" {
				continue
			}
			if err := writer.Write(row); err != nil {
				return fmt.Errorf("failed to write CSV metadata: %w", err)
			}
		}
	}

	header := []string{
		"Booking Date", "Value Date", "Amount", "Currency", "Transaction ID",
		"Debitor", "Debitor Account", "Note", "Code", "Payer",
		"Confidence", "Duplicate", "Paid",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, res := range report.Results {
		row := []string{
			res.BookingDate.String(),
			res.ValueDate.String(),
			res.Amount.StringFixed(2),
			res.Currency,
			res.TID,
			res.Debitor,
			res.DebitorAccount,
			res.Note,
			res.Code,
			res.Payer,
			formatConfidence(res.Confidence),
			formatFlag(res.Duplicate),
			formatFlag(res.Paid),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

func formatConfidence(c models.Confidence) string {
	return strconv.FormatFloat(float64(c), 'f', 1, 64)
}

func formatFlag(b bool) string {
	if b {
		return "yes"
	}
	return ""
}
