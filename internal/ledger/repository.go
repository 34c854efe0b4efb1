package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/insightdelivered/payment-reconciler/internal/database"
	"github.com/insightdelivered/payment-reconciler/internal/models"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Repository stores billing items in the invoice_items table and serves as
// the Source of reconciliation runs.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new billing item repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "invoice_items").Logger(),
	}
}

// Add inserts a billing item and sets its ID.
func (r *Repository) Add(ctx context.Context, item *models.OutstandingItem) error {
	var tid, source any
	if item.TID != "" {
		tid = item.TID
	}
	if item.Source != "" {
		source = item.Source
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO invoice_items (payer, period, code, amount, paid, tid, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, item.Payer, item.Period, normalizeCode(item.Code), item.Amount.String(), item.Paid, tid, source, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to insert invoice item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	item.ID = id
	return nil
}

// ListUnpaid returns the unpaid items of period ordered by payer.
func (r *Repository) ListUnpaid(ctx context.Context, period string) ([]models.OutstandingItem, error) {
	return r.query(ctx, `
		SELECT id, payer, period, code, amount, paid, tid, source
		FROM invoice_items
		WHERE period = ? AND paid = 0
		ORDER BY payer, id
	`, period)
}

// ListByPeriod returns every item of period, paid or not.
func (r *Repository) ListByPeriod(ctx context.Context, period string) ([]models.OutstandingItem, error) {
	return r.query(ctx, `
		SELECT id, payer, period, code, amount, paid, tid, source
		FROM invoice_items
		WHERE period = ?
		ORDER BY payer, id
	`, period)
}

// ListSettledIDs maps the transaction ids recorded by reconciliation in
// period to their payer.
func (r *Repository) ListSettledIDs(ctx context.Context, period string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT tid, payer
		FROM invoice_items
		WHERE period = ? AND paid = 1 AND source = ? AND tid IS NOT NULL AND tid != ''
	`, period, SourceReconciliation)
	if err != nil {
		return nil, fmt.Errorf("failed to query settled items: %w", err)
	}
	defer rows.Close()

	settled := make(map[string]string)
	for rows.Next() {
		var tid, payer string
		if err := rows.Scan(&tid, &payer); err != nil {
			return nil, fmt.Errorf("failed to scan settled item: %w", err)
		}
		if prev, ok := settled[tid]; ok && prev != payer {
			r.log.Warn().
				Str("tid", tid).
				Str("payer", payer).
				Str("previous_payer", prev).
				Msg("Transaction id recorded for more than one payer")
		}
		settled[tid] = payer
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settled items: %w", err)
	}
	return settled, nil
}

// Settlement is a bank transaction to be recorded against a payer.
type Settlement struct {
	Payer string
	TID   string
}

// RecordSettlements marks the unpaid items of each settlement's payer in
// period as paid by its bank transaction. All settlements are recorded in
// one transaction: on error nothing is recorded. A tid already recorded for
// the period is skipped. It returns the number of settlements that marked
// at least one item.
func (r *Repository) RecordSettlements(ctx context.Context, period string, settlements []Settlement) (int, error) {
	for _, st := range settlements {
		if st.TID == "" {
			return 0, fmt.Errorf("transaction id is required to record a settlement for %s", st.Payer)
		}
	}
	if len(settlements) == 0 {
		return 0, nil
	}

	marked := make([]int64, len(settlements))
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		now := time.Now().Unix()
		for i, st := range settlements {
			var exists int
			err := tx.QueryRowContext(ctx, `
				SELECT COUNT(*) FROM invoice_items WHERE period = ? AND tid = ? AND source = ?
			`, period, st.TID, SourceReconciliation).Scan(&exists)
			if err != nil {
				return fmt.Errorf("failed to check transaction id %s: %w", st.TID, err)
			}
			if exists > 0 {
				continue
			}

			result, err := tx.ExecContext(ctx, `
				UPDATE invoice_items
				SET paid = 1, tid = ?, source = ?, paid_at = ?
				WHERE period = ? AND payer = ? AND paid = 0
			`, st.TID, SourceReconciliation, now, period, st.Payer)
			if err != nil {
				return fmt.Errorf("failed to record settlement %s for %s: %w", st.TID, st.Payer, err)
			}
			if marked[i], err = result.RowsAffected(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	applied := 0
	for i, st := range settlements {
		if marked[i] == 0 {
			continue
		}
		applied++
		r.log.Info().
			Str("period", period).
			Str("payer", st.Payer).
			Str("tid", st.TID).
			Int64("items", marked[i]).
			Msg("Recorded settlement")
	}
	return applied, nil
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]models.OutstandingItem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice items: %w", err)
	}
	defer rows.Close()

	var items []models.OutstandingItem
	for rows.Next() {
		var (
			item   models.OutstandingItem
			amount string
			tid    sql.NullString
			source sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.Payer, &item.Period, &item.Code, &amount, &item.Paid, &tid, &source); err != nil {
			return nil, fmt.Errorf("failed to scan invoice item: %w", err)
		}
		item.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q for invoice item %d: %w", amount, item.ID, err)
		}
		item.TID = tid.String
		item.Source = source.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invoice items: %w", err)
	}
	return items, nil
}
