// Package reconcile runs a bank statement through the matcher against a
// snapshot of the outstanding billing items and records the outcome.
package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/insightdelivered/payment-reconciler/internal/ledger"
	"github.com/insightdelivered/payment-reconciler/internal/matcher"
	"github.com/insightdelivered/payment-reconciler/internal/models"
	"github.com/insightdelivered/payment-reconciler/internal/parser"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

const (
	DefaultReportTTL     = time.Hour
	CacheCleanupInterval = 30 * time.Minute
)

var (
	// ErrPeriodRequired is returned when a run names no billing period.
	ErrPeriodRequired = errors.New("billing period is required")
	// ErrEmptyDocument is returned when a run carries no statement.
	ErrEmptyDocument = errors.New("statement document is empty")
)

// Store is the billing feed a run reads from and writes settlements to.
type Store interface {
	ledger.Source
	RecordSettlements(ctx context.Context, period string, settlements []ledger.Settlement) (int, error)
}

// Config holds service settings
type Config struct {
	Currency  string
	ReportTTL time.Duration
}

// Request describes one reconciliation run.
type Request struct {
	Period   string
	Document []byte
	Format   models.Format // detected from the document when empty
	Source   string        // file name, reported only
	Apply    bool          // record certain matches as settlements
}

// Service runs reconciliations and keeps their reports for a while.
type Service struct {
	store   Store
	cfg     Config
	reports *cache.Cache
	log     zerolog.Logger
}

// NewService creates a reconciliation service.
func NewService(store Store, cfg Config, log zerolog.Logger) *Service {
	if cfg.Currency == "" {
		cfg.Currency = matcher.DefaultCurrency
	}
	cfg.Currency = strings.ToUpper(cfg.Currency)
	if cfg.ReportTTL <= 0 {
		cfg.ReportTTL = DefaultReportTTL
	}

	return &Service{
		store:   store,
		cfg:     cfg,
		reports: cache.New(cfg.ReportTTL, CacheCleanupInterval),
		log:     log.With().Str("component", "reconcile").Logger(),
	}
}

// Run reconciles one statement. The billing snapshot is taken once, before
// the statement is parsed. A failed run records nothing.
func (s *Service) Run(ctx context.Context, req Request) (*models.Report, error) {
	period := strings.TrimSpace(req.Period)
	if period == "" {
		return nil, ErrPeriodRequired
	}
	if len(bytes.TrimSpace(req.Document)) == 0 {
		return nil, ErrEmptyDocument
	}

	format := req.Format
	if format == "" {
		detected, err := parser.AutoDetect(req.Document)
		if err != nil {
			return nil, err
		}
		format = detected
	}
	p, err := parser.New(format)
	if err != nil {
		return nil, err
	}

	idx, err := ledger.Build(ctx, s.store, period)
	if err != nil {
		return nil, err
	}

	report := &models.Report{
		RunID:     uuid.NewString(),
		Period:    period,
		Format:    format,
		Source:    req.Source,
		Currency:  s.cfg.Currency,
		CreatedAt: time.Now().UTC(),
		Results:   []models.MatchResult{},
	}

	m := matcher.New(matcher.Config{Currency: s.cfg.Currency}, idx)
	for result, err := range m.Match(p.Parse(bytes.NewReader(req.Document))) {
		if err != nil {
			s.log.Warn().Err(err).Str("period", period).Str("source", req.Source).Msg("Statement rejected")
			return nil, err
		}
		report.Results = append(report.Results, result)
		report.Summary.Add(result)
	}

	if req.Apply {
		applied, err := s.apply(ctx, report)
		if err != nil {
			s.log.Error().Err(err).Str("run_id", report.RunID).Str("period", period).Msg("Settlements not recorded")
			return nil, fmt.Errorf("run %s: %w", report.RunID, err)
		}
		report.Summary.Applied = applied
	}

	s.reports.Set(report.RunID, report, cache.DefaultExpiration)

	s.log.Info().
		Str("run_id", report.RunID).
		Str("period", period).
		Str("format", string(format)).
		Str("source", req.Source).
		Int("transactions", report.Summary.Transactions).
		Int("certain", report.Summary.Certain).
		Int("possible", report.Summary.Possible).
		Int("unmatched", report.Summary.Unmatched).
		Int("duplicates", report.Summary.Duplicates).
		Int("paid", report.Summary.Paid).
		Int("applied", report.Summary.Applied).
		Msg("Reconciliation finished")

	return report, nil
}

// apply records the certain matches of report in one batch. Results
// without a bank transaction id cannot be recorded idempotently and are left
// for review.
func (s *Service) apply(ctx context.Context, report *models.Report) (int, error) {
	var batch []ledger.Settlement
	for _, res := range report.Settlements() {
		if res.TID == "" {
			s.log.Warn().
				Str("run_id", report.RunID).
				Str("payer", res.Payer).
				Str("amount", res.Amount.String()).
				Msg("Certain match has no transaction id, not recorded")
			continue
		}
		batch = append(batch, ledger.Settlement{Payer: res.Payer, TID: res.TID})
	}

	applied, err := s.store.RecordSettlements(ctx, report.Period, batch)
	if err != nil {
		return 0, fmt.Errorf("failed to record %d settlement(s): %w", len(batch), err)
	}
	return applied, nil
}

// Report returns a report produced by an earlier run, if still cached.
func (s *Service) Report(runID string) (*models.Report, bool) {
	cached, found := s.reports.Get(runID)
	if !found {
		return nil, false
	}
	return cached.(*models.Report), true
}
