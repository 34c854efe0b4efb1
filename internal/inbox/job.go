// Package inbox reconciles statement files dropped into a directory.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/insightdelivered/payment-reconciler/internal/models"
	"github.com/insightdelivered/payment-reconciler/internal/reconcile"
	"github.com/insightdelivered/payment-reconciler/internal/writer"
	"github.com/rs/zerolog"
)

const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// Reconciler runs one reconciliation.
type Reconciler interface {
	Run(ctx context.Context, req reconcile.Request) (*models.Report, error)
}

// Config holds inbox settings
type Config struct {
	Dir     string
	Period  string
	Apply   bool
	Timeout time.Duration // per statement; defaults to one minute
}

// Job scans the inbox for *.xml statements. Each statement is reconciled,
// its CSV report written to processed/ and the statement moved next to it.
// Statements that fail are moved to failed/ with the error in a .txt file.
type Job struct {
	cfg Config
	svc Reconciler
	csv *writer.CSVWriter
	log zerolog.Logger
}

// NewJob creates the inbox job.
func NewJob(cfg Config, svc Reconciler, log zerolog.Logger) *Job {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return &Job{
		cfg: cfg,
		svc: svc,
		csv: &writer.CSVWriter{IncludeHeader: true},
		log: log.With().Str("job", "statement_inbox").Logger(),
	}
}

// Name returns the job name
func (j *Job) Name() string {
	return "statement_inbox"
}

// Run processes every pending statement. Failures of single files do not
// stop the scan; they are joined into the returned error.
func (j *Job) Run() error {
	for _, sub := range []string{ProcessedDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(j.cfg.Dir, sub), 0755); err != nil {
			return fmt.Errorf("failed to create inbox directory: %w", err)
		}
	}

	pending, err := j.pending()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	j.log.Info().Int("files", len(pending)).Msg("Processing inbox")

	var errs []error
	for _, name := range pending {
		if err := j.process(name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (j *Job) pending() ([]string, error) {
	entries, err := os.ReadDir(j.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".xml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (j *Job) process(name string) error {
	src := filepath.Join(j.cfg.Dir, name)

	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read statement: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.cfg.Timeout)
	defer cancel()

	report, runErr := j.svc.Run(ctx, reconcile.Request{
		Period:   j.cfg.Period,
		Document: data,
		Source:   name,
		Apply:    j.cfg.Apply,
	})
	if runErr != nil {
		j.log.Error().Err(runErr).Str("file", name).Msg("Statement failed")
		return j.fail(name, runErr)
	}

	base := strings.TrimSuffix(name, filepath.Ext(name))
	csvPath := filepath.Join(j.cfg.Dir, ProcessedDir, base+".csv")
	if err := j.csv.WriteToFile(csvPath, report); err != nil {
		return j.fail(name, err)
	}

	if err := os.Rename(src, filepath.Join(j.cfg.Dir, ProcessedDir, name)); err != nil {
		return fmt.Errorf("failed to move statement: %w", err)
	}

	j.log.Info().
		Str("file", name).
		Str("run_id", report.RunID).
		Str("report", csvPath).
		Int("certain", report.Summary.Certain).
		Int("applied", report.Summary.Applied).
		Msg("Statement processed")
	return nil
}

// fail moves the statement to failed/ and records cause beside it.
func (j *Job) fail(name string, cause error) error {
	failed := filepath.Join(j.cfg.Dir, FailedDir)
	base := strings.TrimSuffix(name, filepath.Ext(name))

	if err := os.WriteFile(filepath.Join(failed, base+".txt"), []byte(cause.Error()+"\n"), 0644); err != nil {
		return errors.Join(cause, err)
	}
	if err := os.Rename(filepath.Join(j.cfg.Dir, name), filepath.Join(failed, name)); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
