package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/insightdelivered/payment-reconciler/internal/api"
	"github.com/insightdelivered/payment-reconciler/internal/config"
	"github.com/insightdelivered/payment-reconciler/internal/database"
	"github.com/insightdelivered/payment-reconciler/internal/extractor"
	"github.com/insightdelivered/payment-reconciler/internal/inbox"
	"github.com/insightdelivered/payment-reconciler/internal/ledger"
	"github.com/insightdelivered/payment-reconciler/internal/models"
	"github.com/insightdelivered/payment-reconciler/internal/parser"
	"github.com/insightdelivered/payment-reconciler/internal/reconcile"
	"github.com/insightdelivered/payment-reconciler/internal/refcode"
	"github.com/insightdelivered/payment-reconciler/internal/scheduler"
	"github.com/insightdelivered/payment-reconciler/internal/writer"
	"github.com/insightdelivered/payment-reconciler/pkg/logger"
	"github.com/rs/zerolog"
)

const version = "1.0.0"

func main() {
	// CLI flags
	periodFlag := flag.String("period", "", "Billing period to reconcile against (required for statements)")
	formatFlag := flag.String("format", "", "Statement format: camt.053, camt.054 (auto-detected if omitted)")
	outputFlag := flag.String("output", "", "Output CSV file path (defaults to input filename with .csv extension)")
	headerFlag := flag.Bool("header", true, "Include run metadata header rows in CSV")
	applyFlag := flag.Bool("apply", false, "Record certain matches as settlements in the ledger")
	currencyFlag := flag.String("currency", "", "Settlement currency (overrides CURRENCY)")
	dbFlag := flag.String("db", "", "SQLite ledger path (overrides DATABASE_PATH)")
	codesFlag := flag.Bool("codes", false, "Print the reference codes found in PDF or text files")
	serveFlag := flag.Bool("serve", false, "Run the HTTP API and the statement inbox")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	helpFlag := flag.Bool("help", false, "Show usage help")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Payment Reconciler
by Insight Delivered

Matches incoming ISO 20022 bank statements (camt.053 / camt.054)
against the outstanding billing items of a period.

Usage:
  payment-reconciler [flags] <statement.xml> [statement2.xml ...]
  payment-reconciler --codes <slip.pdf|notes.txt> [...]
  payment-reconciler --serve

Flags:
`)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Reconcile a statement and review the CSV
  payment-reconciler --period=2024-05 statement.xml

  # Reconcile and record the certain matches
  payment-reconciler --period=2024-05 --apply statement.xml

  # Force the format and write to a custom path
  payment-reconciler --period=2024-05 --format=camt.054 --output=may.csv notification.xml

  # Read the reference codes printed on payment slips
  payment-reconciler --codes slip1.pdf slip2.pdf

  # Start the API server (settings from environment / .env)
  payment-reconciler --serve
`)
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("payment-reconciler v%s\n", version)
		os.Exit(0)
	}

	if *helpFlag || (flag.NArg() == 0 && !*serveFlag) {
		flag.Usage()
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fatalf("Configuration error: %v\n", err)
	}
	if *currencyFlag != "" {
		cfg.Currency = strings.ToUpper(*currencyFlag)
	}
	if *dbFlag != "" {
		cfg.DatabasePath = *dbFlag
	}
	if err := cfg.Validate(); err != nil {
		fatalf("Configuration error: %v\n", err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)
	api.Version = version

	ext := extractor.New(extractor.Config{
		EnableOCR:   cfg.EnableOCR,
		OCRLanguage: cfg.OCRLanguage,
	}, log)

	if *codesFlag {
		for _, path := range flag.Args() {
			if err := printCodes(ext, path); err != nil {
				fatalf("Error processing %s: %v\n", path, err)
			}
		}
		return
	}

	db, err := database.New(database.Config{Path: cfg.DatabasePath})
	if err != nil {
		fatalf("Database error: %v\n", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		db.Close()
		fatalf("Migration failed: %v\n", err)
	}

	log.Debug().Str("path", db.Path()).Msg("Ledger opened")

	repo := ledger.NewRepository(db.Conn(), log)
	svc := reconcile.NewService(repo, reconcile.Config{
		Currency:  cfg.Currency,
		ReportTTL: cfg.ReportTTL,
	}, log)

	if *serveFlag {
		if err := serve(cfg, svc, repo, db, ext, log); err != nil {
			db.Close()
			fatalf("Server error: %v\n", err)
		}
		return
	}

	if *periodFlag == "" {
		db.Close()
		fatalf("--period is required\n")
	}

	var format models.Format
	if *formatFlag != "" {
		format, err = parser.ParseFormat(*formatFlag)
		if err != nil {
			db.Close()
			fatalf("%v\n", err)
		}
	}

	// Process each input file
	inputFiles := flag.Args()
	for _, inputPath := range inputFiles {
		outPath := *outputFlag
		if len(inputFiles) > 1 {
			// an explicit output path only makes sense for a single statement
			outPath = ""
		}
		opts := fileOptions{
			period: *periodFlag,
			format: format,
			output: outPath,
			header: *headerFlag,
			apply:  *applyFlag,
		}
		if err := processFile(svc, inputPath, opts); err != nil {
			db.Close()
			fatalf("Error processing %s: %v\n", inputPath, err)
		}
	}
}

type fileOptions struct {
	period string
	format models.Format
	output string
	header bool
	apply  bool
}

func processFile(svc *reconcile.Service, inputPath string, opts fileOptions) error {
	doc, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read statement: %w", err)
	}

	fmt.Printf("Processing: %s\n", inputPath)

	report, err := svc.Run(context.Background(), reconcile.Request{
		Period:   opts.period,
		Document: doc,
		Format:   opts.format,
		Source:   filepath.Base(inputPath),
		Apply:    opts.apply,
	})
	if err != nil {
		return err
	}

	fmt.Printf("  Format: %s\n", report.Format)
	fmt.Printf("  Found %d credit transaction(s)\n", report.Summary.Transactions)

	outPath := opts.output
	if outPath == "" {
		outPath = strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".csv"
	}

	w := &writer.CSVWriter{IncludeHeader: opts.header}
	if err := w.WriteToFile(outPath, report); err != nil {
		return fmt.Errorf("CSV write failed: %w", err)
	}

	fmt.Printf("  Output: %s\n", outPath)

	s := report.Summary
	fmt.Printf("  Certain: %d  Possible: %d  Unmatched: %d\n", s.Certain, s.Possible, s.Unmatched)
	if s.Duplicates > 0 {
		fmt.Printf("  Duplicates: %d\n", s.Duplicates)
	}
	if s.Paid > 0 {
		fmt.Printf("  Already paid: %d\n", s.Paid)
	}
	if opts.apply {
		fmt.Printf("  Settlements recorded: %d\n", s.Applied)
	}
	fmt.Printf("  Total: %s %s\n", s.Total.StringFixed(2), report.Currency)

	fmt.Println("  Done.")
	return nil
}

func printCodes(ext *extractor.Extractor, path string) error {
	var codes []string
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		found, err := ext.ExtractCodes(path)
		if err != nil {
			return err
		}
		codes = found
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		codes = refcode.ExtractAll(string(data))
	}

	if len(codes) == 0 {
		fmt.Printf("%s: no reference code found\n", path)
		return nil
	}
	for _, code := range codes {
		fmt.Printf("%s: %s\n", path, code)
	}
	return nil
}

// serve runs the API and, when configured, the statement inbox until a
// termination signal arrives.
func serve(cfg *config.Config, svc *reconcile.Service, items api.ItemStore, db api.HealthChecker, ext *extractor.Extractor, log zerolog.Logger) error {
	sched := scheduler.New(log)
	if cfg.InboxEnabled() {
		job := inbox.NewJob(inbox.Config{
			Dir:    cfg.InboxDir,
			Period: cfg.InboxPeriod,
			Apply:  cfg.InboxApply,
		}, svc, log)
		if err := sched.AddJob(cfg.InboxSchedule, job); err != nil {
			return fmt.Errorf("invalid INBOX_SCHEDULE %q: %w", cfg.InboxSchedule, err)
		}
	}
	sched.Start()
	defer sched.Stop()

	app := api.NewApp(&api.Handler{
		Service:   svc,
		Extractor: ext,
		Items:     items,
		DB:        db,
		StaticDir: cfg.StaticDir,
		Log:       log.With().Str("component", "api").Logger(),
	}, cfg.MaxUploadSizeBytes)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		log.Info().Str("addr", addr).Str("currency", cfg.Currency).Msg("Server listening")
		errCh <- app.Listen(addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}
