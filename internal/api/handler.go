package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/insightdelivered/payment-reconciler/internal/extractor"
	"github.com/insightdelivered/payment-reconciler/internal/ledger"
	"github.com/insightdelivered/payment-reconciler/internal/models"
	"github.com/insightdelivered/payment-reconciler/internal/parser"
	"github.com/insightdelivered/payment-reconciler/internal/reconcile"
	"github.com/insightdelivered/payment-reconciler/internal/refcode"
	"github.com/insightdelivered/payment-reconciler/internal/writer"
	"github.com/rs/zerolog"
)

// Version is reported by the health endpoint.
var Version = "dev"

// ReconcileResponse is the JSON response of the reconcile and run endpoints.
type ReconcileResponse struct {
	Success  bool                 `json:"success"`
	Error    string               `json:"error,omitempty"`
	RunID    string               `json:"runId,omitempty"`
	Period   string               `json:"period,omitempty"`
	Format   models.Format        `json:"format,omitempty"`
	Currency string               `json:"currency,omitempty"`
	Results  []models.MatchResult `json:"results"`
	Summary  *models.Summary      `json:"summary,omitempty"`
	CSV      string               `json:"csv,omitempty"`
	Count    int                  `json:"count"`
	Version  string               `json:"version,omitempty"`
}

// CodesResponse is the JSON response of the /api/codes endpoint.
type CodesResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
	Codes   []string `json:"codes"`
	Source  string   `json:"source,omitempty"` // "pdf" or "text"
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler holds the HTTP handlers for the API.
type Handler struct {
	Service   *reconcile.Service
	DB        HealthChecker // optional
	Extractor *extractor.Extractor
	Items     ItemStore
	StaticDir string
	Log       zerolog.Logger
}

// NewApp creates the fiber app with middleware and routes.
func NewApp(h *Handler, bodyLimit int) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "payment-reconciler",
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	app.Use(fiberrecover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
	}))
	app.Use(requestLogger(h.Log))

	h.RegisterRoutes(app)
	return app
}

// RegisterRoutes sets up the HTTP routes.
func (h *Handler) RegisterRoutes(app *fiber.App) {
	app.Get("/api/health", h.HandleHealth)
	app.Post("/api/reconcile", h.handleReconcile)
	app.Get("/api/runs/:id", h.handleRun)
	app.Post("/api/codes", h.handleCodes)
	if h.Items != nil {
		app.Post("/api/items", h.handleAddItem)
		app.Get("/api/periods/:period/items", h.handleListItems)
		app.Get("/api/periods/:period/invoices", h.handleListInvoices)
	}

	// Serve the web UI
	if h.StaticDir != "" {
		app.Static("/", h.StaticDir)
		app.Get("/*", func(c *fiber.Ctx) error {
			// For SPA: serve index.html for non-file routes
			if strings.HasPrefix(c.Path(), "/api/") {
				return fiber.ErrNotFound
			}
			return c.SendFile(filepath.Join(h.StaticDir, "index.html"))
		})
	}
}

// HandleHealth reports service liveness and, when configured, whether the
// ledger database answers.
func (h *Handler) HandleHealth(c *fiber.Ctx) error {
	status := fiber.Map{
		"status":  "ok",
		"version": Version,
		"engine":  "fiber",
	}
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := h.DB.HealthCheck(ctx); err != nil {
			h.Log.Warn().Err(err).Msg("Database health check failed")
			status["status"] = "unavailable"
			status["database"] = "down"
			return c.Status(fiber.StatusServiceUnavailable).JSON(status)
		}
		status["database"] = "ok"
	}
	return c.JSON(status)
}

func (h *Handler) handleReconcile(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return writeError(c, fiber.StatusBadRequest, "No statement uploaded. Use form field 'file'.")
	}
	period := strings.TrimSpace(c.FormValue("period"))
	if period == "" {
		return writeError(c, fiber.StatusBadRequest, "Form field 'period' is required.")
	}

	var format models.Format
	if f := c.FormValue("format"); f != "" {
		format, err = parser.ParseFormat(f)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, err.Error())
		}
	}

	doc, err := readUpload(file)
	if err != nil {
		return writeError(c, fiber.StatusBadRequest, fmt.Sprintf("Failed to read upload: %v", err))
	}

	report, err := h.Service.Run(c.UserContext(), reconcile.Request{
		Period:   period,
		Document: doc,
		Format:   format,
		Source:   file.Filename,
		Apply:    c.FormValue("apply") == "true",
	})
	if err != nil {
		return writeError(c, statusFor(err), err.Error())
	}

	return h.respondReport(c, report)
}

func (h *Handler) handleRun(c *fiber.Ctx) error {
	report, ok := h.Service.Report(c.Params("id"))
	if !ok {
		return writeError(c, fiber.StatusNotFound, "Run not found or expired.")
	}
	return h.respondReport(c, report)
}

func (h *Handler) respondReport(c *fiber.Ctx, report *models.Report) error {
	var csvBuf bytes.Buffer
	csvWriter := &writer.CSVWriter{IncludeHeader: c.FormValue("header") != "false"}
	if err := csvWriter.Write(&csvBuf, report); err != nil {
		return writeError(c, fiber.StatusInternalServerError, fmt.Sprintf("Failed to render CSV: %v", err))
	}

	summary := report.Summary
	return c.JSON(ReconcileResponse{
		Success:  true,
		RunID:    report.RunID,
		Period:   report.Period,
		Format:   report.Format,
		Currency: report.Currency,
		Results:  report.Results,
		Summary:  &summary,
		CSV:      csvBuf.String(),
		Count:    len(report.Results),
		Version:  Version,
	})
}

func (h *Handler) handleCodes(c *fiber.Ctx) error {
	if text := c.FormValue("text"); text != "" {
		return c.JSON(CodesResponse{
			Success: true,
			Codes:   nonNil(refcode.ExtractAll(text)),
			Source:  "text",
		})
	}

	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(CodesResponse{
			Error: "Provide a PDF in form field 'file' or text in form field 'text'.",
			Codes: []string{},
		})
	}
	if !strings.HasSuffix(strings.ToLower(file.Filename), ".pdf") {
		return c.Status(fiber.StatusBadRequest).JSON(CodesResponse{
			Error: "Only PDF files are supported.",
			Codes: []string{},
		})
	}

	tmpFile, err := os.CreateTemp("", "slip-*.pdf")
	if err != nil {
		return writeError(c, fiber.StatusInternalServerError, "Failed to create temp file.")
	}
	tmpFile.Close()
	defer os.Remove(tmpFile.Name())

	if err := c.SaveFile(file, tmpFile.Name()); err != nil {
		return writeError(c, fiber.StatusInternalServerError, "Failed to save uploaded file.")
	}

	codes, err := h.Extractor.ExtractCodes(tmpFile.Name())
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(CodesResponse{
			Error: err.Error(),
			Codes: []string{},
		})
	}

	return c.JSON(CodesResponse{
		Success: true,
		Codes:   nonNil(codes),
		Source:  "pdf",
	})
}

// statusFor maps run errors to HTTP status codes.
func statusFor(err error) int {
	var malformed *parser.MalformedDocumentError
	var inconsistent *ledger.InconsistentAggregateError

	switch {
	case errors.Is(err, reconcile.ErrPeriodRequired),
		errors.Is(err, reconcile.ErrEmptyDocument),
		errors.Is(err, parser.ErrUnsupportedFormat):
		return fiber.StatusBadRequest
	case errors.As(err, &malformed), errors.As(err, &inconsistent):
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

func writeError(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(ReconcileResponse{
		Success: false,
		Error:   msg,
		Results: []models.MatchResult{},
	})
}

// errorHandler renders errors that escaped a handler, such as an oversized
// body or an unknown route, in the API's JSON shape.
func errorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	}
	return writeError(c, status, err.Error())
}

func requestLogger(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.Debug().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Dur("duration", time.Since(start)).
			Msg("Request")
		return err
	}
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func nonNil(codes []string) []string {
	if codes == nil {
		return []string{}
	}
	return codes
}
