// Package extractor reads the text of payment slips so that reference codes
// can be recovered from printed or scanned PDFs.
package extractor

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"unicode"

	"github.com/insightdelivered/payment-reconciler/internal/refcode"
	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"
)

// Config holds extractor settings
type Config struct {
	// EnableOCR runs Tesseract on pages without a usable text layer.
	EnableOCR bool
	// OCRLanguage is passed to tesseract -l. Defaults to "eng".
	OCRLanguage string
	// MaxPages limits how many pages are rendered for OCR. Defaults to 5.
	MaxPages int
}

// Extractor pulls text and reference codes out of PDF files.
type Extractor struct {
	cfg Config
	log zerolog.Logger
}

// New creates an extractor.
func New(cfg Config, log zerolog.Logger) *Extractor {
	if cfg.OCRLanguage == "" {
		cfg.OCRLanguage = "eng"
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}
	return &Extractor{
		cfg: cfg,
		log: log.With().Str("component", "extractor").Logger(),
	}
}

// ExtractCodes returns the distinct reference codes found in a PDF, in the
// order they appear.
func (e *Extractor) ExtractCodes(filePath string) ([]string, error) {
	pages, err := e.ExtractText(filePath)
	if err != nil {
		return nil, err
	}
	return refcode.ExtractAll(strings.Join(pages, "\n")), nil
}

// ExtractText reads a PDF file and returns the text content of each page.
// The embedded text layer is tried first, then the external pdftotext
// command (poppler-utils), then OCR when enabled.
func (e *Extractor) ExtractText(filePath string) ([]string, error) {
	pages, libErr := extractWithLibrary(filePath)
	if libErr == nil && isReadableText(pages) {
		return pages, nil
	}
	if libErr != nil {
		e.log.Debug().Err(libErr).Str("file", filePath).Msg("PDF library extraction failed")
	}

	popplerPages, popplerErr := extractWithPdftotext(filePath)
	if popplerErr == nil && isReadableText(popplerPages) {
		return popplerPages, nil
	}

	if e.cfg.EnableOCR {
		ocrPages, ocrErr := e.extractWithOCR(filePath)
		if ocrErr == nil && isReadableText(ocrPages) {
			return ocrPages, nil
		}
		if ocrErr != nil {
			e.log.Warn().Err(ocrErr).Str("file", filePath).Msg("OCR extraction failed")
		}
	}

	if libErr != nil {
		return nil, fmt.Errorf("PDF text extraction failed: %w", libErr)
	}
	return nil, fmt.Errorf("no readable text could be extracted from %s; the slip may be scanned without OCR enabled", filePath)
}

// textQuality returns the ratio of readable characters (ASCII letters and
// digits, Latin-1 letters, whitespace, common punctuation) to all characters.
func textQuality(pages []string) float64 {
	total := 0
	readable := 0
	for _, page := range pages {
		for _, r := range page {
			total++
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
				(r >= '0' && r <= '9') || unicode.IsSpace(r) ||
				(r >= 0xC0 && r <= 0xFF && unicode.IsLetter(r)) ||
				strings.ContainsRune(".,-/:;()'\"€%&@#!?+=*", r) {
				readable++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(readable) / float64(total)
}

// commonWords appear on Swiss payment slips and QR-bills in one of the
// national languages or English.
var commonWords = []string{
	"payment", "receipt", "account", "reference", "amount", "payable",
	"zahlteil", "empfangsschein", "konto", "referenz", "betrag", "zahlbar",
	"récépissé", "compte", "montant", "payable par",
	"ricevuta", "conto", "riferimento", "importo",
	"chf", "iban",
}

func containsCommonWords(pages []string) bool {
	combined := strings.ToLower(strings.Join(pages, " "))
	for _, word := range commonWords {
		if strings.Contains(combined, word) {
			return true
		}
	}
	return false
}

// isReadableText requires more than 20 characters, more than 60% readable
// characters, and either a slip keyword or a reference code.
func isReadableText(pages []string) bool {
	if totalTextLen(pages) <= 20 {
		return false
	}
	if textQuality(pages) <= 0.6 {
		return false
	}
	if containsCommonWords(pages) {
		return true
	}
	_, ok := refcode.Extract(strings.Join(pages, " "))
	return ok
}

// extractWithPdftotext uses the external pdftotext command from poppler-utils
// as a fallback for PDFs that the Go library cannot handle.
func extractWithPdftotext(filePath string) ([]string, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return nil, fmt.Errorf("pdftotext not available: %w", err)
	}

	numPages := pageCount(filePath)
	if numPages == 0 {
		numPages = 1
	}

	// Extract each page separately to preserve page boundaries
	var pages []string
	for i := 1; i <= numPages; i++ {
		pageStr := strconv.Itoa(i)
		out, err := exec.Command("pdftotext", "-layout", "-f", pageStr, "-l", pageStr, filePath, "-").Output()
		if err != nil {
			continue
		}
		text := strings.TrimSpace(string(out))
		if text != "" {
			pages = append(pages, text)
		}
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("pdftotext produced no output")
	}
	return pages, nil
}

// pageCount returns the number of pages in a PDF using pdfinfo, or 0 when
// it cannot be determined.
func pageCount(filePath string) int {
	out, err := exec.Command("pdfinfo", filePath).Output()
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "Pages:") {
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Pages:")))
			if err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

// extractWithLibrary reads the embedded text layer with ledongthuc/pdf.
// Each page is rebuilt row by row; a page whose rows come out empty falls
// back to the page's plain text.
func extractWithLibrary(filePath string) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("PDF library crashed: %v", r)
		}
	}()

	f, r, openErr := pdf.Open(filePath)
	if openErr != nil {
		return nil, openErr
	}
	defer f.Close()

	numPages := r.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text := pageRows(page)
		if text == "" {
			// nil fonts: the library loads the page's own font map
			plain, err := page.GetPlainText(nil)
			if err != nil {
				continue
			}
			text = strings.TrimSpace(plain)
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// pageRows joins the words of each text row of page, top to bottom.
func pageRows(page pdf.Page) string {
	rows, err := page.GetTextByRow()
	if err != nil {
		return ""
	}
	var lines []string
	for _, row := range rows {
		words := make([]string, 0, len(row.Content))
		for _, w := range row.Content {
			words = append(words, w.S)
		}
		if line := strings.TrimSpace(strings.Join(words, " ")); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func totalTextLen(pages []string) int {
	n := 0
	for _, p := range pages {
		n += len(strings.TrimSpace(p))
	}
	return n
}
