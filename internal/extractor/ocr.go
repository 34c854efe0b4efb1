package extractor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// IsOCRAvailable reports whether pdftoppm and tesseract are installed.
func IsOCRAvailable() bool {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		return false
	}
	_, err := exec.LookPath("tesseract")
	return err == nil
}

// extractWithOCR renders the first pages of a PDF to images and runs
// Tesseract on them. It handles scanned slips that have no text layer.
// Requires pdftoppm (poppler-utils) and tesseract (tesseract-ocr).
func (e *Extractor) extractWithOCR(filePath string) ([]string, error) {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		return nil, fmt.Errorf("pdftoppm not available (install poppler-utils): %w", err)
	}
	if _, err := exec.LookPath("tesseract"); err != nil {
		return nil, fmt.Errorf("tesseract not available (install tesseract-ocr): %w", err)
	}
	if _, err := os.Stat(filePath); err != nil {
		return nil, err
	}

	tmpDir, err := os.MkdirTemp("", "ocr-pages-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	lastPage := e.cfg.MaxPages
	if n := pageCount(filePath); n > 0 && n < lastPage {
		lastPage = n
	}

	// 300 DPI keeps the small print of the reference field legible.
	imgPrefix := filepath.Join(tmpDir, "page")
	cmd := exec.Command("pdftoppm", "-r", "300", "-png", "-f", "1", "-l", strconv.Itoa(lastPage), filePath, imgPrefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(out))
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read temp dir: %w", err)
	}

	var imageFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".png") {
			imageFiles = append(imageFiles, filepath.Join(tmpDir, entry.Name()))
		}
	}
	sort.Strings(imageFiles)

	if len(imageFiles) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no page images")
	}

	var pages []string
	for _, imgFile := range imageFiles {
		outBase := strings.TrimSuffix(imgFile, ".png") + "-ocr"
		// PSM 6: a single uniform block of text, which suits the slip's fields
		cmd := exec.Command("tesseract", imgFile, outBase, "-l", e.cfg.OCRLanguage, "--psm", "6")
		if out, err := cmd.CombinedOutput(); err != nil {
			e.log.Warn().
				Err(err).
				Str("image", filepath.Base(imgFile)).
				Str("output", strings.TrimSpace(string(out))).
				Msg("Tesseract failed on page")
			continue
		}

		data, err := os.ReadFile(outBase + ".txt")
		if err != nil {
			continue
		}
		text := strings.TrimSpace(string(data))
		if text != "" {
			pages = append(pages, text)
		}
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("tesseract OCR produced no text from %d page images", len(imageFiles))
	}

	return pages, nil
}
