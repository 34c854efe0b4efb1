// Package refcode recovers payer reference codes from free text.
//
// A reference code is the letter Q followed by ten hexadecimal digits. Payers
// type it into the note of their bank transfer, so it arrives with spaces,
// dashes, line breaks, lowercase letters and the occasional O instead of 0.
package refcode

import (
	"regexp"
	"strings"
)

var (
	invalidCodeChars = regexp.MustCompile(`[^Q0-9A-F]+`)
	codePattern      = regexp.MustCompile(`Q[0-9A-F]{10}`)
	canonicalPattern = regexp.MustCompile(`^q[0-9a-f]{10}$`)
)

// Extract returns the first reference code found in text, lowercased and
// without formatting. The second return value is false if there is none.
func Extract(text string) (string, bool) {
	text = strings.ReplaceAll(text, "\r", "")
	text = strings.ReplaceAll(text, "\n", "")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}

	text = strings.ToUpper(text)

	// O and 0 are easily confused, both by people and by OCR.
	text = strings.ReplaceAll(text, "O", "0")

	text = invalidCodeChars.ReplaceAllString(text, "")

	code := codePattern.FindString(text)
	if code == "" {
		return "", false
	}
	return strings.ToLower(code), true
}

// ExtractAll returns the distinct codes found in text, one candidate per
// line, in order of appearance. Used for documents listing several codes
// such as scanned payment slips.
func ExtractAll(text string) []string {
	var codes []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(text, "\n") {
		code, ok := Extract(line)
		if !ok || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes
}

// Valid reports whether code is already in canonical form.
func Valid(code string) bool {
	return canonicalPattern.MatchString(code)
}
