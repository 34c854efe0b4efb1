package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/insightdelivered/payment-reconciler/internal/models"
	"golang.org/x/net/html/charset"
)

// Parser defines the interface for bank statement parsers.
//
// Documents are expected in UTF-8. Other encodings declared in the XML
// prolog, such as ISO-8859-1 from older banking software, are converted.
type Parser interface {
	// Parse returns the transactions of the document in document order.
	// Entries are decoded lazily as the sequence is consumed; a decoding
	// failure is yielded once as a *MalformedDocumentError and ends the sequence.
	Parse(r io.Reader) iter.Seq2[models.Transaction, error]
	// Format returns the document format handled by the parser.
	Format() models.Format
}

// ErrUnsupportedFormat is returned when a document format is unknown or
// cannot be detected.
var ErrUnsupportedFormat = errors.New("unsupported statement format")

// MalformedDocumentError is returned when a document is not well-formed or
// lacks the elements needed to extract transactions.
type MalformedDocumentError struct {
	Format models.Format
	Reason string
	Err    error
}

func (e *MalformedDocumentError) Error() string {
	msg := "malformed document"
	if e.Format != "" {
		msg = fmt.Sprintf("malformed %s document", e.Format)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedDocumentError) Unwrap() error {
	return e.Err
}

// New returns the appropriate parser for the given format.
func New(format models.Format) (Parser, error) {
	switch format {
	case models.FormatCAMT053:
		return &CAMT053Parser{}, nil
	case models.FormatCAMT054:
		return &CAMT054Parser{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// ParseFormat maps user input such as "camt053" or "CAMT.054" to a format.
func ParseFormat(s string) (models.Format, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), ".", "")) {
	case "camt053", "053", "statement":
		return models.FormatCAMT053, nil
	case "camt054", "054", "notification":
		return models.FormatCAMT054, nil
	default:
		return "", fmt.Errorf("%w %q; supported: camt.053, camt.054", ErrUnsupportedFormat, s)
	}
}

// newDecoder returns an XML decoder that honours the declared encoding.
func newDecoder(r io.Reader) *xml.Decoder {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	return dec
}

// AutoDetect identifies the document format from its message element, the
// first child of the Document root. Namespaces are not considered.
func AutoDetect(doc []byte) (models.Format, error) {
	dec := newDecoder(bytes.NewReader(doc))

	depth := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return "", &MalformedDocumentError{Reason: "document has no message element"}
		}
		if err != nil {
			return "", &MalformedDocumentError{Err: err}
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if depth == 0 {
			if start.Name.Local != documentElement {
				return "", &MalformedDocumentError{Reason: fmt.Sprintf("root element is %q, expected %q", start.Name.Local, documentElement)}
			}
			depth++
			continue
		}

		switch start.Name.Local {
		case camt053Path[1]:
			return models.FormatCAMT053, nil
		case camt054Path[1]:
			return models.FormatCAMT054, nil
		default:
			return "", fmt.Errorf("%w: could not detect format from message element %q; please specify the format", ErrUnsupportedFormat, start.Name.Local)
		}
	}
}
