package parser

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"
	"strings"

	"github.com/insightdelivered/payment-reconciler/internal/models"
)

const (
	documentElement = "Document"
	entryElement    = "Ntry"
)

// Element paths of the entry containers. Elements are matched by local name
// so the envelope namespace (camt.053.001.02, .001.04, .001.08, none) does
// not matter.
var (
	camt053Path = []string{documentElement, "BkToCstmrStmt", "Stmt"}
	camt054Path = []string{documentElement, "BkToCstmrDbtCdtNtfctn", "Ntfctn"}
)

// CAMT053Parser handles ISO 20022 camt.053 bank-to-customer statements.
//
// Layout:
//
//	Document/BkToCstmrStmt/Stmt/Ntry/NtryDtls/TxDtls
//
// Every TxDtls block becomes one transaction carrying the booking date,
// value date and additional info of its Ntry.
type CAMT053Parser struct{}

func (p *CAMT053Parser) Format() models.Format {
	return models.FormatCAMT053
}

func (p *CAMT053Parser) Parse(r io.Reader) iter.Seq2[models.Transaction, error] {
	return parseEntries(r, p.Format(), camt053Path)
}

// CAMT054Parser handles ISO 20022 camt.054 debit/credit notifications. The
// entries share the camt.053 layout but live under Ntfctn.
type CAMT054Parser struct{}

func (p *CAMT054Parser) Format() models.Format {
	return models.FormatCAMT054
}

func (p *CAMT054Parser) Parse(r io.Reader) iter.Seq2[models.Transaction, error] {
	return parseEntries(r, p.Format(), camt054Path)
}

type camtEntry struct {
	Amount      *camtAmount   `xml:"Amt"`
	CdtDbtInd   string        `xml:"CdtDbtInd"`
	BookingDate camtDate      `xml:"BookgDt"`
	ValueDate   camtDate      `xml:"ValDt"`
	AddtlInfo   string        `xml:"AddtlNtryInf"`
	Details     []camtDetails `xml:"NtryDtls>TxDtls"`
}

type camtDate struct {
	Dt   string `xml:"Dt"`
	DtTm string `xml:"DtTm"`
}

type camtAmount struct {
	Value    string `xml:",chardata"`
	Currency string `xml:"Ccy,attr"`
}

type camtDetails struct {
	AcctSvcrRef    string      `xml:"Refs>AcctSvcrRef"`
	Amount         *camtAmount `xml:"Amt"`
	CdtDbtInd      string      `xml:"CdtDbtInd"`
	Reference      string      `xml:"RmtInf>Strd>CdtrRefInf>Ref"`
	Unstructured   []string    `xml:"RmtInf>Ustrd"`
	Debitor        string      `xml:"RltdPties>Dbtr>Nm"`
	DebitorParty   string      `xml:"RltdPties>Dbtr>Pty>Nm"` // camt.053.001.08 and later
	DebitorAccount string      `xml:"RltdPties>DbtrAcct>Id>IBAN"`
}

func parseEntries(r io.Reader, format models.Format, container []string) iter.Seq2[models.Transaction, error] {
	return func(yield func(models.Transaction, error) bool) {
		fail := func(reason string, err error) {
			yield(models.Transaction{}, &MalformedDocumentError{Format: format, Reason: reason, Err: err})
		}

		dec := newDecoder(r)

		var stack []string
		foundContainer := false
		entryNum := 0

		for {
			tok, err := dec.Token()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				fail("", err)
				return
			}

			switch t := tok.(type) {
			case xml.StartElement:
				if len(stack) == 0 && t.Name.Local != documentElement {
					fail(fmt.Sprintf("root element is %q, expected %q", t.Name.Local, documentElement), nil)
					return
				}

				if t.Name.Local == entryElement && slices.Equal(stack, container) {
					entryNum++

					var e camtEntry
					if err := dec.DecodeElement(&e, &t); err != nil {
						fail(fmt.Sprintf("entry %d", entryNum), err)
						return
					}

					txns, err := e.transactions()
					if err != nil {
						fail(fmt.Sprintf("entry %d", entryNum), err)
						return
					}
					for _, txn := range txns {
						if !yield(txn, nil) {
							return
						}
					}
					continue
				}

				stack = append(stack, t.Name.Local)
				if slices.Equal(stack, container) {
					foundContainer = true
				}

			case xml.EndElement:
				if len(stack) > 0 {
					stack = stack[:len(stack)-1]
				}
			}
		}

		if !foundContainer {
			fail(fmt.Sprintf("missing %s element", strings.Join(container, "/")), nil)
		}
	}
}

// transactions converts the detail blocks of an entry. A detail block without
// its own amount or credit/debit indicator inherits the entry's, which is only
// unambiguous when the entry has a single detail block.
func (e *camtEntry) transactions() ([]models.Transaction, error) {
	bookingDate, err := e.BookingDate.parse()
	if err != nil {
		return nil, fmt.Errorf("booking date: %w", err)
	}
	valueDate, err := e.ValueDate.parse()
	if err != nil {
		return nil, fmt.Errorf("value date: %w", err)
	}

	txns := make([]models.Transaction, 0, len(e.Details))
	for i, d := range e.Details {
		amt := d.Amount
		if amt == nil && len(e.Details) == 1 {
			amt = e.Amount
		}
		indicator := strings.TrimSpace(d.CdtDbtInd)
		if indicator == "" && len(e.Details) == 1 {
			indicator = strings.TrimSpace(e.CdtDbtInd)
		}

		if amt == nil || strings.TrimSpace(amt.Value) == "" {
			return nil, fmt.Errorf("transaction details %d: missing amount", i+1)
		}
		if strings.TrimSpace(amt.Currency) == "" {
			return nil, fmt.Errorf("transaction details %d: missing currency", i+1)
		}
		amount, err := parseAmount(amt.Value)
		if err != nil {
			return nil, fmt.Errorf("transaction details %d: %w", i+1, err)
		}
		credit, err := parseIndicator(indicator)
		if err != nil {
			return nil, fmt.Errorf("transaction details %d: %w", i+1, err)
		}

		debitor := strings.TrimSpace(d.Debitor)
		if debitor == "" {
			debitor = strings.TrimSpace(d.DebitorParty)
		}

		txns = append(txns, models.Transaction{
			BookingDate:    bookingDate,
			ValueDate:      valueDate,
			BookingText:    strings.TrimSpace(e.AddtlInfo),
			Amount:         amount,
			Currency:       strings.ToUpper(strings.TrimSpace(amt.Currency)),
			Credit:         credit,
			Note:           joinLines(d.Unstructured),
			Reference:      strings.TrimSpace(d.Reference),
			Debitor:        debitor,
			DebitorAccount: strings.TrimSpace(d.DebitorAccount),
			TID:            strings.TrimSpace(d.AcctSvcrRef),
		})
	}
	return txns, nil
}

func (d camtDate) parse() (models.Date, error) {
	if s := strings.TrimSpace(d.Dt); s != "" {
		return parseDate(s)
	}
	if s := strings.TrimSpace(d.DtTm); s != "" {
		return parseDateTime(s)
	}
	return models.Date{}, nil
}
