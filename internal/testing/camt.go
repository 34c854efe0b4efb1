// Package testing provides fixtures and helpers shared by the package tests.
package testing

import (
	"fmt"
	"html"
	"strings"
)

// Payment describes one transaction detail block of a generated statement.
//
// Amount carries sign, value and currency in one string, e.g. "500.00 CHF"
// for a credit or "-24.00 CHF" for a debit.
type Payment struct {
	Amount    string
	Note      string
	Reference string
	TID       string // defaults to T<index>
}

// GenerateCAMT053 builds a camt.053 statement with a single entry holding one
// TxDtls block per payment.
func GenerateCAMT053(payments []Payment) string {
	return generate("BkToCstmrStmt", "Stmt", payments)
}

// GenerateCAMT054 builds the camt.054 notification equivalent of GenerateCAMT053.
func GenerateCAMT054(payments []Payment) string {
	return generate("BkToCstmrDbtCdtNtfctn", "Ntfctn", payments)
}

func generate(message, container string, payments []Payment) string {
	var details strings.Builder

	for ix, p := range payments {
		tid := p.TID
		if tid == "" {
			tid = fmt.Sprintf("T%d", ix)
		}

		amount := strings.TrimSpace(p.Amount)
		indicator := "CRDT"
		if strings.HasPrefix(amount, "-") {
			indicator = "DBIT"
		}
		currency := amount[len(amount)-3:]
		value := strings.TrimSpace(strings.Trim(amount[:len(amount)-3], "-+ "))

		fmt.Fprintf(&details, `
        <TxDtls>
            <Refs>
                <AcctSvcrRef>%s</AcctSvcrRef>
            </Refs>
            <Amt Ccy="%s">%s</Amt>
            <CdtDbtInd>%s</CdtDbtInd>
            <RmtInf>
                <Strd>
                    <CdtrRefInf>
                        <Ref>%s</Ref>
                    </CdtrRefInf>
                </Strd>
                <Ustrd>%s</Ustrd>
            </RmtInf>
        </TxDtls>`,
			html.EscapeString(tid), currency, value, indicator,
			html.EscapeString(p.Reference), html.EscapeString(p.Note))
	}

	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.04">
    <%[1]s>
        <%[2]s>
            <Ntry>
                <NtryDtls>%[3]s
                </NtryDtls>
            </Ntry>
        </%[2]s>
    </%[1]s>
</Document>
`, message, container, details.String())
}
