package remittance

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"rcm-reconciliation-backend/internal/models"
)

const (
	colClaimID     = "claim_id"
	colPaidAmount  = "paid_amount"
	colCodes       = "adjustment_codes"
	colBatchID     = "batch_id"
	colCharge      = "charge_amount"
	colPayerStatus = "payer_status"
)

// parseCSV reads a header row followed by one transaction per row:
//
//	claim_id,paid_amount,adjustment_codes
//	CLM-1,0,CO-197|CO-45
func parseCSV(data []byte) (*Batch, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ParseError{Offset: 0, Reason: "empty batch"}
		}
		return nil, &ParseError{Offset: int(reader.InputOffset()), Reason: "cannot read CSV header: " + err.Error()}
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	for _, required := range []string{colClaimID, colPaidAmount} {
		if _, ok := cols[required]; !ok {
			return nil, &ParseError{Offset: 0, Reason: fmt.Sprintf("CSV header missing %q column", required)}
		}
	}

	b := &Batch{Format: FormatCSV}
	for {
		start := int(reader.InputOffset())
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line := 0
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				line = perr.StartLine
			}
			b.LineErrors = append(b.LineErrors, models.TransactionParseError{Line: line, Offset: start, Reason: err.Error()})
			continue
		}
		line, _ := reader.FieldPos(0)
		if strings.TrimSpace(strings.Join(record, "")) == "" {
			continue
		}

		field := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		if b.BatchID == "" {
			b.BatchID = field(colBatchID)
		}

		tx, reason := decodeCSVRow(field)
		if reason != "" {
			b.LineErrors = append(b.LineErrors, models.TransactionParseError{Line: line, Offset: start, Reason: reason})
			continue
		}
		b.Transactions = append(b.Transactions, tx)
	}

	if b.BatchID == "" {
		b.BatchID = "csv-" + contentID(data)
	}
	b.assign()
	return b, nil
}

func decodeCSVRow(field func(string) string) (models.RemittanceTransaction, string) {
	hint := field(colClaimID)
	if hint == "" {
		return models.RemittanceTransaction{}, "missing claim_id"
	}
	paidRaw := field(colPaidAmount)
	if paidRaw == "" {
		return models.RemittanceTransaction{}, fmt.Sprintf("claim %s: missing paid_amount", hint)
	}
	paid, err := parseAmount(paidRaw)
	if err != nil {
		return models.RemittanceTransaction{}, fmt.Sprintf("claim %s: invalid paid_amount %q", hint, paidRaw)
	}
	charge, err := parseAmount(field(colCharge))
	if err != nil {
		return models.RemittanceTransaction{}, fmt.Sprintf("claim %s: invalid charge_amount", hint)
	}

	codes := []string{}
	for _, c := range strings.FieldsFunc(field(colCodes), func(r rune) bool {
		return r == '|' || r == ';' || r == ' '
	}) {
		codes = append(codes, strings.ToUpper(c))
	}

	return models.RemittanceTransaction{
		ClaimIDHint:     hint,
		PayerStatusCode: field(colPayerStatus),
		ChargeAmount:    charge,
		PaidAmount:      paid,
		AdjustmentCodes: codes,
	}, ""
}
