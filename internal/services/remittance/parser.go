// Package remittance decodes remittance advice batches into ordered
// transaction records. Two encodings are understood: a subset of X12 835
// (CLP/CAS loops inside an ISA/IEA envelope) and a flat CSV export.
//
// Parsing is pure. The same bytes always produce the same Batch.
package remittance

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"rcm-reconciliation-backend/internal/models"
)

type Format string

const (
	FormatX12 Format = "x12-835"
	FormatCSV Format = "csv"
)

// ParseError means the batch envelope itself is unreadable; nothing in the
// batch can be trusted.
type ParseError struct {
	Offset int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unreadable remittance batch at byte %d: %s", e.Offset, e.Reason)
}

type Batch struct {
	BatchID      string
	Format       Format
	Transactions []models.RemittanceTransaction
	LineErrors   []models.TransactionParseError
}

// Total counts every record in the batch, good or malformed.
func (b *Batch) Total() int {
	return len(b.Transactions) + len(b.LineErrors)
}

// Parse detects the encoding and decodes data. Malformed records are
// collected in LineErrors; only a broken envelope returns an error.
func Parse(data []byte) (*Batch, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n\ufeff")
	if len(trimmed) == 0 {
		return nil, &ParseError{Offset: 0, Reason: "empty batch"}
	}
	lead := len(data) - len(trimmed)
	if bytes.HasPrefix(trimmed, []byte("ISA")) {
		return parseX12(trimmed, lead)
	}
	return parseCSV(data)
}

// contentID is the fallback batch id for encodings without a trace number.
func contentID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// assign stamps batch id and sequence numbers in input order.
func (b *Batch) assign() {
	for i := range b.Transactions {
		b.Transactions[i].BatchID = b.BatchID
		b.Transactions[i].TransactionSeq = i + 1
	}
}
