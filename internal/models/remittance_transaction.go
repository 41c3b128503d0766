package models

import (
	"github.com/shopspring/decimal"
)

// RemittanceTransaction is one claim-level line of a parsed remittance batch.
// TransactionSeq is the 1-based position within the batch.
type RemittanceTransaction struct {
	BatchID         string          `json:"batch_id"`
	TransactionSeq  int             `json:"transaction_seq"`
	ClaimIDHint     string          `json:"claim_id_hint"`
	PayerStatusCode string          `json:"payer_status_code,omitempty"`
	ChargeAmount    decimal.Decimal `json:"charge_amount"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	AdjustmentCodes []string        `json:"adjustment_codes"`
}

// TransactionParseError describes a single malformed record. It never aborts the batch.
type TransactionParseError struct {
	Line   int    `json:"line"`
	Offset int    `json:"offset"`
	Reason string `json:"reason"`
}

type UnmatchedReason string

const (
	UnmatchedNotFound  UnmatchedReason = "not_found"
	UnmatchedAmbiguous UnmatchedReason = "ambiguous"
)

// UnmatchedTransaction is retained on the run for operator review.
type UnmatchedTransaction struct {
	BatchID        string          `json:"batch_id"`
	TransactionSeq int             `json:"transaction_seq"`
	ClaimIDHint    string          `json:"claim_id_hint"`
	Reason         UnmatchedReason `json:"reason"`
	Candidates     []string        `json:"candidates,omitempty"`
}
