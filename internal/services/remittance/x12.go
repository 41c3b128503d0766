package remittance

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"rcm-reconciliation-backend/internal/models"
)

// isaLength is the fixed width of the ISA segment, terminator included.
const isaLength = 106

type segment struct {
	index    int
	offset   int
	elements []string
}

func (s segment) id() string {
	return s.elements[0]
}

func (s segment) element(i int) string {
	if i < len(s.elements) {
		return strings.TrimSpace(s.elements[i])
	}
	return ""
}

// claimLoop accumulates one CLP loop until the next loop boundary.
type claimLoop struct {
	tx      models.RemittanceTransaction
	invalid bool
}

// parseX12 decodes an 835 body. base is the offset of data within the
// original input so reported offsets point into what the caller sent.
func parseX12(data []byte, base int) (*Batch, error) {
	if len(data) < isaLength {
		return nil, &ParseError{Offset: base + len(data), Reason: "truncated ISA header"}
	}
	elemSep := data[3]
	segTerm := data[isaLength-1]
	if isAlnum(elemSep) || isAlnum(segTerm) || elemSep == segTerm {
		return nil, &ParseError{Offset: base + 3, Reason: "invalid ISA delimiters"}
	}

	segments := splitSegments(data, base, segTerm, string(elemSep))
	if len(segments) == 0 || segments[0].id() != "ISA" {
		return nil, &ParseError{Offset: base, Reason: "missing ISA segment"}
	}
	isa := segments[0]
	if len(isa.elements) < 17 {
		return nil, &ParseError{Offset: isa.offset, Reason: fmt.Sprintf("ISA has %d elements, want 16", len(isa.elements)-1)}
	}
	if last := segments[len(segments)-1]; last.id() != "IEA" {
		return nil, &ParseError{Offset: base + len(data), Reason: "missing IEA trailer"}
	}

	b := &Batch{Format: FormatX12}
	var cur *claimLoop
	closeLoop := func() {
		if cur != nil && !cur.invalid {
			b.Transactions = append(b.Transactions, cur.tx)
		}
		cur = nil
	}
	fail := func(seg segment, reason string) {
		b.LineErrors = append(b.LineErrors, models.TransactionParseError{
			Line:   seg.index,
			Offset: seg.offset,
			Reason: reason,
		})
	}

	for _, seg := range segments[1:] {
		switch seg.id() {
		case "TRN":
			if b.BatchID == "" {
				b.BatchID = seg.element(2)
			}
		case "CLP":
			closeLoop()
			tx, err := decodeCLP(seg)
			if err != nil {
				fail(seg, err.Error())
				cur = &claimLoop{invalid: true}
				continue
			}
			cur = &claimLoop{tx: tx}
		case "CAS":
			if cur == nil {
				fail(seg, "CAS outside of a claim loop")
				continue
			}
			if cur.invalid {
				continue
			}
			codes, err := decodeCAS(seg)
			if err != nil {
				fail(seg, fmt.Sprintf("claim %s: %v", cur.tx.ClaimIDHint, err))
				cur.invalid = true
				continue
			}
			cur.tx.AdjustmentCodes = append(cur.tx.AdjustmentCodes, codes...)
		case "LX", "PLB", "SE", "GE", "IEA":
			closeLoop()
		}
	}
	closeLoop()

	if b.BatchID == "" {
		b.BatchID = "ISA-" + isa.element(13)
	}
	b.assign()
	return b, nil
}

func splitSegments(data []byte, base int, term byte, sep string) []segment {
	var out []segment
	start := 0
	for i := 0; i <= len(data); i++ {
		if i < len(data) && data[i] != term {
			continue
		}
		raw := string(data[start:i])
		trimmed := strings.TrimLeft(raw, " \t\r\n")
		offset := base + start + (len(raw) - len(trimmed))
		trimmed = strings.TrimRight(trimmed, " \t\r\n")
		if trimmed != "" {
			out = append(out, segment{
				index:    len(out) + 1,
				offset:   offset,
				elements: strings.Split(trimmed, sep),
			})
		}
		start = i + 1
	}
	return out
}

// decodeCLP reads CLP01 claim id, CLP02 status, CLP03 charge, CLP04 paid.
func decodeCLP(seg segment) (models.RemittanceTransaction, error) {
	hint := seg.element(1)
	if hint == "" {
		return models.RemittanceTransaction{}, fmt.Errorf("CLP missing claim reference")
	}
	charge, err := parseAmount(seg.element(3))
	if err != nil {
		return models.RemittanceTransaction{}, fmt.Errorf("claim %s: bad charge amount: %w", hint, err)
	}
	paidRaw := seg.element(4)
	if paidRaw == "" {
		return models.RemittanceTransaction{}, fmt.Errorf("claim %s: missing paid amount", hint)
	}
	paid, err := parseAmount(paidRaw)
	if err != nil {
		return models.RemittanceTransaction{}, fmt.Errorf("claim %s: bad paid amount: %w", hint, err)
	}
	return models.RemittanceTransaction{
		ClaimIDHint:     hint,
		PayerStatusCode: seg.element(2),
		ChargeAmount:    charge,
		PaidAmount:      paid,
		AdjustmentCodes: []string{},
	}, nil
}

// decodeCAS returns GROUP-REASON codes for every reason triple.
func decodeCAS(seg segment) ([]string, error) {
	group := strings.ToUpper(seg.element(1))
	if group == "" {
		return nil, fmt.Errorf("CAS missing group code")
	}
	var codes []string
	for i := 2; i < len(seg.elements); i += 3 {
		reason := strings.ToUpper(seg.element(i))
		if reason == "" {
			continue
		}
		if _, err := parseAmount(seg.element(i + 1)); err != nil {
			return nil, fmt.Errorf("CAS %s-%s: bad amount: %w", group, reason, err)
		}
		codes = append(codes, group+"-"+reason)
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("CAS %s has no reason codes", group)
	}
	return codes, nil
}

// parseAmount treats an empty element as zero.
func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func isAlnum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
