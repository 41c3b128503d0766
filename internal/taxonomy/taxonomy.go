// Package taxonomy maps claim adjustment reason codes (CARC) to denial-reason
// categories. A Taxonomy is immutable once built and safe for concurrent use.
package taxonomy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"rcm-reconciliation-backend/internal/models"
)

// Entry binds one code to its category. Denial marks codes that turn a
// remittance line into a denial rather than a payment adjustment.
type Entry struct {
	Code     string                `yaml:"code"`
	Category models.DenialCategory `yaml:"category"`
	Denial   bool                  `yaml:"denial"`
}

type Taxonomy struct {
	entries map[string]Entry
}

// group codes that may prefix a reason code, e.g. "CO-197"
var groupPrefixes = []string{"CARC-", "CO-", "PR-", "OA-", "PI-", "CR-"}

func New(entries []Entry) *Taxonomy {
	t := &Taxonomy{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		key := normalizeCode(e.Code)
		if key == "" {
			continue
		}
		if e.Category == "" {
			e.Category = models.CategoryOther
		}
		e.Code = key
		t.entries[key] = e
	}
	return t
}

// CategoryFor is total: unknown or empty codes map to models.CategoryOther.
func (t *Taxonomy) CategoryFor(code string) models.DenialCategory {
	if e, ok := t.lookup(code); ok {
		return e.Category
	}
	return models.CategoryOther
}

// IsDenial reports whether code is a known denial-class code.
func (t *Taxonomy) IsDenial(code string) bool {
	e, ok := t.lookup(code)
	return ok && e.Denial
}

// Len is the number of distinct codes known to t.
func (t *Taxonomy) Len() int {
	return len(t.entries)
}

func (t *Taxonomy) lookup(code string) (Entry, bool) {
	if t == nil {
		return Entry{}, false
	}
	key := normalizeCode(code)
	if key == "" {
		return Entry{}, false
	}
	if e, ok := t.entries[key]; ok {
		return e, true
	}
	for _, p := range groupPrefixes {
		if strings.HasPrefix(key, p) {
			if e, ok := t.entries[normalizeCode(strings.TrimPrefix(key, p))]; ok {
				return e, true
			}
		}
	}
	return Entry{}, false
}

// normalizeCode upper-cases the code and drops leading zeros from purely
// numeric codes, so "016" and "16" are the same reason.
func normalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || strings.Trim(code, "0123456789") != "" {
		return code
	}
	if trimmed := strings.TrimLeft(code, "0"); trimmed != "" {
		return trimmed
	}
	return "0"
}

type referenceFile struct {
	Codes []Entry `yaml:"codes"`
}

// LoadFile reads reference data of the form
//
//	codes:
//	  - code: "197"
//	    category: Missing Authorization
//	    denial: true
func LoadFile(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy %s: %w", path, err)
	}
	var ref referenceFile
	if err := yaml.Unmarshal(data, &ref); err != nil {
		return nil, fmt.Errorf("decode taxonomy %s: %w", path, err)
	}
	if len(ref.Codes) == 0 {
		return nil, fmt.Errorf("taxonomy %s: no codes", path)
	}
	return New(ref.Codes), nil
}
