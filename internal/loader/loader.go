// Package loader turns the payload shapes produced by OCR and upstream
// inference steps into canonical transactions. Every entry point is total:
// malformed input yields an empty batch, never an error.
package loader

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/dvloznov/journal-classifier/internal/domain"
)

// PendingJournalKey wraps pending journal payloads.
const PendingJournalKey = "pending_journal_data"

// maxUnwrapDepth bounds nested wrapper and string decoding.
const maxUnwrapDepth = 8

// Batch is the loader output. Each transaction's Ref indexes Sources, the
// mappings the transaction was derived from, so classification results can
// be written back to them.
type Batch struct {
	Transactions []*domain.Transaction
	Sources      []map[string]any
}

// Len returns the number of transactions in the batch.
func (b *Batch) Len() int {
	return len(b.Transactions)
}

func (b *Batch) add(raw map[string]any, source map[string]any) {
	idx := len(b.Sources)
	b.Sources = append(b.Sources, source)
	raw[domain.KeyRef] = idx

	tx, ok := domain.Normalize(raw)
	if !ok {
		b.Sources = b.Sources[:idx]
		return
	}
	b.Transactions = append(b.Transactions, tx)
}

var vendorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(.+?)への`),
	regexp.MustCompile(`^(.+?)から`),
	regexp.MustCompile(`^(.+?)に対する`),
}

// InferVendor guesses a counterparty from a Japanese summary such as
// "フルーツみかみへの支払い". It returns "" when no pattern matches.
func InferVendor(summary string) string {
	text := strings.TrimSpace(summary)
	if text == "" {
		return ""
	}
	for _, re := range vendorPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// decodeJSON parses JSON text keeping numbers exact. ok is false on any
// decoding failure.
func decodeJSON(data []byte) (any, bool) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

// first returns the first value that is neither nil nor an empty string.
func first(values ...any) any {
	for _, v := range values {
		if present(v) {
			return v
		}
	}
	return nil
}

func present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	}
	return true
}

func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// directionFromSign treats negative amounts as income.
func directionFromSign(amount any) string {
	if domain.ParseAmount(amount).IsNegative() {
		return string(domain.DirectionIncome)
	}
	return string(domain.DirectionExpense)
}

// amountOrZero mirrors "amount or 0": absent or empty values become 0.
func amountOrZero(v any) any {
	if !present(v) {
		return 0
	}
	return v
}

// compact drops nil values so they do not show up as extra keys.
func compact(m map[string]any) map[string]any {
	for k, v := range m {
		if v == nil {
			delete(m, k)
		}
	}
	return m
}
