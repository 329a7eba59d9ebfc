package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dvloznov/journal-classifier/internal/pipeline"
)

var errEmptyInput = errors.New("input file has no transactions, pending journal data or inferred accounts")

// readInput loads a classification payload. A top-level JSON array is taken
// as a transactions list; an object may carry the same keys as the register
// endpoint in camelCase or snake_case.
func readInput(path string) (pipeline.Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Input{}, fmt.Errorf("readInput: %w", err)
	}
	return parseInput(data)
}

func parseInput(data []byte) (pipeline.Input, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return pipeline.Input{}, fmt.Errorf("parseInput: %w", err)
	}

	switch v := raw.(type) {
	case []any:
		return pipeline.Input{Transactions: v}, nil
	case map[string]any:
		in := pipeline.Input{
			Transactions:       pick(v, "transactions"),
			PendingJournalData: pick(v, "pendingJournalData", "pending_journal_data"),
			InferredAccounts:   pick(v, "inferredAccounts", "inferred_accounts"),
		}
		if ocr, ok := pick(v, "ocrData", "ocr_data").(map[string]any); ok {
			in.OCRData = ocr
		}
		if name, ok := pick(v, "fileName", "file_name").(string); ok {
			in.FileName = name
		}
		if in.Transactions == nil && in.PendingJournalData == nil && in.InferredAccounts == nil {
			return pipeline.Input{}, errEmptyInput
		}
		return in, nil
	}
	return pipeline.Input{}, fmt.Errorf("parseInput: unexpected JSON %T", raw)
}

func pick(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}
