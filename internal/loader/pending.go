package loader

import (
	"encoding/json"
)

// pendingParser recognises one payload shape. matched reports whether the
// shape applied; items is what it produced.
type pendingParser func(payload any, depth int) (items []map[string]any, matched bool)

var pendingParsers []pendingParser

func init() {
	pendingParsers = []pendingParser{
		parseWrapped,
		parseJSONText,
		parseList,
		parseObject,
	}
}

func pendingItems(payload any, depth int) []map[string]any {
	if payload == nil || depth > maxUnwrapDepth {
		return nil
	}
	for _, parse := range pendingParsers {
		if items, ok := parse(payload, depth); ok {
			return items
		}
	}
	return nil
}

func parseWrapped(payload any, depth int) ([]map[string]any, bool) {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil, false
	}
	inner, ok := m[PendingJournalKey]
	if !ok {
		return nil, false
	}
	return pendingItems(inner, depth+1), true
}

func parseJSONText(payload any, depth int) ([]map[string]any, bool) {
	var data []byte
	switch v := payload.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		return nil, false
	}
	decoded, ok := decodeJSON(data)
	if !ok {
		return nil, true
	}
	return pendingItems(decoded, depth+1), true
}

func parseList(payload any, _ int) ([]map[string]any, bool) {
	switch v := payload.(type) {
	case []map[string]any:
		return v, true
	case []any:
		items := make([]map[string]any, 0, len(v))
		for _, el := range v {
			if m, ok := el.(map[string]any); ok {
				items = append(items, m)
			}
		}
		return items, true
	}
	return nil, false
}

func parseObject(payload any, _ int) ([]map[string]any, bool) {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil, false
	}
	return []map[string]any{m}, true
}

// accountingLines returns the nested per-line entries of an item, decoding
// them when they arrive as JSON text. Undecodable text counts as absent.
func accountingLines(v any) []any {
	if s, ok := v.(string); ok {
		decoded, ok := decodeJSON([]byte(s))
		if !ok {
			return nil
		}
		v = decoded
	}
	switch lines := v.(type) {
	case []any:
		return lines
	case []map[string]any:
		out := make([]any, len(lines))
		for i, l := range lines {
			out[i] = l
		}
		return out
	}
	return nil
}

// FromPendingJournal extracts transactions from a pending journal payload:
// a wrapper object, JSON text, a list of items or a single item. Items with
// an accounting list yield one transaction per line.
func FromPendingJournal(payload any) *Batch {
	batch := &Batch{}

	for _, item := range pendingItems(payload, 0) {
		totalAmount := item["totalAmount"]
		invoiceDate := first(item["invoiceDate"], item["date"])
		currency := item["currency"]
		projectID := item["projectId"]
		summary := text(first(item["summary"], item["description"]))
		fileName := text(first(item["filename"], item["fileName"]))

		vendor := text(item["vendor"])
		if vendor == "" {
			vendor = InferVendor(summary)
		}

		lines := accountingLines(item["accounting"])
		if len(lines) > 0 {
			for _, line := range lines {
				acc, ok := line.(map[string]any)
				if !ok {
					continue
				}

				amount := acc["amount"]
				if amount == nil {
					amount = totalAmount
				}

				direction := first(acc["direction"], item["direction"])
				if direction == nil {
					direction = directionFromSign(amount)
				}

				batch.add(compact(map[string]any{
					"date":           text(first(acc["date"], invoiceDate)),
					"vendor":         vendor,
					"description":    text(first(acc["description"], summary)),
					"amount":         amountOrZero(amount),
					"direction":      direction,
					"accountName":    text(first(acc["accountItem"], acc["accountName"])),
					"subAccountItem": acc["subAccountItem"],
					"confidence":     acc["confidence"],
					"reasoning":      acc["reasoning"],
					"is_anomaly":     acc["is_anomaly"],
					"currency":       currency,
					"projectId":      projectID,
					"fileName":       fileName,
				}), acc)
			}
			continue
		}

		direction := item["direction"]
		if !present(direction) {
			direction = directionFromSign(totalAmount)
		}

		batch.add(compact(map[string]any{
			"date":        text(invoiceDate),
			"vendor":      vendor,
			"description": summary,
			"amount":      amountOrZero(totalAmount),
			"direction":   direction,
			"accountName": "",
			"currency":    currency,
			"projectId":   projectID,
			"fileName":    fileName,
		}), item)
	}

	return batch
}
