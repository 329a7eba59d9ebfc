package loader

// inferredShape tags the three item layouts accepted by FromInferredAccounts.
type inferredShape int

const (
	shapeFallback inferredShape = iota
	shapeTransaction
	shapeGroup
)

func classifyInferred(item map[string]any) inferredShape {
	_, hasAmount := item["amount"]
	_, hasDirection := item["direction"]
	_, hasType := item["type"]
	if hasAmount && (hasDirection || hasType) {
		return shapeTransaction
	}
	if children, ok := item["items"].([]any); ok && len(children) > 0 {
		return shapeGroup
	}
	return shapeFallback
}

// FromInferredAccounts extracts transactions from inferred account items.
// ocrData may supply default vendor and date; fileName is the default
// source file name.
func FromInferredAccounts(items any, ocrData map[string]any, fileName string) *Batch {
	batch := &Batch{}

	list, _ := parseList(decodeIfText(items), 0)
	if len(list) == 0 {
		return batch
	}

	var vendorDefault, dateDefault any
	if ocrData != nil {
		vendorDefault = ocrData["vendor"]
		dateDefault = ocrData["date"]
	}

	for _, item := range list {
		switch classifyInferred(item) {
		case shapeTransaction:
			batch.add(map[string]any{
				"date":        text(first(item["date"], dateDefault)),
				"vendor":      text(first(item["vendor"], vendorDefault)),
				"description": text(first(item["description"], item["summary"])),
				"amount":      amountOrZero(item["amount"]),
				"direction":   text(first(item["direction"], item["type"], "expense")),
				"fileName":    text(first(item["fileName"], fileName)),
			}, item)

		case shapeGroup:
			children := item["items"].([]any)
			for _, c := range children {
				child, ok := c.(map[string]any)
				if !ok {
					continue
				}
				batch.add(map[string]any{
					"date":        text(first(child["date"], item["date"], dateDefault)),
					"vendor":      text(first(child["vendor"], item["vendor"], vendorDefault)),
					"description": text(first(child["description"], child["summary"], item["description"])),
					"amount":      amountOrZero(child["amount"]),
					"direction":   text(first(child["direction"], child["type"], item["direction"], "expense")),
					"fileName":    text(first(child["fileName"], item["fileName"], fileName)),
				}, child)
			}

		default:
			batch.add(map[string]any{
				"date":        text(first(item["date"], dateDefault)),
				"vendor":      text(first(item["vendor"], vendorDefault)),
				"description": text(first(item["description"], item["summary"])),
				"amount":      amountOrZero(item["amount"]),
				"direction":   text(first(item["direction"], "expense")),
				"fileName":    text(first(item["fileName"], fileName)),
			}, item)
		}
	}

	return batch
}

// FromTransactions wraps caller-supplied transaction mappings, dropping
// anything that is not a mapping. Refs point back at the original maps.
func FromTransactions(items any) *Batch {
	batch := &Batch{}
	list, _ := parseList(decodeIfText(items), 0)
	for _, item := range list {
		raw := make(map[string]any, len(item)+1)
		for k, v := range item {
			raw[k] = v
		}
		batch.add(raw, item)
	}
	return batch
}

func decodeIfText(v any) any {
	switch s := v.(type) {
	case string:
		decoded, ok := decodeJSON([]byte(s))
		if !ok {
			return nil
		}
		return decoded
	case []byte:
		decoded, ok := decodeJSON(s)
		if !ok {
			return nil
		}
		return decoded
	}
	return v
}
