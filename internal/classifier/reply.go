package classifier

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/dvloznov/journal-classifier/internal/confidence"
	"github.com/dvloznov/journal-classifier/internal/domain"
	"github.com/dvloznov/journal-classifier/internal/masters"
)

// defaultConfidence applies when a reply carries no usable confidence.
const defaultConfidence = 0.5

var (
	leadingFence  = regexp.MustCompile("(?i)^```(?:json)?\\s*")
	trailingFence = regexp.MustCompile("\\s*```$")
)

// ExtractFirstJSONObject strips markdown fences and decodes the first JSON
// value starting at the first '{'. It reports false unless that value is an
// object.
func ExtractFirstJSONObject(text string) (map[string]any, bool) {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return nil, false
	}
	cleaned = leadingFence.ReplaceAllString(cleaned, "")
	cleaned = trailingFence.ReplaceAllString(cleaned, "")

	start := strings.Index(cleaned, "{")
	if start < 0 {
		return nil, false
	}

	dec := json.NewDecoder(strings.NewReader(cleaned[start:]))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

// ParseReply turns raw model text into a prediction. Unparseable or invalid
// replies degrade to the fallback prediction for direction. The raw text is
// always kept on the result.
func ParseReply(raw string, direction domain.Direction, cat *masters.Catalogs) domain.AccountPrediction {
	obj, ok := ExtractFirstJSONObject(raw)
	if !ok {
		return fallbackWithRaw(direction, raw)
	}
	if err := ValidateReply(obj); err != nil {
		return fallbackWithRaw(direction, raw)
	}

	pred := reconcile(obj)
	if cat != nil && len(cat.Accounts) > 0 {
		pred.Account = NormalizeAccountName(pred.Account, cat.AccountNames(), direction)
	}
	pred.RawResponse = raw
	return pred
}

func fallbackWithRaw(direction domain.Direction, raw string) domain.AccountPrediction {
	p := domain.FallbackPrediction(direction)
	p.RawResponse = raw
	return p
}

// reconcile merges the general fields with the structured matches. A named
// account match replaces the general account, and its confidence, when
// present, replaces the general confidence.
func reconcile(obj map[string]any) domain.AccountPrediction {
	pred := domain.AccountPrediction{
		Account:     str(obj["account"]),
		Confidence:  defaultConfidence,
		Reasoning:   str(obj["reasoning"]),
		Description: strings.TrimSpace(firstStr(obj["description"], obj["normalized_description"])),
	}
	if c, ok := confidence.NormalizeRatio(obj["confidence"]); ok {
		pred.Confidence = c
	}

	if am, ok := obj["account_match"].(map[string]any); ok {
		pred.MatchedAccountCode = str(am["code"])
		pred.MatchedAccountName = str(am["name"])
		pred.AccountConfidence = confidence.Ptr(am["confidence"])
	}
	if pred.MatchedAccountName == "" {
		pred.MatchedAccountName = firstStr(obj["matched_account_name"], obj["matchedAccountName"])
	}
	if pred.MatchedAccountCode == "" {
		pred.MatchedAccountCode = firstStr(obj["matched_account_code"], obj["matchedAccountCode"])
	}
	if pred.AccountConfidence == nil {
		pred.AccountConfidence = confidence.Ptr(obj["account_confidence"])
	}
	if pred.AccountConfidence == nil {
		pred.AccountConfidence = confidence.Ptr(obj["accountConfidence"])
	}
	if pred.MatchedAccountName != "" {
		pred.Account = pred.MatchedAccountName
		if pred.AccountConfidence != nil {
			pred.Confidence = *pred.AccountConfidence
		}
	}

	if vm, ok := obj["vendor_match"].(map[string]any); ok {
		pred.MatchedVendorID = str(vm["id"])
		pred.MatchedVendorName = str(vm["name"])
		pred.VendorConfidence = confidence.Ptr(vm["confidence"])
	} else {
		pred.MatchedVendorID = firstStr(obj["matched_vendor_id"], obj["matchedVendorId"])
		pred.MatchedVendorName = firstStr(obj["matched_vendor_name"], obj["matchedVendorName"])
		pred.VendorConfidence = confidence.Ptr(obj["vendor_confidence"])
		if pred.VendorConfidence == nil {
			pred.VendorConfidence = confidence.Ptr(obj["vendorConfidence"])
		}
	}

	return pred
}

func str(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	}
	return ""
}

func firstStr(values ...any) string {
	for _, v := range values {
		if s := str(v); s != "" {
			return s
		}
	}
	return ""
}
