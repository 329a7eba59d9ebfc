package classifier

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// replySchema is the contract a model reply object must satisfy. Alternate
// key spellings are tolerated; extra keys are allowed.
const replySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "definitions": {
    "text": {"type": ["string", "null"]},
    "ident": {"type": ["string", "number", "null"]},
    "score": {"type": ["number", "string", "null"]}
  },
  "properties": {
    "account": {"$ref": "#/definitions/text"},
    "confidence": {"$ref": "#/definitions/score"},
    "reasoning": {"$ref": "#/definitions/text"},
    "description": {"$ref": "#/definitions/text"},
    "normalized_description": {"$ref": "#/definitions/text"},
    "account_match": {
      "type": ["object", "null"],
      "properties": {
        "code": {"$ref": "#/definitions/ident"},
        "name": {"$ref": "#/definitions/text"},
        "confidence": {"$ref": "#/definitions/score"}
      }
    },
    "vendor_match": {
      "type": ["object", "null"],
      "properties": {
        "id": {"$ref": "#/definitions/ident"},
        "name": {"$ref": "#/definitions/text"},
        "confidence": {"$ref": "#/definitions/score"}
      }
    },
    "matched_account_code": {"$ref": "#/definitions/ident"},
    "matched_account_name": {"$ref": "#/definitions/text"},
    "matchedAccountCode": {"$ref": "#/definitions/ident"},
    "matchedAccountName": {"$ref": "#/definitions/text"},
    "account_confidence": {"$ref": "#/definitions/score"},
    "accountConfidence": {"$ref": "#/definitions/score"},
    "matched_vendor_id": {"$ref": "#/definitions/ident"},
    "matched_vendor_name": {"$ref": "#/definitions/text"},
    "matchedVendorId": {"$ref": "#/definitions/ident"},
    "matchedVendorName": {"$ref": "#/definitions/text"},
    "vendor_confidence": {"$ref": "#/definitions/score"},
    "vendorConfidence": {"$ref": "#/definitions/score"}
  }
}`

var compiledReplySchema = jsonschema.MustCompileString("reply.json", replySchema)

// ValidateReply checks a decoded reply object against the reply contract.
func ValidateReply(reply map[string]any) error {
	// Round-trip so numbers reach the validator as float64.
	b, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("ValidateReply: marshal: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("ValidateReply: unmarshal: %w", err)
	}
	if err := compiledReplySchema.Validate(v); err != nil {
		return fmt.Errorf("ValidateReply: reply does not match schema: %w", err)
	}
	return nil
}

// promptResponseSchema describes the expected reply inside the prompt.
var promptResponseSchema = map[string]any{
	"account":     "string (account subject name)",
	"description": "string (short Japanese 摘要; do not include file name)",
	"confidence":  "number 0..1",
	"reasoning":   "string",
	"account_match": map[string]any{
		"code":       "string?",
		"name":       "string?",
		"confidence": "number?",
	},
	"vendor_match": map[string]any{
		"id":         "string?",
		"name":       "string?",
		"confidence": "number?",
	},
}
