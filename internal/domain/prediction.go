package domain

// AccountPrediction is the classifier output for one transaction.
// Confidence is always within [0,1].
type AccountPrediction struct {
	Account     string  `json:"account"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning,omitempty"`
	Description string  `json:"description,omitempty"`

	MatchedAccountCode string   `json:"matched_account_code,omitempty"`
	MatchedAccountName string   `json:"matched_account_name,omitempty"`
	AccountConfidence  *float64 `json:"account_confidence,omitempty"`

	MatchedVendorID   string   `json:"matched_vendor_id,omitempty"`
	MatchedVendorName string   `json:"matched_vendor_name,omitempty"`
	VendorConfidence  *float64 `json:"vendor_confidence,omitempty"`

	RawResponse string `json:"raw_response,omitempty"`
	Model       string `json:"model,omitempty"`
	TokensUsed  int    `json:"tokens_used,omitempty"`
}

// FallbackReasoning marks predictions produced without a usable model reply.
const FallbackReasoning = "fallback"

// FallbackPrediction is the direction default with zero confidence.
func FallbackPrediction(d Direction) AccountPrediction {
	return AccountPrediction{
		Account:    DefaultAccount(d),
		Confidence: 0,
		Reasoning:  FallbackReasoning,
	}
}

// IsFallback reports whether p came from FallbackPrediction.
func (p AccountPrediction) IsFallback() bool {
	return p.Reasoning == FallbackReasoning && p.Confidence == 0
}
