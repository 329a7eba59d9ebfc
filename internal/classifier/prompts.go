package classifier

import (
	"encoding/json"

	"github.com/dvloznov/journal-classifier/internal/domain"
	"github.com/dvloznov/journal-classifier/internal/masters"
)

const systemPrompt = "You are a Japanese accounting assistant. " +
	"Classify transactions into appropriate Japanese account subjects (勘定科目). " +
	"You must return a single JSON object only. " +
	"Also produce a short Japanese description for the journal entry (摘要)."

const userPromptPreamble = "Classify the transaction and match to masters when possible. " +
	"Return JSON only, no markdown.\n\n"

type vendorCandidate struct {
	ID   string `json:"id,omitempty"`
	Code string `json:"code,omitempty"`
	Name string `json:"name"`
}

type accountCandidate struct {
	Code string `json:"code,omitempty"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

type promptPayload struct {
	Vendor            string             `json:"vendor"`
	Description       string             `json:"description"`
	Amount            json.Number        `json:"amount"`
	Direction         domain.Direction   `json:"direction"`
	VendorCandidates  []vendorCandidate  `json:"vendor_candidates"`
	AccountCandidates []accountCandidate `json:"account_candidates"`
	ResponseSchema    map[string]any     `json:"response_schema"`
}

// BuildUserPrompt renders the classification request for one transaction.
func BuildUserPrompt(tx *domain.Transaction, vendors []masters.Vendor, accounts []masters.Account) (string, error) {
	payload := promptPayload{
		Vendor:            tx.Vendor,
		Description:       tx.Description,
		Amount:            json.Number(tx.Amount.String()),
		Direction:         tx.Direction,
		VendorCandidates:  make([]vendorCandidate, 0, len(vendors)),
		AccountCandidates: make([]accountCandidate, 0, len(accounts)),
		ResponseSchema:    promptResponseSchema,
	}
	for _, v := range vendors {
		payload.VendorCandidates = append(payload.VendorCandidates, vendorCandidate{ID: v.Key(), Code: v.Code, Name: v.Name})
	}
	for _, a := range accounts {
		payload.AccountCandidates = append(payload.AccountCandidates, accountCandidate{Code: a.Code, Name: a.Name, Type: a.Kind()})
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return userPromptPreamble + string(b), nil
}
