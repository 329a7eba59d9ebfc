// Package journal derives the persisted prediction and ledger-entry records
// from a classified transaction.
package journal

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/dvloznov/journal-classifier/internal/confidence"
	"github.com/dvloznov/journal-classifier/internal/domain"
	"github.com/shopspring/decimal"
)

// Record defaults.
const (
	DefaultAccountBook    = "普通預金"
	TaxCategoryIncome     = "課税売上10%"
	TaxCategoryExpense    = "課税仕入10%"
	DefaultTagNames       = "AI自動仕訳"
	StatusDraft           = "draft"
	StatusExported        = "exported"
	PredictionStatusDone  = "completed"
	UnknownModel          = "unknown"
	extraMemoKey          = "memo"
	transactionDateLayout = "2006-01-02"
)

// Prediction is the audit record of one classification.
type Prediction struct {
	ID                 string          `json:"id"`
	TenantID           string          `json:"tenant_id"`
	InputVendor        string          `json:"input_vendor"`
	InputDescription   string          `json:"input_description"`
	InputAmount        decimal.Decimal `json:"input_amount"`
	InputDirection     string          `json:"input_direction"`
	PredictedAccount   string          `json:"predicted_account"`
	AccountConfidence  float64         `json:"account_confidence"`
	Reasoning          string          `json:"reasoning,omitempty"`
	MatchedVendorID    string          `json:"matched_vendor_id,omitempty"`
	MatchedVendorCode  string          `json:"matched_vendor_code,omitempty"`
	MatchedVendorName  string          `json:"matched_vendor_name,omitempty"`
	VendorConfidence   *float64        `json:"vendor_confidence,omitempty"`
	MatchedAccountCode string          `json:"matched_account_code,omitempty"`
	MatchedAccountName string          `json:"matched_account_name,omitempty"`
	Model              string          `json:"model"`
	TokensUsed         *int            `json:"tokens_used,omitempty"`
	RawResponse        string          `json:"raw_response,omitempty"`
	Status             string          `json:"status"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Entry is the ledger-entry record referencing a Prediction.
type Entry struct {
	ID                 string           `json:"id"`
	TenantID           string           `json:"tenant_id"`
	PredictionID       string           `json:"prediction_id,omitempty"`
	TransactionDate    time.Time        `json:"transaction_date"`
	TransactionType    domain.Direction `json:"transaction_type"`
	IncomeAmount       *decimal.Decimal `json:"income_amount,omitempty"`
	ExpenseAmount      *decimal.Decimal `json:"expense_amount,omitempty"`
	AccountSubject     string           `json:"account_subject"`
	MatchedAccountCode string           `json:"matched_account_code,omitempty"`
	Vendor             string           `json:"vendor,omitempty"`
	MatchedVendorID    string           `json:"matched_vendor_id,omitempty"`
	MatchedVendorCode  string           `json:"matched_vendor_code,omitempty"`
	Description        string           `json:"description,omitempty"`
	AccountBook        string           `json:"account_book"`
	TaxCategory        string           `json:"tax_category"`
	Memo               string           `json:"memo,omitempty"`
	TagNames           string           `json:"tag_names"`
	CSVExported        bool             `json:"csv_exported"`
	Status             string           `json:"status"`
	CreatedAt          time.Time        `json:"created_at"`
}

// ParseDate accepts YYYY-MM-DD or YYYY/MM/DD.
func ParseDate(value string) (time.Time, bool) {
	raw := strings.ReplaceAll(strings.TrimSpace(value), "/", "-")
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(transactionDateLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// PredictionFromTransaction builds the audit record. When the transaction
// carries no raw model reply, the transaction itself is stored instead.
func PredictionFromTransaction(tx *domain.Transaction, now time.Time) Prediction {
	p := Prediction{
		InputVendor:        tx.Vendor,
		InputDescription:   tx.Description,
		InputAmount:        tx.Amount,
		InputDirection:     string(tx.Direction),
		PredictedAccount:   tx.ResolvedAccount(),
		Reasoning:          tx.Reasoning,
		MatchedVendorID:    tx.MatchedVendorID,
		MatchedVendorCode:  tx.MatchedVendorCode,
		MatchedVendorName:  tx.MatchedVendorName,
		VendorConfidence:   tx.VendorConfidence,
		MatchedAccountCode: tx.MatchedAccountCode,
		MatchedAccountName: tx.MatchedAccountName,
		Model:              tx.Model,
		RawResponse:        tx.RawResponse,
		Status:             PredictionStatusDone,
		CreatedAt:          now.UTC(),
	}
	if acc := accountConfidence(tx); acc != nil {
		p.AccountConfidence = *acc
	}
	if p.Model == "" {
		p.Model = UnknownModel
	}
	if tx.TokensUsed > 0 {
		n := tx.TokensUsed
		p.TokensUsed = &n
	}
	if p.RawResponse == "" {
		if b, err := json.Marshal(tx); err == nil {
			p.RawResponse = string(b)
		}
	}
	return p
}

// FromTransaction derives the ledger entry for tx. Unparseable or missing
// dates fall back to now.
func FromTransaction(tx *domain.Transaction, predictionID string, now time.Time) Entry {
	date, ok := ParseDate(tx.Date)
	if !ok {
		date = now.UTC()
	}

	amount := tx.Amount.Abs()
	e := Entry{
		PredictionID:       predictionID,
		TransactionDate:    date,
		TransactionType:    tx.Direction,
		AccountSubject:     tx.ResolvedAccount(),
		MatchedAccountCode: tx.MatchedAccountCode,
		Vendor:             tx.Vendor,
		MatchedVendorID:    tx.MatchedVendorID,
		MatchedVendorCode:  tx.MatchedVendorCode,
		Description:        description(tx),
		AccountBook:        DefaultAccountBook,
		TaxCategory:        TaxCategoryExpense,
		Memo:               memo(tx),
		TagNames:           DefaultTagNames,
		Status:             StatusDraft,
		CreatedAt:          now.UTC(),
	}
	if tx.Direction == domain.DirectionIncome {
		e.IncomeAmount = &amount
		e.TaxCategory = TaxCategoryIncome
	} else {
		e.ExpenseAmount = &amount
	}
	return e
}

func accountConfidence(tx *domain.Transaction) *float64 {
	if tx.AccountConfidence != nil {
		return tx.AccountConfidence
	}
	return tx.Confidence
}

func description(tx *domain.Transaction) string {
	if r := tx.ReasonText(); r != "" {
		return r
	}
	return tx.Description
}

func memo(tx *domain.Transaction) string {
	reason := tx.ReasonText()
	if reason == "" {
		if s, ok := tx.Extra[extraMemoKey].(string); ok {
			reason = s
		}
	}
	m, _ := confidence.BuildJournalMemo(reason, accountConfidence(tx), tx.VendorConfidence)
	return m
}
