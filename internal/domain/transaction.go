package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dvloznov/journal-classifier/internal/confidence"
	"github.com/shopspring/decimal"
)

// Direction is the cash flow direction of a transaction.
type Direction string

const (
	DirectionExpense Direction = "expense"
	DirectionIncome  Direction = "income"
)

// Default ledger accounts used when nothing better is known.
const (
	DefaultExpenseAccount = "雑費"
	DefaultIncomeAccount  = "売上高"
)

// DefaultAccount returns the fallback account for a direction.
func DefaultAccount(d Direction) string {
	if d == DirectionIncome {
		return DefaultIncomeAccount
	}
	return DefaultExpenseAccount
}

var (
	incomeWords  = map[string]bool{"income": true, "in": true, "収入": true, "入金": true}
	expenseWords = map[string]bool{"expense": true, "out": true, "支出": true, "出金": true}
)

// NormalizeDirection maps any value onto expense or income. It never fails:
// exact synonyms win, then a substring heuristic, then expense.
func NormalizeDirection(value any) Direction {
	s := strings.ToLower(strings.TrimSpace(stringOf(value)))
	switch {
	case incomeWords[s]:
		return DirectionIncome
	case expenseWords[s]:
		return DirectionExpense
	case strings.Contains(s, "in") || strings.Contains(s, "収"):
		return DirectionIncome
	default:
		return DirectionExpense
	}
}

// Transaction is the canonical record flowing through the pipeline.
// Keys the normalizer does not recognise are kept in Extra. Ref, when set,
// is the index of the caller-owned item this transaction was derived from.
type Transaction struct {
	Date           string
	Vendor         string
	Description    string
	Amount         decimal.Decimal
	Direction      Direction
	AccountName    string
	SubAccountItem string
	FileName       string

	Reasoning        string
	ModelDescription string

	Confidence        *float64
	AccountConfidence *float64
	VendorConfidence  *float64

	MatchedAccountCode string
	MatchedAccountName string
	MatchedVendorID    string
	MatchedVendorCode  string
	MatchedVendorName  string

	RawResponse string
	Model       string
	TokensUsed  int

	Ref   *int
	Extra map[string]any
}

// Record keys understood by Normalize.
const (
	KeyDate               = "date"
	KeyVendor             = "vendor"
	KeyDescription        = "description"
	KeyAmount             = "amount"
	KeyDirection          = "direction"
	KeyAccountName        = "accountName"
	KeySubAccountItem     = "subAccountItem"
	KeyFileName           = "fileName"
	KeyReasoning          = "reasoning"
	KeyModelDescription   = "model_description"
	KeyConfidence         = "confidence"
	KeyAccountConfidence  = "account_confidence"
	KeyVendorConfidence   = "vendor_confidence"
	KeyMatchedAccountCode = "matched_account_code"
	KeyMatchedAccountName = "matched_account_name"
	KeyMatchedVendorID    = "matched_vendor_id"
	KeyMatchedVendorCode  = "matched_vendor_code"
	KeyMatchedVendorName  = "matched_vendor_name"
	KeyRawResponse        = "raw_response"
	KeyModel              = "model"
	KeyTokensUsed         = "tokens_used"
	KeyRef                = "_ref"
)

var knownKeys = map[string]bool{
	KeyDate: true, KeyVendor: true, KeyDescription: true, KeyAmount: true,
	KeyDirection: true, KeyAccountName: true, KeySubAccountItem: true, KeyFileName: true,
	KeyReasoning: true, KeyModelDescription: true, KeyConfidence: true,
	KeyAccountConfidence: true, KeyVendorConfidence: true, KeyMatchedAccountCode: true,
	KeyMatchedAccountName: true, KeyMatchedVendorID: true, KeyMatchedVendorCode: true,
	KeyMatchedVendorName: true, KeyRawResponse: true, KeyModel: true, KeyTokensUsed: true,
	KeyRef: true,
}

// Normalize coerces a loosely typed mapping into a Transaction. It returns
// false only when raw is not a mapping.
func Normalize(raw any) (*Transaction, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, false
	}

	tx := &Transaction{
		Date:               stringOf(m[KeyDate]),
		Vendor:             stringOf(m[KeyVendor]),
		Description:        stringOf(m[KeyDescription]),
		Amount:             ParseAmount(m[KeyAmount]),
		Direction:          NormalizeDirection(m[KeyDirection]),
		AccountName:        stringOf(m[KeyAccountName]),
		SubAccountItem:     stringOf(m[KeySubAccountItem]),
		FileName:           stringOf(m[KeyFileName]),
		Reasoning:          stringOf(m[KeyReasoning]),
		ModelDescription:   stringOf(m[KeyModelDescription]),
		Confidence:         confidence.Ptr(m[KeyConfidence]),
		AccountConfidence:  confidence.Ptr(m[KeyAccountConfidence]),
		VendorConfidence:   confidence.Ptr(m[KeyVendorConfidence]),
		MatchedAccountCode: stringOf(m[KeyMatchedAccountCode]),
		MatchedAccountName: stringOf(m[KeyMatchedAccountName]),
		MatchedVendorID:    stringOf(m[KeyMatchedVendorID]),
		MatchedVendorCode:  stringOf(m[KeyMatchedVendorCode]),
		MatchedVendorName:  stringOf(m[KeyMatchedVendorName]),
		RawResponse:        stringOf(m[KeyRawResponse]),
		Model:              stringOf(m[KeyModel]),
		TokensUsed:         int(ParseAmount(m[KeyTokensUsed]).IntPart()),
		Ref:                refOf(m[KeyRef]),
	}

	for k, v := range m {
		if knownKeys[k] {
			continue
		}
		if tx.Extra == nil {
			tx.Extra = make(map[string]any)
		}
		tx.Extra[k] = v
	}

	return tx, true
}

// NormalizeAll normalizes every mapping in items, dropping anything else.
func NormalizeAll(items []any) []*Transaction {
	out := make([]*Transaction, 0, len(items))
	for _, item := range items {
		if tx, ok := Normalize(item); ok {
			out = append(out, tx)
		}
	}
	return out
}

// ToMap returns the record form of tx. Normalize(tx.ToMap()) reproduces tx.
func (tx *Transaction) ToMap() map[string]any {
	m := make(map[string]any, len(tx.Extra)+24)
	for k, v := range tx.Extra {
		m[k] = v
	}

	m[KeyDate] = tx.Date
	m[KeyVendor] = tx.Vendor
	m[KeyDescription] = tx.Description
	m[KeyAmount] = json.Number(tx.Amount.String())
	m[KeyDirection] = string(tx.Direction)
	m[KeyAccountName] = tx.AccountName

	putString(m, KeySubAccountItem, tx.SubAccountItem)
	putString(m, KeyFileName, tx.FileName)
	putString(m, KeyReasoning, tx.Reasoning)
	putString(m, KeyModelDescription, tx.ModelDescription)
	putString(m, KeyMatchedAccountCode, tx.MatchedAccountCode)
	putString(m, KeyMatchedAccountName, tx.MatchedAccountName)
	putString(m, KeyMatchedVendorID, tx.MatchedVendorID)
	putString(m, KeyMatchedVendorCode, tx.MatchedVendorCode)
	putString(m, KeyMatchedVendorName, tx.MatchedVendorName)
	putString(m, KeyRawResponse, tx.RawResponse)
	putString(m, KeyModel, tx.Model)
	putFloat(m, KeyConfidence, tx.Confidence)
	putFloat(m, KeyAccountConfidence, tx.AccountConfidence)
	putFloat(m, KeyVendorConfidence, tx.VendorConfidence)
	if tx.TokensUsed != 0 {
		m[KeyTokensUsed] = tx.TokensUsed
	}
	if tx.Ref != nil {
		m[KeyRef] = *tx.Ref
	}
	return m
}

// MarshalJSON writes the record form without the back-reference.
func (tx *Transaction) MarshalJSON() ([]byte, error) {
	m := tx.ToMap()
	delete(m, KeyRef)
	return json.Marshal(m)
}

// UnmarshalJSON accepts any JSON object and normalizes it.
func (tx *Transaction) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("Transaction: decode: %w", err)
	}
	normalized, _ := Normalize(raw)
	*tx = *normalized
	return nil
}

// ResolvedAccount returns the account name or the direction default.
func (tx *Transaction) ResolvedAccount() string {
	if strings.TrimSpace(tx.AccountName) != "" {
		return tx.AccountName
	}
	return DefaultAccount(tx.Direction)
}

// ReasonText returns the shared explanation text: reasoning first, then
// the model's own description.
func (tx *Transaction) ReasonText() string {
	if tx.Reasoning != "" {
		return tx.Reasoning
	}
	return tx.ModelDescription
}

// ParseAmount parses value as a decimal; anything unparseable is zero.
func ParseAmount(value any) decimal.Decimal {
	switch v := value.(type) {
	case decimal.Decimal:
		return v
	case float64:
		return decimal.NewFromFloat(v)
	case float32:
		return decimal.NewFromFloat32(v)
	case int:
		return decimal.NewFromInt(int64(v))
	case int64:
		return decimal.NewFromInt(v)
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero
		}
		return d
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}

func stringOf(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func refOf(value any) *int {
	var idx int
	switch v := value.(type) {
	case int:
		idx = v
	case *int:
		if v == nil {
			return nil
		}
		idx = *v
	case float64:
		idx = int(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil
		}
		idx = int(n)
	default:
		return nil
	}
	if idx < 0 {
		return nil
	}
	return &idx
}

func putString(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func putFloat(m map[string]any, key string, value *float64) {
	if value != nil {
		m[key] = *value
	}
}
