package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNormalizeDirection(t *testing.T) {
	tests := []struct {
		input any
		want  Direction
	}{
		{"income", DirectionIncome},
		{"  INCOME ", DirectionIncome},
		{"in", DirectionIncome},
		{"収入", DirectionIncome},
		{"入金", DirectionIncome},
		{"expense", DirectionExpense},
		{"out", DirectionExpense},
		{"支出", DirectionExpense},
		{"出金", DirectionExpense},
		{"deposit-in", DirectionIncome},
		{"売上収益", DirectionIncome},
		{"foo", DirectionExpense},
		{"", DirectionExpense},
		{nil, DirectionExpense},
		{42, DirectionExpense},
	}

	for _, tt := range tests {
		if got := NormalizeDirection(tt.input); got != tt.want {
			t.Errorf("NormalizeDirection(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{name: "float", input: 5000.0, want: "5000"},
		{name: "int", input: 1200, want: "1200"},
		{name: "string", input: " 12.5 ", want: "12.5"},
		{name: "negative", input: "-300", want: "-300"},
		{name: "json number", input: json.Number("99"), want: "99"},
		{name: "garbage", input: "abc", want: "0"},
		{name: "nil", input: nil, want: "0"},
		{name: "map", input: map[string]any{"x": 1}, want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAmount(tt.input)
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ParseAmount(%v) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	raw := map[string]any{
		"date":        "2024-01-15",
		"vendor":      nil,
		"description": 123,
		"amount":      "5000",
		"direction":   "支出",
		"accountName": "水道光熱費",
		"confidence":  87,
		"projectId":   "P-1",
		"_ref":        2,
	}

	tx, ok := Normalize(raw)
	if !ok {
		t.Fatal("Normalize() rejected a mapping")
	}
	if tx.Vendor != "" {
		t.Errorf("Vendor = %q, want empty", tx.Vendor)
	}
	if tx.Description != "123" {
		t.Errorf("Description = %q, want %q", tx.Description, "123")
	}
	if !tx.Amount.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("Amount = %s, want 5000", tx.Amount)
	}
	if tx.Direction != DirectionExpense {
		t.Errorf("Direction = %q, want expense", tx.Direction)
	}
	if tx.Confidence == nil || *tx.Confidence != 0.87 {
		t.Errorf("Confidence = %v, want 0.87", tx.Confidence)
	}
	if tx.Extra["projectId"] != "P-1" {
		t.Errorf("Extra[projectId] = %v, want P-1", tx.Extra["projectId"])
	}
	if tx.Ref == nil || *tx.Ref != 2 {
		t.Errorf("Ref = %v, want 2", tx.Ref)
	}
}

func TestNormalize_NotAMapping(t *testing.T) {
	for _, input := range []any{nil, "text", 3, []any{map[string]any{}}} {
		if _, ok := Normalize(input); ok {
			t.Errorf("Normalize(%v) accepted a non-mapping", input)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	conf := 0.5
	ref := 0
	first := &Transaction{
		Date:              "2024-02-01",
		Vendor:            "東京電力",
		Description:       "電気代",
		Amount:            decimal.NewFromFloat(5000.5),
		Direction:         DirectionIncome,
		AccountName:       "売上高",
		Reasoning:         "r",
		Confidence:        &conf,
		MatchedVendorID:   "V1",
		MatchedVendorName: "東京電力",
		TokensUsed:        12,
		Ref:               &ref,
		Extra:             map[string]any{"currency": "JPY"},
	}

	second, _ := Normalize(first.ToMap())
	third, _ := Normalize(second.ToMap())

	for _, tx := range []*Transaction{second, third} {
		if tx.Date != first.Date || tx.Vendor != first.Vendor || tx.Description != first.Description {
			t.Errorf("text fields changed: %+v", tx)
		}
		if !tx.Amount.Equal(first.Amount) {
			t.Errorf("Amount = %s, want %s", tx.Amount, first.Amount)
		}
		if tx.Direction != first.Direction || tx.AccountName != first.AccountName {
			t.Errorf("classification changed: %+v", tx)
		}
		if tx.Confidence == nil || *tx.Confidence != conf {
			t.Errorf("Confidence = %v, want %v", tx.Confidence, conf)
		}
		if tx.TokensUsed != 12 || tx.MatchedVendorID != "V1" {
			t.Errorf("audit fields changed: %+v", tx)
		}
		if tx.Ref == nil || *tx.Ref != 0 {
			t.Errorf("Ref = %v, want 0", tx.Ref)
		}
		if tx.Extra["currency"] != "JPY" {
			t.Errorf("Extra = %v", tx.Extra)
		}
	}
}

func TestNormalizeAll_DropsNonMappings(t *testing.T) {
	items := []any{
		map[string]any{"vendor": "A"},
		"skip me",
		nil,
		map[string]any{"vendor": "B"},
	}

	got := NormalizeAll(items)
	if len(got) != 2 {
		t.Fatalf("NormalizeAll() returned %d items, want 2", len(got))
	}
	if got[0].Vendor != "A" || got[1].Vendor != "B" {
		t.Errorf("NormalizeAll() order = %q, %q", got[0].Vendor, got[1].Vendor)
	}
}

func TestTransaction_JSON(t *testing.T) {
	var tx Transaction
	if err := json.Unmarshal([]byte(`{"vendor":"A","amount":1200,"direction":"in","note":"x","_ref":1}`), &tx); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if tx.Direction != DirectionIncome || !tx.Amount.Equal(decimal.NewFromInt(1200)) {
		t.Errorf("Unmarshal() = %+v", tx)
	}

	out, err := json.Marshal(&tx)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("Unmarshal(out) error = %v", err)
	}
	if _, ok := back["_ref"]; ok {
		t.Error("marshalled transaction leaked _ref")
	}
	if back["note"] != "x" {
		t.Errorf("extra key lost: %v", back)
	}
	if back["amount"] != 1200.0 {
		t.Errorf("amount = %v, want 1200", back["amount"])
	}
}

func TestResolvedAccount(t *testing.T) {
	tx := &Transaction{Direction: DirectionIncome}
	if got := tx.ResolvedAccount(); got != DefaultIncomeAccount {
		t.Errorf("ResolvedAccount() = %q, want %q", got, DefaultIncomeAccount)
	}
	tx.AccountName = "旅費交通費"
	if got := tx.ResolvedAccount(); got != "旅費交通費" {
		t.Errorf("ResolvedAccount() = %q", got)
	}
}
