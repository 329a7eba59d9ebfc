package confidence

import (
	"encoding/json"
	"testing"
)

func TestNormalizeRatio(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   float64
		wantOK bool
	}{
		{name: "ratio passes through", input: 0.42, want: 0.42, wantOK: true},
		{name: "zero", input: 0.0, want: 0, wantOK: true},
		{name: "one", input: 1.0, want: 1, wantOK: true},
		{name: "percentage", input: 87.0, want: 0.87, wantOK: true},
		{name: "hundred", input: 100, want: 1, wantOK: true},
		{name: "above hundred clamps", input: 250.0, want: 1, wantOK: true},
		{name: "negative clamps", input: -0.3, want: 0, wantOK: true},
		{name: "numeric string", input: " 65 ", want: 0.65, wantOK: true},
		{name: "json number", input: json.Number("0.5"), want: 0.5, wantOK: true},
		{name: "non numeric string", input: "high", wantOK: false},
		{name: "nil", input: nil, wantOK: false},
		{name: "bool", input: true, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeRatio(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("NormalizeRatio(%v) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && !almostEqual(got, tt.want) {
				t.Errorf("NormalizeRatio(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatPercent(t *testing.T) {
	tests := []struct {
		input any
		want  string
	}{
		{0.873, "87.3%"},
		{0.87, "87%"},
		{1.0, "100%"},
		{0.0, "0%"},
		{86.5, "86.5%"},
		{0.12345, "12.3%"},
	}

	for _, tt := range tests {
		got, ok := FormatPercent(tt.input)
		if !ok {
			t.Fatalf("FormatPercent(%v) returned no value", tt.input)
		}
		if got != tt.want {
			t.Errorf("FormatPercent(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}

	if _, ok := FormatPercent("n/a"); ok {
		t.Error("FormatPercent(\"n/a\") should report no value")
	}
}

func TestBuildJournalMemo(t *testing.T) {
	acc := 0.87
	vendor := 0.65

	tests := []struct {
		name   string
		reason string
		acc    *float64
		vendor *float64
		want   string
		wantOK bool
	}{
		{name: "nothing", wantOK: false},
		{name: "blank reason only", reason: "   ", wantOK: false},
		{name: "reason only", reason: "電気料金", want: "電気料金", wantOK: true},
		{name: "confidences only", acc: &acc, vendor: &vendor, want: "conf: acc=87%, vendor=65%", wantOK: true},
		{name: "reason and account", reason: " 電気料金 ", acc: &acc, want: "電気料金 (conf: acc=87%)", wantOK: true},
		{name: "reason and vendor", reason: "電気料金", vendor: &vendor, want: "電気料金 (conf: vendor=65%)", wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := BuildJournalMemo(tt.reason, tt.acc, tt.vendor)
			if ok != tt.wantOK {
				t.Fatalf("BuildJournalMemo() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("BuildJournalMemo() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPtr(t *testing.T) {
	if Ptr("x") != nil {
		t.Error("Ptr(\"x\") should be nil")
	}
	p := Ptr(90)
	if p == nil || !almostEqual(*p, 0.9) {
		t.Errorf("Ptr(90) = %v, want 0.9", p)
	}
}

func almostEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}
