// Package confidence converts model confidence values into canonical
// ratios and renders them for journal memos.
package confidence

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// wholePercentTolerance decides when a percentage is printed without a decimal.
const wholePercentTolerance = 1e-6

// NormalizeRatio parses value into a ratio in [0,1]. Values above 1 are
// treated as percentages. The second return is false when value carries no
// usable number.
func NormalizeRatio(value any) (float64, bool) {
	f, ok := toFloat(value)
	if !ok {
		return 0, false
	}
	return Clamp(f), true
}

// Clamp applies the percentage rule and bounds f to [0,1].
func Clamp(f float64) float64 {
	if f > 1 {
		f = f / 100
	}
	return math.Max(0, math.Min(1, f))
}

// Ptr is NormalizeRatio returning nil when no confidence is available.
func Ptr(value any) *float64 {
	r, ok := NormalizeRatio(value)
	if !ok {
		return nil
	}
	return &r
}

// FormatPercent renders value as "87%" or "86.5%".
func FormatPercent(value any) (string, bool) {
	ratio, ok := NormalizeRatio(value)
	if !ok {
		return "", false
	}
	pct := ratio * 100
	rounded := math.Round(pct)
	if math.Abs(pct-rounded) < wholePercentTolerance {
		return fmt.Sprintf("%.0f%%", rounded), true
	}
	return fmt.Sprintf("%.1f%%", pct), true
}

// BuildJournalMemo composes "reason (conf: acc=87%, vendor=65%)". Without a
// reason only the "conf: ..." part is returned. The second return is false
// when there is neither a reason nor a confidence.
func BuildJournalMemo(reason string, accountConfidence, vendorConfidence *float64) (string, bool) {
	reason = strings.TrimSpace(reason)

	var parts []string
	if accountConfidence != nil {
		if s, ok := FormatPercent(*accountConfidence); ok {
			parts = append(parts, "acc="+s)
		}
	}
	if vendorConfidence != nil {
		if s, ok := FormatPercent(*vendorConfidence); ok {
			parts = append(parts, "vendor="+s)
		}
	}

	switch {
	case len(parts) == 0 && reason == "":
		return "", false
	case len(parts) == 0:
		return reason, true
	case reason == "":
		return "conf: " + strings.Join(parts, ", "), true
	default:
		return reason + " (conf: " + strings.Join(parts, ", ") + ")", true
	}
}

func toFloat(value any) (float64, bool) {
	var f float64
	switch v := value.(type) {
	case nil:
		return 0, false
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case *float64:
		if v == nil {
			return 0, false
		}
		f = *v
	case decimal.Decimal:
		f = v.InexactFloat64()
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
