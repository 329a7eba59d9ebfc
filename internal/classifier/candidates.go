package classifier

import (
	"regexp"
	"sort"
	"strings"

	"github.com/agext/levenshtein"
	"github.com/dvloznov/journal-classifier/internal/domain"
	"github.com/dvloznov/journal-classifier/internal/masters"
)

// Candidate list sizes sent to the model.
const (
	VendorCandidateLimit  = 10
	AccountCandidateLimit = 30

	// containmentBonus is added when one string contains the other.
	containmentBonus = 0.2

	// closeMatchCutoff is the minimum similarity for catalog correction.
	closeMatchCutoff = 0.7
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// similarity is a rune-aware edit-distance ratio in [0,1].
func similarity(a, b string) float64 {
	return levenshtein.Similarity(a, b, nil)
}

type scored[T any] struct {
	score float64
	item  T
}

func topN[T any](items []scored[T], limit int) []T {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].score > items[j].score
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]T, len(items))
	for i, s := range items {
		out[i] = s.item
	}
	return out
}

func head[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

// SelectVendorCandidates ranks vendors by similarity to vendor. An empty
// vendor returns the catalog in its own order.
func SelectVendorCandidates(vendor string, vendors []masters.Vendor, limit int) []masters.Vendor {
	if len(vendors) == 0 {
		return nil
	}
	vendor = strings.TrimSpace(vendor)
	if vendor == "" {
		return head(vendors, limit)
	}

	ranked := make([]scored[masters.Vendor], 0, len(vendors))
	for _, v := range vendors {
		score := similarity(vendor, v.Name)
		if strings.Contains(v.Name, vendor) || strings.Contains(vendor, v.Name) {
			score += containmentBonus
		}
		ranked = append(ranked, scored[masters.Vendor]{score: score, item: v})
	}
	return topN(ranked, limit)
}

// SelectAccountCandidates keeps accounts whose declared kind mentions the
// direction, then ranks them against "vendor description".
func SelectAccountCandidates(vendor, description string, direction domain.Direction, accounts []masters.Account, limit int) []masters.Account {
	if len(accounts) == 0 {
		return nil
	}

	dir := strings.ToLower(string(direction))
	if dir == "" {
		dir = string(domain.DirectionExpense)
	}

	filtered := make([]masters.Account, 0, len(accounts))
	for _, a := range accounts {
		if kind := a.Kind(); kind != "" && !strings.Contains(kind, dir) {
			continue
		}
		filtered = append(filtered, a)
	}

	text := strings.TrimSpace(vendor + " " + description)
	if text == "" {
		return head(filtered, limit)
	}

	ranked := make([]scored[masters.Account], 0, len(filtered))
	for _, a := range filtered {
		score := similarity(text, a.Name)
		if a.Name != "" && strings.Contains(text, a.Name) {
			score += containmentBonus
		}
		ranked = append(ranked, scored[masters.Account]{score: score, item: a})
	}
	return topN(ranked, limit)
}

// closestMatch returns the most similar name scoring at least cutoff.
func closestMatch(word string, names []string, cutoff float64) (string, bool) {
	best, bestScore := "", -1.0
	for _, n := range names {
		if s := similarity(word, n); s >= cutoff && s > bestScore {
			best, bestScore = n, s
		}
	}
	return best, bestScore >= cutoff
}

// NormalizeAccountName snaps account to a catalog name when it is close
// enough and keeps it unchanged otherwise. Empty accounts become the
// direction default.
func NormalizeAccountName(account string, names []string, direction domain.Direction) string {
	account = strings.TrimSpace(account)
	if account == "" {
		return domain.DefaultAccount(direction)
	}

	for _, n := range names {
		if n == account {
			return account
		}
	}

	if best, ok := closestMatch(account, names, closeMatchCutoff); ok {
		return best
	}
	collapsed := whitespaceRun.ReplaceAllString(account, " ")
	if best, ok := closestMatch(collapsed, names, closeMatchCutoff); ok {
		return best
	}
	return account
}
