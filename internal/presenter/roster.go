package presenter

import (
	"sort"
	"strings"
	"unicode"

	"github.com/arbovm/levenshtein"

	"github.com/anime-shed/retina-inspector-go/pkg/models"
)

// MatchRosterName returns the roster entry a reported model name refers to.
// Names are compared without spaces and case, so "DenseNet121 + EA" matches
// "DenseNet121+EA". Anything else, however close, is not a roster model.
func MatchRosterName(name string) (string, bool) {
	norm := normalizeModelName(name)
	for _, candidate := range models.ModelRoster {
		if normalizeModelName(candidate) == norm {
			return candidate, true
		}
	}
	return "", false
}

// rosterPosition ranks a reported name for display order. Besides exact
// matches it accepts a single edit that does not touch a digit, so
// "YOLOv8-cls" sorts with "YOLOv8x-cls" but "ResNet101+EA" does not sort
// with "ResNet50+EA".
func rosterPosition(name string) int {
	if canonical, ok := MatchRosterName(name); ok {
		return rosterIndex(canonical)
	}
	norm := normalizeModelName(name)
	for i, candidate := range models.ModelRoster {
		c := normalizeModelName(candidate)
		if levenshtein.Distance(norm, c) == 1 && !editTouchesDigit(norm, c) {
			return i
		}
	}
	return len(models.ModelRoster)
}

func rosterIndex(name string) int {
	for i, candidate := range models.ModelRoster {
		if candidate == name {
			return i
		}
	}
	return len(models.ModelRoster)
}

// editTouchesDigit reports whether the single edit separating a and b
// inserts, deletes or replaces a digit.
func editTouchesDigit(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	i := 0
	for i < len(ra) && i < len(rb) && ra[i] == rb[i] {
		i++
	}
	isDigit := func(r []rune) bool { return i < len(r) && unicode.IsDigit(r[i]) }
	return isDigit(ra) || isDigit(rb)
}

// OrderByRoster sorts results into roster order. Results that match no
// roster entry keep their relative order after the known models.
func OrderByRoster(results []models.ModelResult) []models.ModelResult {
	out := make([]models.ModelResult, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool {
		return rosterPosition(out[i].ModelName) < rosterPosition(out[j].ModelName)
	})
	return out
}

func normalizeModelName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), ""))
}
