package engine

import (
	"math"
	"strings"
	"time"

	"github.com/engramdb/engram/internal/config"
	"github.com/engramdb/engram/internal/store"
)

// minElapsedDays floors the age of an access so that a retrieval in the
// same instant as "now" cannot blow up the power law.
const minElapsedDays = 1e-5

// Activation computes the retrieval activation of a memory at a point in
// time. The base level is ln of the summed power-law traces of past
// accesses; context keywords found in the content add spreading activation,
// and importance adds a salience term.
//
// The second return is false when the memory is unretrievable: no access
// history, or a non-positive trace sum. That is a ranking exclusion, not an
// error. Pure function, no side effects.
func Activation(m *store.Memory, contextKeywords []string, now time.Time, p config.MemoryParams) (float64, bool) {
	if len(m.AccessTimes) == 0 {
		return 0, false
	}

	var sum float64
	for _, at := range m.AccessTimes {
		days := now.Sub(time.UnixMilli(at)).Hours() / 24
		if days < minElapsedDays {
			days = minElapsedDays
		}
		sum += math.Pow(days, -p.Decay)
	}
	if sum <= 0 {
		return 0, false
	}

	activation := math.Log(sum)
	activation += spreading(m.Content, contextKeywords, p.SpreadBoost)
	activation += p.ImportanceWeight * m.Importance
	return activation, true
}

// spreading adds a fixed boost per context keyword that appears as a whole
// word in the content, case-insensitive.
func spreading(content string, keywords []string, boost float64) float64 {
	if len(keywords) == 0 {
		return 0
	}

	words := make(map[string]bool)
	for _, w := range splitWords(content) {
		words[w] = true
	}

	var total float64
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && words[kw] {
			total += boost
		}
	}
	return total
}

// splitWords lowercases and splits text on non-alphanumeric runes.
func splitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
}
