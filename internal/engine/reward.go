package engine

import (
	"github.com/engramdb/engram/internal/config"
	"github.com/engramdb/engram/internal/store"
)

// Feedback polarities.
const (
	PolarityPositive = "positive"
	PolarityNegative = "negative"
	PolarityNeutral  = "neutral"
)

// Cue lexicons for the feedback heuristic. Plain word lists, no NLP.
var (
	positiveCues = map[string]bool{
		"thanks": true, "thank": true, "great": true, "perfect": true,
		"helpful": true, "right": true, "correct": true, "exactly": true,
		"awesome": true, "good": true, "yes": true, "nice": true,
		"works": true, "worked": true, "useful": true, "spot": true,
	}
	negativeCues = map[string]bool{
		"wrong": true, "incorrect": true, "bad": true, "no": true,
		"not": true, "useless": true, "unhelpful": true, "mistake": true,
		"mistaken": true, "confused": true, "confusing": true,
		"broken": true, "failed": true, "outdated": true, "stale": true,
	}
)

// DetectFeedback classifies free-form feedback text into a polarity and a
// confidence in [0,1], by counting cue words. Mixed or cue-free text comes
// back neutral with zero confidence.
func DetectFeedback(text string) (polarity string, confidence float64) {
	pos, neg := 0, 0
	for _, w := range splitWords(text) {
		if positiveCues[w] {
			pos++
		}
		if negativeCues[w] {
			neg++
		}
	}

	diff := pos - neg
	if diff == 0 {
		return PolarityNeutral, 0
	}

	confidence = 0.4 * float64(abs(diff))
	if confidence > 1 {
		confidence = 1
	}
	if diff > 0 {
		return PolarityPositive, confidence
	}
	return PolarityNegative, confidence
}

// RewardReport describes what a feedback application did.
type RewardReport struct {
	Polarity   string  `json:"polarity"`
	Confidence float64 `json:"confidence"`
	Adjusted   int     `json:"adjusted"`
}

// ApplyReward maps outcome feedback onto the most recently retrieved
// memories: positive feedback raises their importance and working strength,
// negative feedback lowers them, each scaled by the classifier confidence.
// Neutral or low-confidence feedback and an empty store are no-ops. Pinned
// memories are left alone.
func ApplyReward(db *store.DB, feedback string, p config.MemoryParams) (RewardReport, error) {
	polarity, confidence := DetectFeedback(feedback)
	rep := RewardReport{Polarity: polarity, Confidence: confidence}

	if polarity == PolarityNeutral || confidence < p.RewardFloor {
		return rep, nil
	}

	recent, err := db.RecentlyAccessed(p.RewardRecentN)
	if err != nil {
		return rep, err
	}

	delta := p.RewardMagnitude * confidence
	if polarity == PolarityNegative {
		delta = -delta
	}

	for i := range recent {
		m := &recent[i]
		if m.Pinned {
			continue
		}

		importance := clamp01(m.Importance + delta)
		working := m.WorkingStrength + delta
		if working < 0 {
			working = 0
		}

		if err := db.UpdateImportance(m.ID, importance); err != nil {
			return rep, err
		}
		if err := db.UpdateStrengths(m.ID, working, m.CoreStrength); err != nil {
			return rep, err
		}
		rep.Adjusted++
	}
	return rep, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
