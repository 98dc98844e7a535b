package sentiment

import (
	"sort"
	"strings"
)

// Label names one of the emotion classes the coaching model was trained on.
type Label string

const (
	Sadness  Label = "sadness"
	Joy      Label = "joy"
	Love     Label = "love"
	Anger    Label = "anger"
	Fear     Label = "fear"
	Surprise Label = "surprise"

	// Unknown is the defined fallback when nothing can be inferred.
	Unknown Label = "UNKNOWN"
)

// Result is one ranked classification entry.
type Result struct {
	Label Label
	Score float64
}

var keywordBuckets = map[Label][]string{
	Sadness: {
		"sad", "tired", "exhausted", "lonely", "alone", "cry", "crying", "miserable",
		"depressed", "down", "hopeless", "empty", "grief", "miss her", "miss him", "lost",
	},
	Joy: {
		"happy", "glad", "great", "wonderful", "good day", "enjoyed", "laughed", "proud",
		"grateful", "thankful", "pleased", "delighted", "fun", "lovely",
	},
	Love: {
		"love", "loved", "caring", "close to", "warm", "affection", "dear", "my wife",
		"my husband", "grandchildren", "together",
	},
	Anger: {
		"angry", "furious", "annoyed", "fed up", "hate", "unfair", "frustrated",
		"irritated", "mad", "sick of",
	},
	Fear: {
		"afraid", "scared", "worried", "anxious", "nervous", "panic", "dread",
		"frightened", "uneasy", "what if",
	},
	Surprise: {
		"surprised", "unexpected", "can't believe", "cannot believe", "shocked",
		"out of nowhere", "suddenly", "wow",
	},
}

var punctuationBoost = map[Label]int{
	Joy:      1,
	Surprise: 2,
}

// Analyze scores the text against every bucket and returns the matching
// labels ranked best first. Empty output means nothing matched; the caller
// decides what the fallback is.
func Analyze(text string) []Result {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return nil
	}

	points := make(map[Label]int)
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				points[label]++
			}
		}
	}

	if exclamations := strings.Count(text, "!"); exclamations > 0 {
		if _, ok := points[Surprise]; ok {
			points[Surprise] += exclamations * punctuationBoost[Surprise]
		}
		if _, ok := points[Joy]; ok {
			points[Joy] += exclamations * punctuationBoost[Joy]
		}
	}

	results := make([]Result, 0, len(points))
	for label, hits := range points {
		results = append(results, Result{Label: label, Score: confidence(hits)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Label < results[j].Label
	})
	return results
}

// confidence maps accumulated keyword hits into a (0,1) score that grows
// with evidence but never saturates.
func confidence(hits int) float64 {
	return float64(hits) / float64(hits+1)
}
