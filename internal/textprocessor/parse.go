package textprocessor

import (
	"encoding/json"
	"regexp"
	"strings"
)

type SentimentResult struct {
	Sentiment   string  `json:"sentiment"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation,omitempty"`
}

var (
	listMarker = regexp.MustCompile(`^\s*(?:[-*•]+|\d+[.)])\s*`)
	jsonObject = regexp.MustCompile(`(?s)\{.*\}`)
)

var sentimentLabels = []string{"positive", "negative", "neutral", "mixed"}

// parseSentiment reads the JSON object the model was asked for. Models
// sometimes wrap it in prose or code fences, so the first {...} block is
// used; failing that a bare label in the text is accepted with low
// confidence.
func parseSentiment(raw string) SentimentResult {
	var result SentimentResult
	if block := jsonObject.FindString(raw); block != "" {
		if err := json.Unmarshal([]byte(block), &result); err == nil && result.Sentiment != "" {
			result.Sentiment = strings.ToLower(strings.TrimSpace(result.Sentiment))
			result.Confidence = clamp(result.Confidence, 0, 1)
			return result
		}
	}

	lower := strings.ToLower(raw)
	for _, label := range sentimentLabels {
		if strings.Contains(lower, label) {
			return SentimentResult{Sentiment: label, Confidence: 0.5, Explanation: strings.TrimSpace(raw)}
		}
	}
	return SentimentResult{Sentiment: "neutral", Confidence: 0, Explanation: strings.TrimSpace(raw)}
}

// parseList splits raw into at most limit items, dropping list markers and
// blank lines. A non-positive limit keeps everything.
func parseList(raw string, limit int) []string {
	var items []string
	for _, line := range strings.Split(raw, "\n") {
		item := strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if item == "" {
			continue
		}
		items = append(items, item)
		if limit > 0 && len(items) == limit {
			break
		}
	}
	return items
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}
