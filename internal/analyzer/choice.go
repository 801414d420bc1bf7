package analyzer

import (
	"math"
	"regexp"
	"strings"

	"github.com/bdougie/egogaze/internal/models"
)

var (
	leadingChoice = regexp.MustCompile(`^[\s"'*(\[]*([A-E])(?:\s*$|[:.)\]"'*,]|\s+[-:(])`)
	statedChoice  = regexp.MustCompile(`(?i)(?:answer|option)\s*(?:is)?\s*[:：]?\s*\(?([A-E])\b`)
)

// ExtractChoice returns the option letter a reply commits to, or "" when it
// names none. "C", "C: the cup", "(C)" and "The answer is C." all yield "C".
func ExtractChoice(reply string) string {
	reply = strings.TrimSpace(reply)
	if m := leadingChoice.FindStringSubmatch(reply); m != nil {
		return strings.ToUpper(m[1])
	}
	if m := statedChoice.FindStringSubmatch(reply); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

// IsCorrect compares the model's choice with the reference answer
func IsCorrect(r models.EvalResult) bool {
	got := ExtractChoice(r.ModelAnswer)
	return got != "" && got == ExtractChoice(r.ReferenceAnswer)
}

// Accuracy is the percentage of correct answers rounded to two decimals, 0
// for no results
func Accuracy(results []models.EvalResult) float64 {
	if len(results) == 0 {
		return 0
	}
	correct := 0
	for _, r := range results {
		if IsCorrect(r) {
			correct++
		}
	}
	return percent(correct, len(results))
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*100*100) / 100
}
