package generator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bdougie/egogaze/internal/models"
)

// ErrUnparseableReply is returned when a reply lacks a question, options or
// a correct answer
var ErrUnparseableReply = errors.New("unparseable QA reply")

const (
	questionMarker = "### Question"
	optionsMarker  = "### Answer Options:"
	answerMarker   = "### Correct Answer:"
)

var questionKeywords = []string{"what", "where", "when", "why", "which", "how"}

var optionPrefixes = []string{"A:", "B:", "C:", "D:", "E:"}

// ParseReply extracts a QA item from a generation reply laid out as
//
//	### Question:
//	<question>
//	### Answer Options:
//	A: ...
//	### Correct Answer:
//	C: ...
//
// The question is the last line of its section containing a wh-word, and
// the correct answer is the option letter that starts the answer section.
func ParseReply(text string) (models.QAItem, error) {
	var item models.QAItem
	lines := strings.Split(text, "\n")
	inOptions := false

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		switch {
		case strings.HasPrefix(line, questionMarker):
			for _, next := range lines[i+1:] {
				next = strings.TrimSpace(next)
				if strings.HasPrefix(next, optionsMarker) {
					break
				}
				if containsKeyword(next) {
					item.Question = next
				}
			}

		case strings.HasPrefix(line, optionsMarker):
			inOptions = true

		case strings.HasPrefix(line, answerMarker):
			inOptions = false
			item.CorrectAnswer = answerLetter(strings.TrimPrefix(line, answerMarker), lines[i+1:])

		case inOptions && hasOptionPrefix(line):
			item.AnswerOptions = append(item.AnswerOptions, line)
		}
	}

	switch {
	case item.Question == "":
		return item, fmt.Errorf("%w: no question", ErrUnparseableReply)
	case len(item.AnswerOptions) == 0:
		return item, fmt.Errorf("%w: no answer options", ErrUnparseableReply)
	case item.CorrectAnswer == "":
		return item, fmt.Errorf("%w: no correct answer", ErrUnparseableReply)
	}
	return item, nil
}

func containsKeyword(line string) bool {
	lower := strings.ToLower(line)
	for _, k := range questionKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func hasOptionPrefix(line string) bool {
	for _, p := range optionPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// answerLetter takes the first character after the answer marker, either on
// the marker line or on the next non-empty line
func answerLetter(rest string, following []string) string {
	candidate := strings.TrimSpace(rest)
	for _, line := range following {
		if candidate != "" {
			break
		}
		candidate = strings.TrimSpace(line)
	}
	candidate = strings.TrimLeft(candidate, "*( ")
	if candidate == "" || !strings.ContainsRune("ABCDE", rune(candidate[0])) {
		return ""
	}
	return candidate[:1]
}
