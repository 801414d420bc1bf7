package analyzer

import (
	"fmt"
	"strings"

	"github.com/bdougie/egogaze/internal/models"
)

// Mode selects how gaze reaches the model during evaluation
type Mode string

const (
	// ModeMultiFrame sends only the frames
	ModeMultiFrame Mode = "multiframe"
	// ModeClip samples frames from a cut clip
	ModeClip Mode = "clip"
	// ModeGazeText lists the normalized gaze point of every frame in the prompt
	ModeGazeText Mode = "gaze-text"
	// ModeMark sends frames with the gaze point drawn on them
	ModeMark Mode = "mark"
	// ModeSalience prepends a salience map of the gaze trajectory as Frame 0
	ModeSalience Mode = "salience"
)

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeMultiFrame, ModeClip, ModeGazeText, ModeMark, ModeSalience:
		return m, nil
	}
	return "", fmt.Errorf("unknown evaluation mode %q", s)
}

const answerInstruction = "Choose the most appropriate option. Only return the letter of the correct option."

func questionBlock(q models.QAItem) string {
	return fmt.Sprintf("Question:\n%s\nOptions:\n%s\n", q.Question, strings.Join(q.AnswerOptions, "\n"))
}

// Prompt renders the evaluation prompt for a question. gaze is only used by
// ModeGazeText and may be nil otherwise.
func Prompt(mode Mode, q models.QAItem, gaze []*models.GazeInfo) string {
	switch mode {
	case ModeGazeText:
		var b strings.Builder
		b.WriteString("Gaze information for the relevant frames:\n")
		for i, g := range gaze {
			if g == nil {
				fmt.Fprintf(&b, "Frame %d: Gaze(N/A, N/A)\n", i+1)
				continue
			}
			fmt.Fprintf(&b, "Frame %d: Gaze(%g, %g)\n", i+1, g.GazeX, g.GazeY)
		}
		b.WriteString("I provide you with a video and the normalized gaze coordinates for each corresponding frame. " +
			"You need to follow these steps to answer the questions:\n" +
			"1. Observe the position of the annotated gaze points in each frame. The coordinate is from left to right for the x-axis and from top to bottom for the y-axis.\n" +
			"2. Analyze the video while considering the gaze point information and then answer the questions.\n" +
			"3. ")
		b.WriteString(questionBlock(q))
		b.WriteString(answerInstruction)
		return b.String()

	case ModeMark:
		return "I provide you with a video that contains gaze information. For each frame, the gaze point will be marked on the image with a red circle.\n" +
			"Choose the correct option based on the first-person perspective scene question. You must follow these steps to answer the question:\n" +
			"1. Focus on the objects marked by each red circle.\n" +
			"2. Observe the video in chronological order according to the gaze sequence in step 1.\n" +
			"3. " + questionBlock(q) + answerInstruction

	case ModeSalience:
		return "I provide you with a Picture{Frame 0} and a video{Frame 1-9}. Choose the correct option based on the first-person perspective scene question.\n" +
			"You must follow these steps to answer the question:\n" +
			"1. {Frame 0} is the saliency grayscale map of the gaze trajectory from the first-person perspective, with gaze sequence from low brightness to high brightness.\n" +
			"2. Remember the location and time sequence of gaze areas in {Frame 0}.\n" +
			"3. Observe the video according to the gaze sequence in step 2.\n" +
			"4. " + questionBlock(q) + answerInstruction
	}

	return "I provide you with a video. Choose the correct option based on the first-person perspective scene question.\n" +
		questionBlock(q) + answerInstruction
}
