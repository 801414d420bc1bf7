package generator

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed prompts/*.txt
var prompts embed.FS

// Category is the kind of question a generation run asks for
type Category string

const (
	Causal   Category = "causal"
	Spatial  Category = "spatial"
	Temporal Category = "temporal"
)

var tasks = map[Category]string{
	Causal:   "Generate a causal reasoning, gaze-aware ego-centric video QA benchmark and give the correct answer.",
	Spatial:  "Generate a spatial localization, gaze-aware video QA benchmark and give the correct answer",
	Temporal: "Generate a contextual temporal, gaze-aware video QA benchmark and give the correct answer",
}

// ParseCategory validates a category name
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(s))
	if _, ok := tasks[c]; !ok {
		return "", fmt.Errorf("unknown question category %q (want causal, spatial or temporal)", s)
	}
	return c, nil
}

// SystemPrompt returns the instructions that describe the benchmark design
func (c Category) SystemPrompt() (string, error) {
	data, err := prompts.ReadFile("prompts/" + string(c) + ".txt")
	if err != nil {
		return "", fmt.Errorf("no system prompt for category %q: %w", c, err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// Instruction wraps the frame captions into the user turn
func (c Category) Instruction(captions []string) string {
	return fmt.Sprintf("Given inputs: %s\n%s", strings.Join(captions, "\n"), tasks[c])
}
