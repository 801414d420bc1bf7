package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bdougie/egogaze/internal/models"
)

var qaHeader = []string{"video_id", "group_id", "Question", "Answer Options", "Correct Answer"}

// ReadQAPairs loads a benchmark CSV. group_id and Answer Options hold one
// entry per line.
func ReadQAPairs(path string) ([]models.QAItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, cols, err := readTable(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read QA pairs '%s': %w", path, err)
	}
	for _, required := range []string{"video_id", "group_id", "question"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("QA pairs '%s' have no %s column", path, required)
		}
	}

	items := make([]models.QAItem, 0, len(rows))
	for _, row := range rows {
		get := cellGetter(row, cols)
		items = append(items, models.QAItem{
			VideoID:       get("video_id"),
			GroupID:       splitLines(get("group_id")),
			Question:      get("question"),
			AnswerOptions: splitLines(get("answer_options")),
			CorrectAnswer: strings.TrimSpace(get("correct answer")),
		})
	}
	return items, nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// QAWriter appends QA items to a CSV, writing the header only when the file
// is new
type QAWriter struct {
	mu   sync.Mutex
	path string
}

// NewQAWriter creates a writer for path
func NewQAWriter(path string) *QAWriter {
	return &QAWriter{path: path}
}

// Append adds one row
func (w *QAWriter) Append(item models.QAItem) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for QA pairs: %v", err)
	}
	_, err := os.Stat(w.path)
	fileExists := err == nil

	file, err := os.OpenFile(w.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	cw := csv.NewWriter(file)
	if !fileExists {
		if err := cw.Write(qaHeader); err != nil {
			return err
		}
	}
	row := []string{
		item.VideoID,
		strings.Join(item.GroupID, "\n"),
		item.Question,
		strings.Join(item.AnswerOptions, "\n"),
		item.CorrectAnswer,
	}
	if err := cw.Write(row); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// AppendJSON appends entry to the JSON array stored at path
func AppendJSON[T any](path string, entry T) error {
	var existing []T
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("failed to unmarshal existing entries: %v", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("failed to read '%s': %v", path, err)
	}

	existing = append(existing, entry)
	return WriteJSON(path, existing)
}

// WriteJSON writes v as indented JSON, creating parent directories
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for '%s': %v", path, err)
	}
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
