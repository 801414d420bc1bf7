package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bdougie/egogaze/internal/models"
)

const batchSize = 10 // Number of results to batch write

// Storage defines the interface for storing evaluation results
type Storage interface {
	// AddResult adds a single evaluation result
	AddResult(ctx context.Context, result models.EvalResult) error

	// Flush ensures all pending results are saved
	Flush() error
}

var resultHeader = []string{"video_id", "clip_name", "question", "answer_options", "model_answer", "reference_answer"}

// FileStorage batches results into a CSV file. The file is truncated on the
// first write of a run.
type FileStorage struct {
	results []models.EvalResult
	mu      sync.Mutex
	path    string
	created bool
}

// NewFileStorage creates a result writer for path
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{
		results: []models.EvalResult{},
		path:    path,
	}
}

// Path returns the CSV location
func (s *FileStorage) Path() string {
	return s.path
}

// AddResult adds a result to the batch and flushes if the batch is full
func (s *FileStorage) AddResult(ctx context.Context, result models.EvalResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)

	// Write to disk when batch is full
	if len(s.results) >= batchSize {
		if err := s.flush(); err != nil {
			return fmt.Errorf("failed to flush results: %w", err)
		}
	}
	return nil
}

// Flush writes all pending results to disk
func (s *FileStorage) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

// Internal flush implementation
func (s *FileStorage) flush() error {
	if len(s.results) == 0 && s.created {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for results: %v", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if !s.created {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	file, err := os.OpenFile(s.path, flags, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if !s.created {
		if err := w.Write(resultHeader); err != nil {
			return err
		}
	}
	for _, r := range s.results {
		row := []string{r.VideoID, r.ClipName, r.Question, r.AnswerOptions, r.ModelAnswer, r.ReferenceAnswer}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	s.created = true
	s.results = nil // Clear the batch
	return nil
}

// Tee sends every result to all stores
func Tee(stores ...Storage) Storage {
	return tee(stores)
}

type tee []Storage

func (t tee) AddResult(ctx context.Context, result models.EvalResult) error {
	var errs []error
	for _, s := range t {
		if err := s.AddResult(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t tee) Flush() error {
	var errs []error
	for _, s := range t {
		if err := s.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// columnAliases maps the header spellings found in older result files
var columnAliases = map[string]string{
	"video_id":              "video_id",
	"clip_name":             "clip_name",
	"question":              "question",
	"answer options":        "answer_options",
	"answer_options":        "answer_options",
	"model_answer":          "model_answer",
	"internvl_model_answer": "model_answer",
	"reference_answer":      "reference_answer",
}

// ReadResults loads a result CSV written by FileStorage or by earlier tools
func ReadResults(path string) ([]models.EvalResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, cols, err := readTable(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read results '%s': %w", path, err)
	}
	if _, ok := cols["model_answer"]; !ok {
		return nil, fmt.Errorf("results '%s' have no model_answer column", path)
	}

	results := make([]models.EvalResult, 0, len(rows))
	for _, row := range rows {
		get := cellGetter(row, cols)
		results = append(results, models.EvalResult{
			VideoID:         get("video_id"),
			ClipName:        get("clip_name"),
			Question:        get("question"),
			AnswerOptions:   get("answer_options"),
			ModelAnswer:     get("model_answer"),
			ReferenceAnswer: get("reference_answer"),
		})
	}
	return results, nil
}

func readTable(r io.Reader) ([][]string, map[string]int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, nil, err
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if alias, ok := columnAliases[key]; ok {
			key = alias
		}
		cols[key] = i
	}
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	return rows, cols, nil
}

func cellGetter(row []string, cols map[string]int) func(string) string {
	return func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}
}
