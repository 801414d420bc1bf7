// Package gaze loads per-frame gaze annotations and turns them into fixation
// sequences for salience rendering.
package gaze

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bdougie/egogaze/internal/models"
	"github.com/bdougie/egogaze/internal/salience"
)

var (
	// ErrVideoNotFound is returned when a store has no entry for a video
	ErrVideoNotFound = errors.New("video not found in gaze store")
	// ErrFrameName is returned for frame file names without a frame number
	ErrFrameName = errors.New("frame name has no frame number")
)

// videoNarrations accepts both annotation layouts seen in the datasets:
// {"narrations": [...]} and {"narration_pass_1": {"narrations": [...]}}.
type videoNarrations struct {
	Narrations []models.Narration `json:"narrations"`
	Pass1      *struct {
		Narrations []models.Narration `json:"narrations"`
	} `json:"narration_pass_1"`
}

func (v videoNarrations) all() []models.Narration {
	if len(v.Narrations) == 0 && v.Pass1 != nil {
		return v.Pass1.Narrations
	}
	return v.Narrations
}

// NarrationStore holds ground-truth narrations keyed by video id
type NarrationStore struct {
	videos map[string][]models.Narration
}

// LoadNarrations reads a narration JSON file
func LoadNarrations(path string) (*NarrationStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open narrations '%s': %w", path, err)
	}
	defer f.Close()
	return ReadNarrations(f)
}

// ReadNarrations decodes narration JSON from r
func ReadNarrations(r io.Reader) (*NarrationStore, error) {
	var raw map[string]videoNarrations
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode narrations: %w", err)
	}

	store := &NarrationStore{videos: make(map[string][]models.Narration, len(raw))}
	for id, v := range raw {
		store.videos[id] = v.all()
	}
	return store, nil
}

// Narrations returns all narrations of a video
func (s *NarrationStore) Narrations(videoID string) ([]models.Narration, error) {
	n, ok := s.videos[videoID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVideoNotFound, videoID)
	}
	return n, nil
}

// ByFrame indexes a video's narrations by frame number
func (s *NarrationStore) ByFrame(videoID string) (map[int]models.Narration, error) {
	narrations, err := s.Narrations(videoID)
	if err != nil {
		return nil, err
	}
	byFrame := make(map[int]models.Narration, len(narrations))
	for _, n := range narrations {
		// first narration for a frame wins
		if _, seen := byFrame[n.TimestampFrame]; !seen {
			byFrame[n.TimestampFrame] = n
		}
	}
	return byFrame, nil
}

// LatestByFrame indexes a video's narrations by frame number, a later
// narration replacing an earlier one on the same frame. Question generation
// captions frames from this index.
func (s *NarrationStore) LatestByFrame(videoID string) (map[int]models.Narration, error) {
	narrations, err := s.Narrations(videoID)
	if err != nil {
		return nil, err
	}
	byFrame := make(map[int]models.Narration, len(narrations))
	for _, n := range narrations {
		byFrame[n.TimestampFrame] = n
	}
	return byFrame, nil
}

// Lookup returns one gaze entry per frame name, nil where the frame has no
// narration or no gaze
func (s *NarrationStore) Lookup(videoID string, frames []string) ([]*models.GazeInfo, error) {
	byFrame, err := s.ByFrame(videoID)
	if err != nil {
		return nil, err
	}

	infos := make([]*models.GazeInfo, len(frames))
	for i, name := range frames {
		num, err := FrameNumber(name)
		if err != nil {
			return nil, err
		}
		if n, ok := byFrame[num]; ok {
			infos[i] = n.GazeInfo
		}
	}
	return infos, nil
}

// EstimateStore holds model-estimated gaze for one video, keyed by frame name
type EstimateStore struct {
	frames map[string]models.GazeInfo
}

// LoadEstimates reads <dir>/<videoID>.csv with columns frame and gaze, where
// gaze is formatted "(x,y)"
func LoadEstimates(dir, videoID string) (*EstimateStore, error) {
	path := filepath.Join(dir, videoID+".csv")
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrVideoNotFound, path)
	} else if err != nil {
		return nil, fmt.Errorf("failed to open gaze estimates '%s': %w", path, err)
	}
	defer f.Close()
	return ReadEstimates(f)
}

// ReadEstimates decodes estimated-gaze CSV from r
func ReadEstimates(r io.Reader) (*EstimateStore, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read gaze estimate header: %w", err)
	}
	frameCol, gazeCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case "frame":
			frameCol = i
		case "gaze":
			gazeCol = i
		}
	}
	if frameCol < 0 || gazeCol < 0 {
		return nil, fmt.Errorf("gaze estimate header %v lacks frame/gaze columns", header)
	}

	store := &EstimateStore{frames: make(map[string]models.GazeInfo)}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read gaze estimate row: %w", err)
		}
		info, err := ParsePoint(row[gazeCol])
		if err != nil {
			return nil, fmt.Errorf("frame %s: %w", row[frameCol], err)
		}
		store.frames[row[frameCol]] = info
	}
	return store, nil
}

// Lookup returns one gaze entry per frame name, nil where the frame is missing
func (s *EstimateStore) Lookup(frames []string) []*models.GazeInfo {
	infos := make([]*models.GazeInfo, len(frames))
	for i, name := range frames {
		if info, ok := s.frames[strings.TrimSpace(name)]; ok {
			infos[i] = &info
		}
	}
	return infos
}

// ParsePoint parses "(x,y)" or "x,y"
func ParsePoint(s string) (models.GazeInfo, error) {
	parts := strings.Split(strings.Trim(strings.TrimSpace(s), "()"), ",")
	if len(parts) != 2 {
		return models.GazeInfo{}, fmt.Errorf("bad gaze point %q", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return models.GazeInfo{}, fmt.Errorf("bad gaze x in %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return models.GazeInfo{}, fmt.Errorf("bad gaze y in %q: %w", s, err)
	}
	return models.GazeInfo{GazeX: x, GazeY: y}, nil
}

// FrameNumber extracts the frame number from names like "123.jpg",
// "take/123.jpg" or "P01_R01_123.jpg"
func FrameNumber(name string) (int, error) {
	base := filepath.Base(strings.TrimSpace(name))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if i := strings.LastIndex(stem, "_"); i >= 0 {
		stem = stem[i+1:]
	}
	n, err := strconv.Atoi(stem)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrFrameName, name)
	}
	return n, nil
}

// Fixations converts gaze entries into a fixation sequence, dropping frames
// without gaze while keeping the order of the rest
func Fixations(infos []*models.GazeInfo) []salience.Fixation {
	fixations := make([]salience.Fixation, 0, len(infos))
	for _, info := range infos {
		if info == nil {
			continue
		}
		fixations = append(fixations, salience.Fixation{X: info.GazeX, Y: info.GazeY})
	}
	return fixations
}
