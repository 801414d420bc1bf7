// Package dataset builds keystep keyframe annotations with normalized gaze
// from raw takes.
package dataset

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bdougie/egogaze/internal/extractor"
	"github.com/bdougie/egogaze/internal/gaze"
	"github.com/bdougie/egogaze/internal/models"
	"github.com/bdougie/egogaze/internal/storage"
)

const (
	// AnnotationFile is written per take and for the whole run
	AnnotationFile = "procedure_understanding.json"

	videoPattern = "*214-1.mp4"
	gazeFile     = "general_eye_gaze_2d.csv"
	// gaze is sampled at 10fps against 30fps video
	gazeAlignFactor = 3
)

// ErrTakeMissing is returned when a take has no video or gaze recording
var ErrTakeMissing = errors.New("take video or gaze missing")

// Segment is one keystep of a take
type Segment struct {
	StartTime       float64 `json:"start_time"`
	EndTime         float64 `json:"end_time"`
	StepDescription string  `json:"step_description"`
}

// Take is the keystep annotation of one recording
type Take struct {
	TakeName string    `json:"take_name"`
	Scenario string    `json:"scenario"`
	Segments []Segment `json:"segments"`
}

// ReadAnnotations loads the keystep file, keyed by take uid
func ReadAnnotations(path string) (map[string]Take, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read annotations '%s': %w", path, err)
	}
	var file struct {
		Annotations map[string]Take `json:"annotations"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode annotations '%s': %w", path, err)
	}
	return file.Annotations, nil
}

// FindVideo returns the frame-aligned ego video of a take
func FindVideo(takesRoot, takeName string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(takesRoot, takeName, "frame_aligned_videos", videoPattern))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: no %s video for %s", ErrTakeMissing, videoPattern, takeName)
	}
	return matches[0], nil
}

// LocateTake finds the ego video and 2D gaze recording of a take
func LocateTake(takesRoot, takeName string) (videoPath, gazePath string, err error) {
	videoPath, err = FindVideo(takesRoot, takeName)
	if err != nil {
		return "", "", err
	}
	gazePath = filepath.Join(takesRoot, takeName, "eye_gaze", gazeFile)
	if _, err := os.Stat(gazePath); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrTakeMissing, err)
	}
	return videoPath, gazePath, nil
}

// Track is a gaze recording in pixels, aligned to video frames. Missing
// samples are NaN.
type Track struct {
	X []float64
	Y []float64
}

// Len is the number of video frames covered
func (t Track) Len() int {
	return len(t.X)
}

// ReadTrack reads the x and y columns of a gaze CSV and aligns them to the
// video frame rate
func ReadTrack(r io.Reader) (Track, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return Track{}, fmt.Errorf("failed to read gaze header: %w", err)
	}
	xCol, yCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case "x":
			xCol = i
		case "y":
			yCol = i
		}
	}
	if xCol < 0 || yCol < 0 {
		return Track{}, fmt.Errorf("gaze header %v lacks x/y columns", header)
	}

	var xs, ys []float64
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Track{}, fmt.Errorf("failed to read gaze row: %w", err)
		}
		xs = append(xs, parseSample(row, xCol))
		ys = append(ys, parseSample(row, yCol))
	}
	return Track{
		X: gaze.AlignFrameRate(xs, gazeAlignFactor),
		Y: gaze.AlignFrameRate(ys, gazeAlignFactor),
	}, nil
}

func parseSample(row []string, col int) float64 {
	if col >= len(row) {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(row[col]), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// FrameAt is the first frame at or after t seconds
func FrameAt(t, fps float64) int {
	return int(math.Ceil(t * fps))
}

// FrameExtractor is the part of the extractor the builder needs
type FrameExtractor interface {
	ProbeFPS(ctx context.Context, videoPath string) (float64, error)
	ExtractFrame(ctx context.Context, videoPath string, frameNum int, fps float64, outPath string) error
}

// Builder extracts the keyframe of every keystep together with its gaze
type Builder struct {
	extractor FrameExtractor
	takesRoot string
	outRoot   string
	workers   int
	logger    *slog.Logger
}

func NewBuilder(ext FrameExtractor, takesRoot, outRoot string, workers int, logger *slog.Logger) *Builder {
	if workers <= 0 {
		workers = 1
	}
	return &Builder{
		extractor: ext,
		takesRoot: takesRoot,
		outRoot:   outRoot,
		workers:   workers,
		logger:    logger,
	}
}

// BuildTake extracts the keyframes of one take into <out>/<uid>/ and writes
// its annotation file. Segments past the end of the gaze track, without a
// gaze sample or whose frame cannot be extracted are left out.
func (b *Builder) BuildTake(ctx context.Context, uid string, take Take) (models.TakeAnnotation, error) {
	annotation := models.TakeAnnotation{TakeName: take.TakeName, Scenario: take.Scenario}
	logger := b.logger.With("take", take.TakeName, "uid", uid)

	videoPath, gazePath, err := LocateTake(b.takesRoot, take.TakeName)
	if err != nil {
		return annotation, err
	}

	f, err := os.Open(gazePath)
	if err != nil {
		return annotation, fmt.Errorf("%w: %v", ErrTakeMissing, err)
	}
	track, err := ReadTrack(f)
	f.Close()
	if err != nil {
		return annotation, fmt.Errorf("take %s: %w", take.TakeName, err)
	}

	fps, err := b.extractor.ProbeFPS(ctx, videoPath)
	if err != nil {
		return annotation, fmt.Errorf("take %s: %w", take.TakeName, err)
	}

	uidDir := filepath.Join(b.outRoot, uid)
	annotation.Narrations = []models.Narration{}
	for _, seg := range take.Segments {
		frameNum := FrameAt(seg.EndTime, fps)
		if frameNum >= track.Len() {
			continue
		}
		x, y := track.X[frameNum], track.Y[frameNum]
		if math.IsNaN(x) || math.IsNaN(y) {
			logger.Warn("no gaze sample for keystep", "frame", frameNum)
			continue
		}

		name := fmt.Sprintf("%d.jpg", frameNum)
		framePath := filepath.Join(uidDir, name)
		if err := b.extractor.ExtractFrame(ctx, videoPath, frameNum, fps, framePath); err != nil {
			if ctx.Err() != nil {
				return annotation, ctx.Err()
			}
			logger.Warn("failed to extract keyframe", "frame", frameNum, "error", err)
			continue
		}
		dims, err := extractor.ImageDimensions(framePath)
		if err != nil {
			logger.Warn("unreadable keyframe", "frame", frameNum, "error", err)
			continue
		}

		info := gaze.Normalize(x, y, dims.Width, dims.Height)
		annotation.Narrations = append(annotation.Narrations, models.Narration{
			TimestampSec:   seg.EndTime,
			TimestampFrame: frameNum,
			Description:    seg.StepDescription,
			GazeInfo:       &info,
			ImagePath:      filepath.Join(uid, name),
		})
	}

	if err := storage.WriteJSON(filepath.Join(uidDir, AnnotationFile), annotation); err != nil {
		return annotation, err
	}
	logger.Info("take processed", "keyframes", len(annotation.Narrations), "segments", len(take.Segments))
	return annotation, nil
}

// Build processes every take concurrently and writes the combined
// annotation file. Takes that fail are logged and left out; only
// cancellation stops the run.
func (b *Builder) Build(ctx context.Context, takes map[string]Take) (map[string]models.TakeAnnotation, error) {
	var (
		mu  sync.Mutex
		all = make(map[string]models.TakeAnnotation, len(takes))
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for uid, take := range takes {
		g.Go(func() error {
			annotation, err := b.BuildTake(ctx, uid, take)
			switch {
			case errors.Is(err, ErrTakeMissing):
				b.logger.Warn("video or gaze data not found, skipping", "take", take.TakeName, "error", err)
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			case err != nil:
				b.logger.Error("failed to process take, skipping", "take", take.TakeName, "error", err)
				return nil
			}
			mu.Lock()
			all[uid] = annotation
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return all, err
	}

	if err := storage.WriteJSON(filepath.Join(b.outRoot, AnnotationFile), all); err != nil {
		return all, err
	}
	return all, nil
}
