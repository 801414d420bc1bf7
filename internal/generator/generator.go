// Package generator asks a vision-language model to write gaze-aware
// multiple-choice questions for groups of annotated keyframes.
package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bdougie/egogaze/internal/analyzer"
	"github.com/bdougie/egogaze/internal/gaze"
	"github.com/bdougie/egogaze/internal/models"
	"github.com/bdougie/egogaze/internal/overlay"
	"github.com/bdougie/egogaze/internal/progress"
	"github.com/bdougie/egogaze/internal/salience"
	"github.com/bdougie/egogaze/internal/storage"
)

// ErrNoGroup is returned for a group index past the last frame
var ErrNoGroup = errors.New("no such frame group")

const (
	markRadius    = 20
	markThickness = 2
)

// GroupFrames returns the index-th group of groupSize .jpg frames in dir,
// ordered by frame number. The last group may be short.
func GroupFrames(dir string, groupSize, index int) ([]string, error) {
	frames, err := listFrames(dir)
	if err != nil {
		return nil, err
	}
	start := index * groupSize
	if groupSize <= 0 || index < 0 || start >= len(frames) {
		return nil, fmt.Errorf("%w: %d of %d frames in groups of %d", ErrNoGroup, index, len(frames), groupSize)
	}
	return frames[start:min(start+groupSize, len(frames))], nil
}

// CountGroups is the number of groups GroupFrames can return for dir
func CountGroups(dir string, groupSize int) (int, error) {
	frames, err := listFrames(dir)
	if err != nil {
		return 0, err
	}
	return (len(frames) + groupSize - 1) / groupSize, nil
}

func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frames directory '%s': %v", dir, err)
	}

	type frame struct {
		name string
		num  int
	}
	var frames []frame
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jpg") {
			continue
		}
		num, err := gaze.FrameNumber(e.Name())
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame{e.Name(), num})
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].num < frames[j].num })

	names := make([]string, len(frames))
	for i, f := range frames {
		names[i] = f.name
	}
	return names, nil
}

// Captions pairs every frame of a group with its narration and gaze point.
// Frames without narration are left out.
func Captions(byFrame map[int]models.Narration, group []string, logger *slog.Logger) []string {
	var captions []string
	for j, name := range group {
		num, err := gaze.FrameNumber(name)
		if err != nil {
			logger.Warn("skipping frame", "frame", name, "error", err)
			continue
		}
		n, ok := byFrame[num]
		if !ok {
			logger.Warn("no narration data for frame, skipping", "frame", num)
			continue
		}
		var gx, gy float64
		if n.GazeInfo != nil {
			gx, gy = n.GazeInfo.GazeX, n.GazeInfo.GazeY
		}
		captions = append(captions, fmt.Sprintf("Frame %d: %s; Gaze:(%s,%s)", j+1, n.Text(), formatCoord(gx), formatCoord(gy)))
	}
	return captions
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Options locates generator inputs and outputs
type Options struct {
	// FrameDir holds <video_id>/<frame>.jpg
	FrameDir string
	// OutDir receives <category>/json/<video_id>.json and <category>/csv/<video_id>.csv
	OutDir    string
	GroupSize int
}

// Generator writes QA items of one category
type Generator struct {
	client     analyzer.Client
	narrations *gaze.NarrationStore
	category   Category
	opts       Options
	logger     *slog.Logger
}

func New(client analyzer.Client, narrations *gaze.NarrationStore, category Category, opts Options, logger *slog.Logger) *Generator {
	if opts.GroupSize <= 0 {
		opts.GroupSize = 9
	}
	return &Generator{
		client:     client,
		narrations: narrations,
		category:   category,
		opts:       opts,
		logger:     logger.With("category", string(category)),
	}
}

// LogPath is the JSON log of raw generations for a video
func (g *Generator) LogPath(videoID string) string {
	return filepath.Join(g.opts.OutDir, string(g.category), "json", videoID+".json")
}

// CSVPath is the QA table for a video
func (g *Generator) CSVPath(videoID string) string {
	return filepath.Join(g.opts.OutDir, string(g.category), "csv", videoID+".csv")
}

// MarkedDir receives gaze-marked copies of the spatial frames
func (g *Generator) MarkedDir(videoID string) string {
	return filepath.Join(g.opts.OutDir, string(g.category), "marked", videoID)
}

// Generate asks for one QA item about the index-th frame group of a video.
// The raw reply is always logged; the CSV row is only written when the reply
// parses.
func (g *Generator) Generate(ctx context.Context, videoID string, index int) (models.QAItem, error) {
	logger := g.logger.With("video", videoID, "group", index)

	byFrame, err := g.narrations.LatestByFrame(videoID)
	if err != nil {
		return models.QAItem{}, err
	}

	videoDir := filepath.Join(g.opts.FrameDir, videoID)
	group, err := GroupFrames(videoDir, g.opts.GroupSize, index)
	if err != nil {
		return models.QAItem{}, err
	}

	captions := Captions(byFrame, group, logger)
	system, err := g.category.SystemPrompt()
	if err != nil {
		return models.QAItem{}, err
	}

	req := analyzer.Request{System: system, Text: g.category.Instruction(captions)}
	for _, name := range group {
		img, err := analyzer.ImageFromFile(filepath.Join(videoDir, name))
		if err != nil {
			return models.QAItem{}, fmt.Errorf("failed to read frame: %w", err)
		}
		req.Images = append(req.Images, img)
	}

	logger.Info("generating question", "frames", len(group), "captions", len(captions))
	reply, err := g.client.Chat(ctx, req)
	if err != nil {
		return models.QAItem{}, fmt.Errorf("generation failed: %w", err)
	}

	entry := models.GenerationEntry{
		CurrentGroup:      index,
		GroupID:           group,
		Caption:           strings.Join(captions, "\n"),
		CompletionContent: reply,
	}
	if err := storage.AppendJSON(g.LogPath(videoID), entry); err != nil {
		return models.QAItem{}, fmt.Errorf("failed to log generation: %w", err)
	}

	item, err := ParseReply(reply)
	if err != nil {
		return models.QAItem{}, err
	}
	item.VideoID = videoID
	item.GroupID = group

	if err := storage.NewQAWriter(g.CSVPath(videoID)).Append(item); err != nil {
		return models.QAItem{}, fmt.Errorf("failed to save QA item: %w", err)
	}

	if g.category == Spatial {
		if err := g.markFrames(videoDir, g.MarkedDir(videoID), group, byFrame); err != nil {
			logger.Warn("failed to write marked frames", "error", err)
		}
	}

	logger.Debug("question saved", "question", item.Question, "answer", item.CorrectAnswer)
	return item, nil
}

// markFrames writes a copy of every group frame with a known gaze point and
// a ring around it
func (g *Generator) markFrames(videoDir, outDir string, group []string, byFrame map[int]models.Narration) error {
	for _, name := range group {
		num, err := gaze.FrameNumber(name)
		if err != nil {
			continue
		}
		n, ok := byFrame[num]
		if !ok || n.GazeInfo == nil {
			continue
		}
		frame, err := overlay.Open(filepath.Join(videoDir, name))
		if err != nil {
			return err
		}
		fix := salience.Fixation{X: n.GazeInfo.GazeX, Y: n.GazeInfo.GazeY}
		marked := overlay.MarkFixation(frame, fix, markRadius, markThickness, overlay.Red)
		if err := overlay.WriteJPEG(filepath.Join(outDir, name), marked); err != nil {
			return err
		}
	}
	return nil
}

// GenerateAll walks every frame group of a video. Unparseable replies are
// logged and skipped; any other error stops the run.
func (g *Generator) GenerateAll(ctx context.Context, videoID string, w io.Writer) (int, error) {
	groups, err := CountGroups(filepath.Join(g.opts.FrameDir, videoID), g.opts.GroupSize)
	if err != nil {
		return 0, err
	}

	bar := progress.New(w, groups, fmt.Sprintf("[cyan][%s][reset] %s", g.category, videoID))
	defer bar.Finish()

	saved := 0
	for index := 0; index < groups; index++ {
		if err := ctx.Err(); err != nil {
			return saved, err
		}
		_, err := g.Generate(ctx, videoID, index)
		_ = bar.Add(1)
		if errors.Is(err, ErrUnparseableReply) {
			g.logger.Warn("discarding reply", "video", videoID, "group", index, "error", err)
			continue
		}
		if err != nil {
			return saved, err
		}
		saved++
	}
	return saved, nil
}
