// Package clips cuts the span of every QA frame group out of its source
// video so questions can be asked about a continuous clip.
package clips

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/bdougie/egogaze/internal/analyzer"
	"github.com/bdougie/egogaze/internal/dataset"
	"github.com/bdougie/egogaze/internal/gaze"
	"github.com/bdougie/egogaze/internal/models"
	"github.com/bdougie/egogaze/internal/storage"
)

// DefaultFPS is the frame rate of the source videos
const DefaultFPS = 30

// Cutter copies a frame span of a video into a clip file
type Cutter interface {
	CutClip(ctx context.Context, videoPath string, startFrame, endFrame int, fps float64, outPath string) error
}

// Resolver finds the source video of a QA item. Videos that belong to a
// keystep take are looked up in the take directory, the rest are
// <LongVideoDir>/<video_id>.mp4.
type Resolver struct {
	TakeNames    map[string]string // take uid to take name
	TakesRoot    string
	LongVideoDir string
}

// NewResolver indexes the take names of keystep annotations
func NewResolver(takes map[string]dataset.Take, takesRoot, longVideoDir string) *Resolver {
	names := make(map[string]string, len(takes))
	for uid, take := range takes {
		names[uid] = take.TakeName
	}
	return &Resolver{TakeNames: names, TakesRoot: takesRoot, LongVideoDir: longVideoDir}
}

// Resolve returns the path of the source video
func (r *Resolver) Resolve(videoID string) (string, error) {
	if take, ok := r.TakeNames[videoID]; ok {
		return dataset.FindVideo(r.TakesRoot, take)
	}
	return filepath.Join(r.LongVideoDir, videoID+".mp4"), nil
}

// FrameSpan returns the sorted frame numbers of a group
func FrameSpan(group []string) ([]int, error) {
	if len(group) == 0 {
		return nil, fmt.Errorf("empty frame group")
	}
	frames := make([]int, len(group))
	for i, name := range group {
		n, err := gaze.FrameNumber(name)
		if err != nil {
			return nil, err
		}
		frames[i] = n
	}
	sort.Ints(frames)
	return frames, nil
}

// Builder cuts clips into <clipDir>/<video_id>/<start>_<end>.mp4
type Builder struct {
	cutter   Cutter
	resolver *Resolver
	clipDir  string
	fps      float64
	logger   *slog.Logger
}

func NewBuilder(cutter Cutter, resolver *Resolver, clipDir string, fps float64, logger *slog.Logger) *Builder {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Builder{cutter: cutter, resolver: resolver, clipDir: clipDir, fps: fps, logger: logger}
}

// Build cuts a clip for every item and returns the clip items grouped by
// video id. Items whose source video cannot be found or cut are skipped.
func (b *Builder) Build(ctx context.Context, items []models.QAItem) (map[string][]models.ClipItem, error) {
	byVideo := make(map[string][]models.ClipItem)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return byVideo, err
		}
		logger := b.logger.With("video", item.VideoID)

		frames, err := FrameSpan(item.GroupID)
		if err != nil {
			logger.Warn("skipping question", "error", err)
			continue
		}
		start, end := frames[0], frames[len(frames)-1]

		source, err := b.resolver.Resolve(item.VideoID)
		if err != nil {
			logger.Warn("source video not found, skipping", "error", err)
			continue
		}

		clipName := fmt.Sprintf("%d_%d.mp4", start, end)
		clipPath := analyzer.ClipPath(b.clipDir, item.VideoID, clipName)
		if err := os.MkdirAll(filepath.Dir(clipPath), 0755); err != nil {
			return byVideo, fmt.Errorf("failed to create clip directory: %v", err)
		}
		if err := b.cutter.CutClip(ctx, source, start, end, b.fps, clipPath); err != nil {
			logger.Error("failed to cut clip", "clip", clipName, "error", err)
			continue
		}

		frameNames := make([]string, len(frames))
		for i, f := range frames {
			frameNames[i] = fmt.Sprintf("%d.jpg", f)
		}
		byVideo[item.VideoID] = append(byVideo[item.VideoID], models.ClipItem{
			ClipName:      clipName,
			ClipPath:      clipPath,
			Frames:        frameNames,
			Question:      item.Question,
			AnswerOptions: item.AnswerOptions,
			CorrectAnswer: item.CorrectAnswer,
		})
	}
	return byVideo, nil
}

// Write saves clip items as JSON
func Write(path string, byVideo map[string][]models.ClipItem) error {
	return storage.WriteJSON(path, byVideo)
}

// Read loads clip items written by Write
func Read(path string) (map[string][]models.ClipItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var byVideo map[string][]models.ClipItem
	if err := json.Unmarshal(data, &byVideo); err != nil {
		return nil, fmt.Errorf("failed to decode clips '%s': %w", path, err)
	}
	return byVideo, nil
}

// QAItems flattens clip items back into questions for clip evaluation,
// ordered by video id
func QAItems(byVideo map[string][]models.ClipItem) []models.QAItem {
	videos := make([]string, 0, len(byVideo))
	for id := range byVideo {
		videos = append(videos, id)
	}
	sort.Strings(videos)

	var items []models.QAItem
	for _, id := range videos {
		for _, c := range byVideo[id] {
			items = append(items, models.QAItem{
				VideoID:       id,
				GroupID:       c.Frames,
				Question:      c.Question,
				AnswerOptions: c.AnswerOptions,
				CorrectAnswer: c.CorrectAnswer,
				ClipName:      c.ClipName,
			})
		}
	}
	return items
}
