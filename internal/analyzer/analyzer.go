package analyzer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bdougie/egogaze/internal/extractor"
	"github.com/bdougie/egogaze/internal/gaze"
	"github.com/bdougie/egogaze/internal/models"
	"github.com/bdougie/egogaze/internal/overlay"
	"github.com/bdougie/egogaze/internal/progress"
	"github.com/bdougie/egogaze/internal/salience"
	"github.com/bdougie/egogaze/internal/storage"
)

const (
	defaultWorkers = 4
	systemPrompt   = "You are a helpful assistant."
	apiFailPrefix  = "API fail: "

	markRadius    = 20
	markThickness = 3
)

// ErrSkipped marks a question whose inputs could not be prepared
var ErrSkipped = errors.New("question skipped")

// FrameSampler extracts evenly spaced frames from a clip
type FrameSampler interface {
	SampleFrames(ctx context.Context, clipPath string, n int, outputDir string) ([]string, error)
}

// SalienceSink receives every salience map rendered during evaluation
type SalienceSink interface {
	AddSalience(ctx context.Context, videoID, groupKey, question string, m *image.Gray) error
}

// Inputs locates the data each evaluation mode reads
type Inputs struct {
	// FrameDir holds <video_id>/<frame> images
	FrameDir string
	// Narrations supplies annotated gaze for gaze-text and mark
	Narrations *gaze.NarrationStore
	// EstimateDir holds <video_id>.csv estimated gaze for salience
	EstimateDir string
	// SalienceDir receives <video_id>/<group>.png when set
	SalienceDir string
	Params      salience.Params
	// ClipDir holds <video_id>/<clip_name> for clip mode
	ClipDir     string
	Sampler     FrameSampler
	SampleCount int
}

// Summary counts the outcome of an evaluation run
type Summary struct {
	Total    int
	Answered int
	Failed   int
	Skipped  int
	Correct  int
}

// Accuracy is the percentage of correct answers over the evaluated
// questions, failures included
func (s Summary) Accuracy() float64 {
	return percent(s.Correct, s.Answered+s.Failed)
}

// Option configures a Processor
type Option func(*Processor)

// WithWorkers sets the number of concurrent model calls
func WithWorkers(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithProgress draws a progress bar on w
func WithProgress(w io.Writer) Option {
	return func(p *Processor) { p.progress = w }
}

// WithSalienceSink forwards rendered salience maps to sink
func WithSalienceSink(sink SalienceSink) Option {
	return func(p *Processor) { p.sink = sink }
}

// Processor evaluates QA items against a model in one mode
type Processor struct {
	client   Client
	storage  storage.Storage
	logger   *slog.Logger
	mode     Mode
	inputs   Inputs
	workers  int
	progress io.Writer
	sink     SalienceSink
}

func NewProcessor(client Client, store storage.Storage, logger *slog.Logger, mode Mode, inputs Inputs, opts ...Option) *Processor {
	if inputs.SampleCount <= 0 {
		inputs.SampleCount = 8
	}
	p := &Processor{
		client:  client,
		storage: store,
		logger:  logger,
		mode:    mode,
		inputs:  inputs,
		workers: defaultWorkers,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type outcome struct {
	result  models.EvalResult
	failed  bool
	skipped bool
}

// Evaluate asks the model every question and stores the answers. API
// failures are stored as answers starting with "API fail: "; questions whose
// inputs are missing are skipped and only logged.
func (p *Processor) Evaluate(ctx context.Context, items []models.QAItem) (Summary, error) {
	summary := Summary{Total: len(items)}
	if len(items) == 0 {
		return summary, nil
	}

	workChan := make(chan models.WorkItem, len(items))
	resultsChan := make(chan outcome, len(items))
	done := make(chan struct{})

	var wg sync.WaitGroup
	var storeErrs []error

	remaining := atomic.Int64{}
	remaining.Store(int64(len(items)))
	bar := progress.New(p.progress, len(items), fmt.Sprintf("[cyan][%s][reset] Evaluating", p.mode))

	// Start worker pool
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for work := range workChan {
				resultsChan <- p.evaluate(ctx, work)
				left := remaining.Add(-1)
				p.logger.Debug("question done", "num", work.Num, "total", work.Total, "remaining", left)
			}
		}()
	}

	// Send work to workers
	go func() {
		defer close(workChan)
		for i, item := range items {
			select {
			case workChan <- models.WorkItem{Item: item, Num: i + 1, Total: len(items)}:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Collect results
	go func() {
		defer close(done)
		for out := range resultsChan {
			_ = bar.Add(1)
			switch {
			case out.skipped:
				summary.Skipped++
				continue
			case out.failed:
				summary.Failed++
			default:
				summary.Answered++
				if IsCorrect(out.result) {
					summary.Correct++
				}
			}
			if err := p.storage.AddResult(ctx, out.result); err != nil {
				storeErrs = append(storeErrs, err)
			}
		}
	}()

	// Wait for all workers to finish
	wg.Wait()
	close(resultsChan)
	<-done
	_ = bar.Finish()

	// Flush any remaining results
	if err := p.storage.Flush(); err != nil {
		storeErrs = append(storeErrs, fmt.Errorf("failed to flush final results: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if len(storeErrs) > 0 {
		return summary, fmt.Errorf("encountered errors storing results: %w", errors.Join(storeErrs...))
	}
	return summary, nil
}

func (p *Processor) evaluate(ctx context.Context, work models.WorkItem) outcome {
	item := work.Item
	result := models.EvalResult{
		VideoID:         item.VideoID,
		ClipName:        item.ClipName,
		Question:        item.Question,
		AnswerOptions:   strings.Join(item.AnswerOptions, "\n"),
		ReferenceAnswer: item.CorrectAnswer,
	}
	logger := p.logger.With("video", item.VideoID, "num", work.Num, "total", work.Total)

	req, err := p.buildRequest(ctx, item)
	if err != nil {
		logger.Warn("skipping question", "error", err)
		return outcome{result: result, skipped: true}
	}

	answer, err := p.client.Chat(ctx, req)
	if err != nil {
		logger.Error("model call failed", "error", err)
		result.ModelAnswer = apiFailPrefix + err.Error()
		return outcome{result: result, failed: true}
	}

	result.ModelAnswer = strings.TrimSpace(answer)
	logger.Debug("model answered", "answer", result.ModelAnswer, "reference", item.CorrectAnswer)
	return outcome{result: result}
}

func (p *Processor) framePaths(item models.QAItem) []string {
	paths := make([]string, len(item.GroupID))
	for i, frame := range item.GroupID {
		paths[i] = filepath.Join(p.inputs.FrameDir, item.VideoID, frame)
	}
	return paths
}

func (p *Processor) buildRequest(ctx context.Context, item models.QAItem) (Request, error) {
	req := Request{System: systemPrompt}

	switch p.mode {
	case ModeMultiFrame:
		images, err := loadImages(p.framePaths(item))
		if err != nil {
			return req, err
		}
		req.Images = images
		req.Text = Prompt(p.mode, item, nil)

	case ModeClip:
		images, err := p.clipImages(ctx, item)
		if err != nil {
			return req, err
		}
		req.Images = images
		req.Text = Prompt(p.mode, item, nil)

	case ModeGazeText:
		infos, err := p.annotatedGaze(item)
		if err != nil {
			return req, err
		}
		images, err := loadImages(p.framePaths(item))
		if err != nil {
			return req, err
		}
		req.Images = images
		req.Text = Prompt(p.mode, item, infos)

	case ModeMark:
		images, err := p.markedImages(item)
		if err != nil {
			return req, err
		}
		req.Images = images
		req.Text = Prompt(p.mode, item, nil)

	case ModeSalience:
		salImg, err := p.salienceImage(ctx, item)
		if err != nil {
			return req, err
		}
		images, err := loadImages(p.framePaths(item))
		if err != nil {
			return req, err
		}
		req.Images = append([]Image{salImg}, images...)
		req.Text = Prompt(p.mode, item, nil)

	default:
		return req, fmt.Errorf("unknown evaluation mode %q", p.mode)
	}
	return req, nil
}

func loadImages(paths []string) ([]Image, error) {
	images := make([]Image, 0, len(paths))
	for _, path := range paths {
		img, err := ImageFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSkipped, err)
		}
		images = append(images, img)
	}
	return images, nil
}

func (p *Processor) annotatedGaze(item models.QAItem) ([]*models.GazeInfo, error) {
	if p.inputs.Narrations == nil {
		return nil, fmt.Errorf("%w: no narrations loaded", ErrSkipped)
	}
	infos, err := p.inputs.Narrations.Lookup(item.VideoID, item.GroupID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSkipped, err)
	}
	return infos, nil
}

func (p *Processor) markedImages(item models.QAItem) ([]Image, error) {
	infos, err := p.annotatedGaze(item)
	if err != nil {
		return nil, err
	}

	paths := p.framePaths(item)
	images := make([]Image, 0, len(paths))
	for i, path := range paths {
		if infos[i] == nil {
			img, err := ImageFromFile(path)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrSkipped, err)
			}
			images = append(images, img)
			continue
		}

		frame, err := overlay.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSkipped, err)
		}
		fix := salience.Fixation{X: infos[i].GazeX, Y: infos[i].GazeY}
		data, err := overlay.EncodeJPEG(overlay.MarkFixation(frame, fix, markRadius, markThickness, overlay.Red))
		if err != nil {
			return nil, err
		}
		images = append(images, Image{MIMEType: "image/jpeg", Data: data})
	}
	return images, nil
}

func (p *Processor) clipImages(ctx context.Context, item models.QAItem) ([]Image, error) {
	if p.inputs.Sampler == nil {
		return nil, fmt.Errorf("%w: no frame sampler configured", ErrSkipped)
	}
	clipPath := ClipPath(p.inputs.ClipDir, item.VideoID, item.ClipName)
	if _, err := os.Stat(clipPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSkipped, err)
	}

	outDir := filepath.Join(p.inputs.ClipDir, item.VideoID, "frames", strings.TrimSuffix(item.ClipName, filepath.Ext(item.ClipName)))
	paths, err := p.inputs.Sampler.SampleFrames(ctx, clipPath, p.inputs.SampleCount, outDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSkipped, err)
	}
	return loadImages(paths)
}

// ClipPath is the location of a cut clip
func ClipPath(clipDir, videoID, clipName string) string {
	return filepath.Join(clipDir, videoID, clipName)
}

// GroupKey names a frame group by its first and last frame
func GroupKey(frames []string) string {
	if len(frames) == 0 {
		return ""
	}
	stem := func(name string) string {
		return strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	}
	first, last := stem(frames[0]), stem(frames[len(frames)-1])
	if first == last {
		return first
	}
	return first + "-" + last
}

// salienceImage renders the group's estimated gaze trajectory at the size of
// the last frame
func (p *Processor) salienceImage(ctx context.Context, item models.QAItem) (Image, error) {
	if len(item.GroupID) == 0 {
		return Image{}, fmt.Errorf("%w: empty frame group", ErrSkipped)
	}
	estimates, err := gaze.LoadEstimates(p.inputs.EstimateDir, item.VideoID)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrSkipped, err)
	}
	fixations := gaze.Fixations(estimates.Lookup(item.GroupID))

	paths := p.framePaths(item)
	dims, err := extractor.ImageDimensions(paths[len(paths)-1])
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrSkipped, err)
	}

	gray := salience.RenderImage(dims, fixations, p.inputs.Params)
	data, err := salience.EncodePNG(gray)
	if err != nil {
		return Image{}, fmt.Errorf("failed to encode salience map: %w", err)
	}

	key := GroupKey(item.GroupID)
	if p.inputs.SalienceDir != "" {
		path := filepath.Join(p.inputs.SalienceDir, item.VideoID, key+".png")
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return Image{}, fmt.Errorf("failed to create salience directory: %v", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return Image{}, fmt.Errorf("failed to save salience map: %v", err)
		}
	}
	if p.sink != nil {
		if err := p.sink.AddSalience(ctx, item.VideoID, key, item.Question, gray); err != nil {
			p.logger.Warn("failed to record salience map", "video", item.VideoID, "group", key, "error", err)
		}
	}

	return Image{MIMEType: "image/png", Data: data}, nil
}
