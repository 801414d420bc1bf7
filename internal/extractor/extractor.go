package extractor

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for ImageDimensions
	_ "image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bdougie/egogaze/internal/salience"
)

// Extractor wraps the ffmpeg and ffprobe binaries
type Extractor struct {
	ffmpeg  string
	ffprobe string
	logger  *slog.Logger
}

// New returns an extractor using ffmpeg and ffprobe from PATH
func New(logger *slog.Logger) *Extractor {
	return &Extractor{ffmpeg: "ffmpeg", ffprobe: "ffprobe", logger: logger}
}

func (e *Extractor) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	e.logger.Debug("exec", "cmd", name+" "+strings.Join(args, " "))

	// Capture output for better error reporting
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s failed: %w\nOutput: %s", name, err, string(output))
	}
	return output, nil
}

func (e *Extractor) probe(ctx context.Context, videoPath, entry string) (string, error) {
	if _, err := os.Stat(videoPath); os.IsNotExist(err) {
		return "", fmt.Errorf("video file does not exist at path: '%s'", videoPath)
	}
	out, err := e.run(ctx, e.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream="+entry,
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// ProbeFPS returns the frame rate of the first video stream
func (e *Extractor) ProbeFPS(ctx context.Context, videoPath string) (float64, error) {
	rate, err := e.probe(ctx, videoPath, "r_frame_rate")
	if err != nil {
		return 0, err
	}
	return ParseRate(rate)
}

// ProbeFrameCount returns the number of frames of the first video stream
func (e *Extractor) ProbeFrameCount(ctx context.Context, videoPath string) (int, error) {
	count, err := e.probe(ctx, videoPath, "nb_frames")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(count)
	if err != nil {
		return 0, fmt.Errorf("unexpected frame count %q for '%s'", count, videoPath)
	}
	return n, nil
}

// ParseRate parses ffprobe rates such as "30000/1001" or "30"
func ParseRate(rate string) (float64, error) {
	num, den, found := strings.Cut(strings.TrimSpace(rate), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("bad frame rate %q: %w", rate, err)
	}
	if !found {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, fmt.Errorf("bad frame rate %q", rate)
	}
	return n / d, nil
}

// ExtractFrame writes frame frameNum of videoPath as a JPEG at outPath
func (e *Extractor) ExtractFrame(ctx context.Context, videoPath string, frameNum int, fps float64, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("failed to create frame directory '%s': %v", filepath.Dir(outPath), err)
	}
	_, err := e.run(ctx, e.ffmpeg,
		"-ss", formatSeconds(float64(frameNum)/fps),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		"-y",
		outPath,
	)
	return err
}

// CutClip copies the span between two frames of videoPath into outPath.
// Existing clips are left untouched.
func (e *Extractor) CutClip(ctx context.Context, videoPath string, startFrame, endFrame int, fps float64, outPath string) error {
	if _, err := os.Stat(outPath); err == nil {
		e.logger.Debug("clip exists, skipping", "clip", outPath)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("failed to create clip directory '%s': %v", filepath.Dir(outPath), err)
	}

	start := float64(startFrame) / fps
	duration := float64(endFrame)/fps - start
	_, err := e.run(ctx, e.ffmpeg,
		"-ss", formatSeconds(start),
		"-i", videoPath,
		"-t", formatSeconds(duration),
		"-c", "copy",
		"-y",
		outPath,
	)
	return err
}

// SampleIndices picks n evenly spaced frame indices out of total, or every
// frame when the video is shorter than n
func SampleIndices(total, n int) []int {
	if total < n {
		n = total
		indices := make([]int, n)
		for i := range indices {
			indices[i] = i
		}
		return indices
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i * total / n
	}
	return indices
}

// SampleFrames extracts n evenly spaced frames of a clip into outputDir and
// returns their paths in order
func (e *Extractor) SampleFrames(ctx context.Context, clipPath string, n int, outputDir string) ([]string, error) {
	total, err := e.ProbeFrameCount(ctx, clipPath)
	if err != nil {
		return nil, err
	}
	indices := SampleIndices(total, n)
	if len(indices) == 0 {
		return nil, fmt.Errorf("no frames in '%s'", clipPath)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory '%s': %v", outputDir, err)
	}

	terms := make([]string, len(indices))
	for i, idx := range indices {
		terms[i] = fmt.Sprintf("eq(n\\,%d)", idx)
	}
	_, err = e.run(ctx, e.ffmpeg,
		"-i", clipPath,
		"-vf", "select="+strings.Join(terms, "+"),
		"-vsync", "0",
		"-y",
		filepath.Join(outputDir, "frame_%04d.jpg"),
	)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(indices))
	for i := range indices {
		p := filepath.Join(outputDir, fmt.Sprintf("frame_%04d.jpg", i+1))
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// ImageDimensions decodes only the header of a JPEG or PNG file
func ImageDimensions(path string) (salience.Dimensions, error) {
	f, err := os.Open(path)
	if err != nil {
		return salience.Dimensions{}, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return salience.Dimensions{}, fmt.Errorf("failed to decode '%s': %w", path, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return salience.Dimensions{}, errors.New("image has no pixels: " + path)
	}
	return salience.Dimensions{Height: cfg.Height, Width: cfg.Width}, nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}
