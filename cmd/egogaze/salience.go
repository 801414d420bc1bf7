package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/colorstring"

	"github.com/bdougie/egogaze/internal/analyzer"
	"github.com/bdougie/egogaze/internal/extractor"
	"github.com/bdougie/egogaze/internal/gaze"
	"github.com/bdougie/egogaze/internal/models"
	"github.com/bdougie/egogaze/internal/overlay"
	"github.com/bdougie/egogaze/internal/salience"
	"github.com/bdougie/egogaze/internal/storage"
)

func runSalience(ctx context.Context, args []string) error {
	c := newCLI("salience")
	name := c.fs.String("dataset", "egtea", "dataset name")
	video := c.fs.String("video", "", "video id")
	frameList := c.fs.String("frames", "", "comma separated frame names of the group, oldest first")
	source := c.fs.String("source", "estimate", "gaze source: estimate or narration")
	out := c.fs.String("out", "", "PNG path (default <salience>/<dataset>/<video>/<group>.png)")
	blend := c.fs.String("overlay", "", "also write the map blended over the last frame to this JPEG")
	printBase64 := c.fs.Bool("base64", false, "print the map as base64 PNG text")
	similar := c.fs.Int("similar", 0, "list this many stored trajectories closest to the map")
	cfg, logger, err := c.parse(args)
	if err != nil {
		return err
	}

	if *video == "" || *frameList == "" {
		return errors.New("-video and -frames are required")
	}
	frames := strings.Split(*frameList, ",")
	for i := range frames {
		frames[i] = strings.TrimSpace(frames[i])
	}

	var infos []*models.GazeInfo
	switch *source {
	case "estimate":
		estimates, err := gaze.LoadEstimates(filepath.Join(cfg.Paths.GazeEstimate, *name), *video)
		if err != nil {
			return err
		}
		infos = estimates.Lookup(frames)
	case "narration":
		narrations, err := gaze.LoadNarrations(narrationsPath(cfg, *name))
		if err != nil {
			return err
		}
		if infos, err = narrations.Lookup(*video, frames); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown gaze source %q", *source)
	}

	fixations := gaze.Fixations(infos)
	if len(fixations) == 0 {
		logger.Warn("no gaze for any frame of the group, map will be empty")
	}

	videoDir := filepath.Join(cfg.Paths.Datasets, *name, *video)
	last := filepath.Join(videoDir, frames[len(frames)-1])
	dims, err := extractor.ImageDimensions(last)
	if err != nil {
		return err
	}

	if *printBase64 {
		encoded, err := salience.Render(dims, fixations, cfg.Salience)
		if err != nil {
			return err
		}
		fmt.Println(encoded)
	}

	m := salience.RenderImage(dims, fixations, cfg.Salience)
	pngPath := *out
	if pngPath == "" {
		pngPath = filepath.Join(cfg.Paths.Salience, *name, *video, analyzer.GroupKey(frames)+".png")
	}
	data, err := salience.EncodePNG(m)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(pngPath), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(pngPath, data, 0644); err != nil {
		return fmt.Errorf("failed to save salience map: %w", err)
	}
	logger.Info("salience map written", "file", pngPath, "fixations", len(fixations), "width", dims.Width, "height", dims.Height)

	if *blend != "" {
		frame, err := overlay.Open(last)
		if err != nil {
			return err
		}
		if err := overlay.WriteJPEG(*blend, overlay.Blend(frame, m, cfg.Salience.BlendAlpha)); err != nil {
			return err
		}
		logger.Info("overlay written", "file", *blend)
	}

	if *similar > 0 {
		if !cfg.Postgres.Enabled() {
			return errors.New("-similar needs a postgres configuration")
		}
		db, err := storage.OpenPostgres(ctx, cfg.Postgres, nil)
		if err != nil {
			return err
		}
		defer db.Close()

		matches, err := db.SearchSimilar(ctx, m, *similar)
		if err != nil {
			return err
		}
		for _, t := range matches {
			score := colorstring.Color(fmt.Sprintf("[green]%.4f", t.Similarity))
			fmt.Printf("%s %s/%s %s\n", score, t.VideoID, t.GroupKey, t.Question)
		}
	}
	return nil
}
