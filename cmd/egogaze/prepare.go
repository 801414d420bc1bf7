package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bdougie/egogaze/internal/clips"
	"github.com/bdougie/egogaze/internal/config"
	"github.com/bdougie/egogaze/internal/dataset"
	"github.com/bdougie/egogaze/internal/extractor"
	"github.com/bdougie/egogaze/internal/gaze"
	"github.com/bdougie/egogaze/internal/generator"
	"github.com/bdougie/egogaze/internal/models"
	"github.com/bdougie/egogaze/internal/progress"
	"github.com/bdougie/egogaze/internal/storage"
)

func runDataset(ctx context.Context, args []string) error {
	c := newCLI("dataset")
	n := c.fs.Int("workers", 0, "takes processed concurrently (default from config)")
	cfg, logger, err := c.parse(args)
	if err != nil {
		return err
	}

	takes, err := dataset.ReadAnnotations(cfg.Paths.Keysteps)
	if err != nil {
		return err
	}
	logger.Info("building dataset", "takes", len(takes), "output", cfg.Paths.Output)

	b := dataset.NewBuilder(extractor.New(logger), cfg.Paths.Takes, cfg.Paths.Output, workers(cfg, *n), logger)
	all, err := b.Build(ctx, takes)
	if err != nil {
		return err
	}
	logger.Info("dataset written", "takes", len(all), "file", filepath.Join(cfg.Paths.Output, dataset.AnnotationFile))
	return nil
}

func runGenerate(ctx context.Context, args []string) error {
	c := newCLI("generate")
	categoryName := c.fs.String("category", "", "question category: causal, spatial or temporal")
	name := c.fs.String("dataset", "egtea", "dataset name")
	video := c.fs.String("video", "", "video id (default every video of the dataset)")
	index := c.fs.Int("index", -1, "frame group to generate for (default every group)")
	cfg, logger, err := c.parse(args)
	if err != nil {
		return err
	}

	category, err := generator.ParseCategory(*categoryName)
	if err != nil {
		return err
	}
	if *index >= 0 && *video == "" {
		return errors.New("-index needs -video")
	}

	narrations, err := gaze.LoadNarrations(narrationsPath(cfg, *name))
	if err != nil {
		return err
	}
	client, release, err := newClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer release()

	frameDir := filepath.Join(cfg.Paths.Datasets, *name)
	gen := generator.New(client, narrations, category, generator.Options{
		FrameDir:  frameDir,
		OutDir:    filepath.Join(cfg.Paths.QAPairs, *name),
		GroupSize: cfg.Generation.GroupSize,
	}, logger)

	if *index >= 0 {
		item, err := gen.Generate(ctx, *video, *index)
		if err != nil {
			return err
		}
		fmt.Printf("%s\n%s\nCorrect answer: %s\n", item.Question, strings.Join(item.AnswerOptions, "\n"), item.CorrectAnswer)
		return nil
	}

	videos := []string{*video}
	if *video == "" {
		if videos, err = subdirs(frameDir); err != nil {
			return err
		}
	}

	total := 0
	for _, id := range videos {
		saved, err := gen.GenerateAll(ctx, id, progress.Stdout())
		total += saved
		if errors.Is(err, gaze.ErrVideoNotFound) {
			logger.Warn("no narrations for video, skipping", "video", id)
			continue
		}
		if err != nil {
			return err
		}
	}
	logger.Info("generation finished", "category", category, "videos", len(videos), "questions", total)
	return nil
}

func runClips(ctx context.Context, args []string) error {
	c := newCLI("clips")
	categoryName := c.fs.String("category", "temporal", "question category")
	name := c.fs.String("dataset", "egtea", "dataset name")
	qa := c.fs.String("qa", "", "QA csv file or directory (default from config)")
	fps := c.fs.Float64("fps", 0, "source video frame rate (default from config)")
	cfg, logger, err := c.parse(args)
	if err != nil {
		return err
	}

	items, err := loadQA(qaPath(cfg, *qa, *name, *categoryName))
	if err != nil {
		return err
	}

	takes := map[string]dataset.Take{}
	if _, err := os.Stat(cfg.Paths.Keysteps); err == nil {
		if takes, err = dataset.ReadAnnotations(cfg.Paths.Keysteps); err != nil {
			return err
		}
	}
	resolver := clips.NewResolver(takes, cfg.Paths.Takes, cfg.Paths.LongVideos)

	rate := cfg.Generation.FPS
	if *fps > 0 {
		rate = *fps
	}
	run := runName(*categoryName, *name)
	b := clips.NewBuilder(extractor.New(logger), resolver, filepath.Join(cfg.Paths.Clips, run), rate, logger)
	byVideo, err := b.Build(ctx, items)
	if err != nil {
		return err
	}

	out := clipsPath(cfg, run)
	if err := clips.Write(out, byVideo); err != nil {
		return err
	}
	logger.Info("clips written", "videos", len(byVideo), "questions", len(clips.QAItems(byVideo)), "file", out)
	return nil
}

func runName(category, dataset string) string {
	return category + "_" + dataset
}

func narrationsPath(cfg *config.Config, dataset string) string {
	return filepath.Join(cfg.Paths.Narrations, dataset+".json")
}

func clipsPath(cfg *config.Config, run string) string {
	return filepath.Join(cfg.Paths.Clips, run+".json")
}

// qaPath prefers an explicit path, then <qa_pairs>/<category>_<dataset>.csv,
// then the per-video tables written by generate
func qaPath(cfg *config.Config, explicit, dataset, category string) string {
	if explicit != "" {
		return explicit
	}
	merged := filepath.Join(cfg.Paths.QAPairs, runName(category, dataset)+".csv")
	if _, err := os.Stat(merged); err == nil {
		return merged
	}
	return filepath.Join(cfg.Paths.QAPairs, dataset, category, "csv")
}

// loadQA reads a QA csv, or every csv of a directory in name order
func loadQA(path string) ([]models.QAItem, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open QA pairs: %w", err)
	}
	if !info.IsDir() {
		return storage.ReadQAPairs(path)
	}

	files, err := filepath.Glob(filepath.Join(path, "*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	var items []models.QAItem
	for _, f := range files {
		batch, err := storage.ReadQAPairs(f)
		if err != nil {
			return nil, err
		}
		items = append(items, batch...)
	}
	return items, nil
}

func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos in '%s': %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
