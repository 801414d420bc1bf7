package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/colorstring"

	"github.com/bdougie/egogaze/internal/analyzer"
	"github.com/bdougie/egogaze/internal/clips"
	"github.com/bdougie/egogaze/internal/embeddings"
	"github.com/bdougie/egogaze/internal/extractor"
	"github.com/bdougie/egogaze/internal/gaze"
	"github.com/bdougie/egogaze/internal/models"
	"github.com/bdougie/egogaze/internal/progress"
	"github.com/bdougie/egogaze/internal/storage"
)

func runEvaluate(ctx context.Context, args []string) error {
	c := newCLI("evaluate")
	modeName := c.fs.String("mode", string(analyzer.ModeSalience), "multiframe, clip, gaze-text, mark or salience")
	categoryName := c.fs.String("category", "temporal", "question category")
	name := c.fs.String("dataset", "egtea", "dataset name")
	qa := c.fs.String("qa", "", "QA csv file or directory (default from config)")
	clipsFile := c.fs.String("clips", "", "clip JSON for clip mode (default from config)")
	out := c.fs.String("out", "", "result csv (default <results>/<model>/<mode>_<category>_<dataset>.csv)")
	n := c.fs.Int("workers", 0, "concurrent model calls (default from config)")
	cfg, logger, err := c.parse(args)
	if err != nil {
		return err
	}

	mode, err := analyzer.ParseMode(*modeName)
	if err != nil {
		return err
	}
	run := runName(*categoryName, *name)

	var items []models.QAItem
	if mode == analyzer.ModeClip {
		path := *clipsFile
		if path == "" {
			path = clipsPath(cfg, run)
		}
		byVideo, err := clips.Read(path)
		if err != nil {
			return err
		}
		items = clips.QAItems(byVideo)
	} else if items, err = loadQA(qaPath(cfg, *qa, *name, *categoryName)); err != nil {
		return err
	}

	inputs := analyzer.Inputs{
		FrameDir:    filepath.Join(cfg.Paths.Datasets, *name),
		EstimateDir: filepath.Join(cfg.Paths.GazeEstimate, *name),
		SalienceDir: filepath.Join(cfg.Paths.Salience, *name),
		Params:      cfg.Salience,
		ClipDir:     filepath.Join(cfg.Paths.Clips, run),
		Sampler:     extractor.New(logger),
	}
	if mode == analyzer.ModeGazeText || mode == analyzer.ModeMark {
		if inputs.Narrations, err = gaze.LoadNarrations(narrationsPath(cfg, *name)); err != nil {
			return err
		}
	}

	resultPath := *out
	if resultPath == "" {
		model := strings.ReplaceAll(cfg.Model.Model, "/", "_")
		resultPath = filepath.Join(cfg.Paths.Results, model, fmt.Sprintf("%s_%s.csv", mode, run))
	}
	file := storage.NewFileStorage(resultPath)

	client, release, err := newClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer release()

	opts := []analyzer.Option{
		analyzer.WithWorkers(workers(cfg, *n)),
		analyzer.WithProgress(progress.Stdout()),
	}
	var store storage.Storage = file
	if cfg.Postgres.Enabled() {
		if err := storage.InitSchema(ctx, cfg.Postgres); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		embedder := embeddings.NewService(workers(cfg, *n))
		defer embedder.Close()

		db, err := storage.NewPostgresStorage(ctx, cfg.Postgres, embedder, storage.RunInfo{Mode: string(mode), Model: cfg.Model.Model})
		if err != nil {
			return err
		}
		defer db.Close()
		logger.Info("recording run in database", "run", db.RunID())

		store = storage.Tee(file, db)
		opts = append(opts, analyzer.WithSalienceSink(db))
	}

	logger.Info("evaluating", "mode", mode, "questions", len(items), "results", resultPath)
	summary, err := analyzer.NewProcessor(client, store, logger, mode, inputs, opts...).Evaluate(ctx, items)
	printSummary(mode, summary)
	if err != nil {
		return err
	}
	logger.Info("results written", "file", resultPath)
	return nil
}

func printSummary(mode analyzer.Mode, s analyzer.Summary) {
	colorstring.Printf("\n[bold]%s[reset] accuracy: [green]%.2f%%[reset]\n", mode, s.Accuracy())
	colorstring.Printf("Correct: [green]%d[reset], Answered: %d, Failed: [red]%d[reset], Skipped: [yellow]%d[reset] of %d\n",
		s.Correct, s.Answered, s.Failed, s.Skipped, s.Total)
}

func runAccuracy(ctx context.Context, args []string) error {
	c := newCLI("accuracy")
	c.fs.Usage = func() {
		fmt.Fprintln(c.fs.Output(), "Usage: egogaze accuracy [flags] <result.csv>...")
		c.fs.PrintDefaults()
	}
	if err := c.fs.Parse(args); err != nil {
		return err
	}
	if c.fs.NArg() == 0 {
		c.fs.Usage()
		return errors.New("no result files given")
	}

	var all []models.EvalResult
	for _, path := range c.fs.Args() {
		if err := ctx.Err(); err != nil {
			return err
		}
		results, err := storage.ReadResults(path)
		if err != nil {
			return err
		}
		all = append(all, results...)
		colorstring.Printf("%s: [green]%.2f%%[reset] (%d questions)\n", path, analyzer.Accuracy(results), len(results))
	}
	if c.fs.NArg() > 1 {
		colorstring.Printf("[bold]Overall[reset]: [green]%.2f%%[reset] (%d questions)\n", analyzer.Accuracy(all), len(all))
	}
	return nil
}

func runGazeError(ctx context.Context, args []string) error {
	c := newCLI("gaze-error")
	categoryName := c.fs.String("category", "temporal", "question category")
	name := c.fs.String("dataset", "egtea", "dataset name")
	qa := c.fs.String("qa", "", "QA csv file or directory (default from config)")
	cfg, logger, err := c.parse(args)
	if err != nil {
		return err
	}

	items, err := loadQA(qaPath(cfg, *qa, *name, *categoryName))
	if err != nil {
		return err
	}
	narrations, err := gaze.LoadNarrations(narrationsPath(cfg, *name))
	if err != nil {
		return err
	}

	estimateDir := filepath.Join(cfg.Paths.GazeEstimate, *name)
	logger.Debug("comparing gaze", "estimates", estimateDir, "questions", len(items))
	report, err := gaze.Compare(estimateDir, narrations, items)
	if err != nil {
		return err
	}
	if report.Groups == 0 {
		logger.Warn("no frame group had both estimated and annotated gaze")
	}
	colorstring.Printf("Groups: %d, MSE: [green]%.6f[reset], MAE: [green]%.6f[reset]\n", report.Groups, report.MSE, report.MAE)
	return nil
}
