package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"syscall"

	"github.com/lmittmann/tint"
	_ "go.uber.org/automaxprocs"

	"github.com/bdougie/egogaze/internal/analyzer"
	"github.com/bdougie/egogaze/internal/config"
)

type command struct {
	summary string
	run     func(ctx context.Context, args []string) error
}

var commands = map[string]command{
	"dataset":    {"extract keystep keyframes with gaze from raw takes", runDataset},
	"generate":   {"generate QA pairs for a dataset and category", runGenerate},
	"clips":      {"cut a video clip for every QA pair", runClips},
	"evaluate":   {"ask a model every benchmark question", runEvaluate},
	"accuracy":   {"report the accuracy of result files", runAccuracy},
	"gaze-error": {"compare estimated gaze with annotated gaze", runGazeError},
	"salience":   {"render the salience map of a frame group", runSalience},
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: egogaze <command> [flags]")
	fmt.Fprintln(os.Stderr)
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-11s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Run 'egogaze <command> -h' for the flags of a command.")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.run(ctx, os.Args[2:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "egogaze %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// cli is the flag set of one command plus the flags every command shares
type cli struct {
	fs         *flag.FlagSet
	configPath string
}

func newCLI(name string) *cli {
	c := &cli{fs: flag.NewFlagSet("egogaze "+name, flag.ContinueOnError)}
	c.fs.StringVar(&c.configPath, "config", os.Getenv("EGOGAZE_CONFIG"), "path to the YAML config file")
	return c
}

// parse reads the flags and loads the configuration they point at
func (c *cli) parse(args []string) (*config.Config, *slog.Logger, error) {
	if err := c.fs.Parse(args); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, nil, err
	}
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(os.Stderr, level), nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05",
		}),
	)
}

// workers caps the configured model concurrency by the usable CPUs unless
// the command line asks for a specific number
func workers(cfg *config.Config, override int) int {
	if override > 0 {
		return override
	}
	return max(1, min(runtime.GOMAXPROCS(0), cfg.Model.MaxWorkers))
}

// newClient builds the configured model client and a function releasing it
func newClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (analyzer.Client, func(), error) {
	client, err := analyzer.NewClient(ctx, cfg.Model, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize model client: %w", err)
	}
	release := func() {
		if c, ok := client.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.Warn("failed to release model client", "error", err)
			}
		}
	}
	return client, release, nil
}
