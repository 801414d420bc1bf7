package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bdougie/egogaze/internal/salience"
)

// ErrInvalid is returned by Validate for unusable configuration
var ErrInvalid = errors.New("invalid configuration")

// Config is the full runtime configuration
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Model      ModelConfig      `yaml:"model"`
	Paths      PathsConfig      `yaml:"paths"`
	Salience   salience.Params  `yaml:"salience"`
	Generation GenerationConfig `yaml:"generation"`
	Postgres   PostgresConfig   `yaml:"postgres"`
}

// LogConfig controls the slog handler
type LogConfig struct {
	Level string `yaml:"level"`
}

// ModelConfig selects the vision-language model backend
type ModelConfig struct {
	Provider   string `yaml:"provider"` // openai or ollama
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	MaxWorkers int    `yaml:"max_workers"`
}

// PathsConfig holds every filesystem location used by the pipeline
type PathsConfig struct {
	DataRoot     string `yaml:"data_root"`
	Datasets     string `yaml:"datasets"`      // <datasets>/<dataset>/<video_id>/<frame>.jpg
	Narrations   string `yaml:"narrations"`    // <narrations>/<dataset>.json
	GazeEstimate string `yaml:"gaze_estimate"` // <gaze_estimate>/<dataset>/<video_id>.csv
	QAPairs      string `yaml:"qa_pairs"`      // <qa_pairs>/<category>_<dataset>.csv
	Results      string `yaml:"results"`
	Salience     string `yaml:"salience"`
	Clips        string `yaml:"clips"`
	LongVideos   string `yaml:"long_videos"`
	Keysteps     string `yaml:"keysteps"`
	Takes        string `yaml:"takes"`
	Output       string `yaml:"output"`
}

// GenerationConfig controls QA generation and clip cutting
type GenerationConfig struct {
	GroupSize int     `yaml:"group_size"`
	FPS       float64 `yaml:"fps"`
}

// PostgresConfig holds connection details for the optional result database
type PostgresConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

// Enabled reports whether a database was configured
func (p PostgresConfig) Enabled() bool {
	return p.URL != "" || p.Host != ""
}

// ConnString returns the pgx connection string
func (p PostgresConfig) ConnString() string {
	if p.URL != "" {
		return p.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", p.User, p.Password, p.Host, p.Port, p.DBName)
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Model: ModelConfig{
			Provider:   "openai",
			BaseURL:    "https://dashscope.aliyuncs.com/compatible-mode/v1",
			Model:      "qwen-vl-max-latest",
			MaxWorkers: 4,
		},
		Paths:    pathsUnder("."),
		Salience: salience.DefaultParams(),
		Generation: GenerationConfig{
			GroupSize: 9,
			FPS:       30,
		},
		Postgres: PostgresConfig{Port: "5432"},
	}
}

func pathsUnder(root string) PathsConfig {
	return PathsConfig{
		DataRoot:     root,
		Datasets:     filepath.Join(root, "datasets"),
		Narrations:   filepath.Join(root, "narrations"),
		GazeEstimate: filepath.Join(root, "ablation", "gazees_vllm"),
		QAPairs:      filepath.Join(root, "qa_pairs"),
		Results:      filepath.Join(root, "results"),
		Salience:     filepath.Join(root, "salience"),
		Clips:        filepath.Join(root, "clips"),
		LongVideos:   filepath.Join(root, "videos"),
		Keysteps:     filepath.Join(root, "annotations", "keystep_train.json"),
		Takes:        filepath.Join(root, "takes"),
		Output:       filepath.Join(root, "output"),
	}
}

// Load reads the YAML file at path (optional) and applies environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	if root := os.Getenv("EGOGAZE_DATA_ROOT"); root != "" {
		cfg.Paths = pathsUnder(root)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file '%s': %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	overrides := []struct {
		key string
		dst *string
	}{
		{"EGOGAZE_PROVIDER", &cfg.Model.Provider},
		{"EGOGAZE_BASE_URL", &cfg.Model.BaseURL},
		{"EGOGAZE_API_KEY", &cfg.Model.APIKey},
		{"EGOGAZE_MODEL", &cfg.Model.Model},
		{"EGOGAZE_LOG_LEVEL", &cfg.Log.Level},
		{"DATABASE_URL", &cfg.Postgres.URL},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.key); v != "" {
			*o.dst = v
		}
	}
}

// Validate checks the values the pipeline cannot run without
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("%w: model.provider %q (want openai or ollama)", ErrInvalid, c.Model.Provider)
	}
	if c.Model.Model == "" {
		return fmt.Errorf("%w: model.model is empty", ErrInvalid)
	}
	if c.Model.MaxWorkers <= 0 {
		return fmt.Errorf("%w: model.max_workers must be positive", ErrInvalid)
	}
	if c.Generation.GroupSize <= 0 {
		return fmt.Errorf("%w: generation.group_size must be positive", ErrInvalid)
	}
	if c.Generation.FPS <= 0 {
		return fmt.Errorf("%w: generation.fps must be positive", ErrInvalid)
	}
	if c.Salience.Sigma <= 0 || c.Salience.DiscRadius < 0 {
		return fmt.Errorf("%w: salience sigma must be positive and disc_radius non-negative", ErrInvalid)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name onto slog
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("%w: log.level %q", ErrInvalid, s)
}
