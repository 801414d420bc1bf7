package main

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/bdougie/egogaze/internal/config"
	"github.com/bdougie/egogaze/internal/models"
	"github.com/bdougie/egogaze/internal/storage"
)

func TestWorkers(t *testing.T) {
	cfg := config.Default()
	cfg.Model.MaxWorkers = 1
	if got := workers(cfg, 0); got != 1 {
		t.Errorf("workers capped by config = %d, want 1", got)
	}
	if got := workers(cfg, 7); got != 7 {
		t.Errorf("workers override = %d, want 7", got)
	}
	cfg.Model.MaxWorkers = 1 << 20
	if got := workers(cfg, 0); got != runtime.GOMAXPROCS(0) {
		t.Errorf("workers capped by CPUs = %d, want %d", got, runtime.GOMAXPROCS(0))
	}
}

func TestQAPath(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.QAPairs = t.TempDir()

	if got := qaPath(cfg, "x.csv", "egtea", "causal"); got != "x.csv" {
		t.Errorf("explicit path = %q", got)
	}

	perVideo := filepath.Join(cfg.Paths.QAPairs, "egtea", "causal", "csv")
	if got := qaPath(cfg, "", "egtea", "causal"); got != perVideo {
		t.Errorf("generated tables = %q, want %q", got, perVideo)
	}

	merged := filepath.Join(cfg.Paths.QAPairs, "causal_egtea.csv")
	if err := os.WriteFile(merged, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if got := qaPath(cfg, "", "egtea", "causal"); got != merged {
		t.Errorf("merged table = %q, want %q", got, merged)
	}
}

func TestLoadQADirectory(t *testing.T) {
	dir := t.TempDir()
	for _, id := range []string{"vid_b", "vid_a"} {
		item := models.QAItem{
			VideoID:       id,
			GroupID:       []string{"1.jpg", "2.jpg"},
			Question:      "What happens next?",
			AnswerOptions: []string{"A: stir", "B: pour"},
			CorrectAnswer: "A",
		}
		if err := storage.NewQAWriter(filepath.Join(dir, id+".csv")).Append(item); err != nil {
			t.Fatal(err)
		}
	}

	items, err := loadQA(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].VideoID != "vid_a" || items[1].VideoID != "vid_b" {
		t.Fatalf("loadQA = %+v, want vid_a then vid_b", items)
	}

	if _, err := loadQA(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected an error for a missing path")
	}
}
