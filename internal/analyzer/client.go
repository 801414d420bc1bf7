package analyzer

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bdougie/egogaze/internal/config"
)

// Image is one picture attached to a model request. Data is always set; Path
// is set when the image already exists on disk.
type Image struct {
	MIMEType string
	Data     []byte
	Path     string
}

// DataURI returns the image as an inline data URI
func (img Image) DataURI() string {
	return fmt.Sprintf("data:%s;base64,%s", img.MIMEType, base64.StdEncoding.EncodeToString(img.Data))
}

// ImageFromFile reads an image from disk
func ImageFromFile(path string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, err
	}
	return Image{MIMEType: mimeFromExt(path), Data: data, Path: path}, nil
}

func mimeFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// Request is a single multimodal chat turn. Images are sent before the text,
// in order.
type Request struct {
	System string
	Images []Image
	Text   string
}

// Client sends a request to a vision-language model and returns its reply
type Client interface {
	Chat(ctx context.Context, req Request) (string, error)
}

// NewClient builds the client selected by cfg.Provider
func NewClient(ctx context.Context, cfg config.ModelConfig, logger *slog.Logger) (Client, error) {
	switch cfg.Provider {
	case "ollama":
		client, err := NewAgentClient(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "openai":
		return NewOpenAIClient(cfg, logger), nil
	}
	return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
}
