package analyzer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/agent-api/core"
	"github.com/agent-api/core/agent"
	"github.com/agent-api/core/agent/bootstrap"
	"github.com/agent-api/core/memory/array"
	"github.com/agent-api/ollama"
	"github.com/go-logr/logr"

	"github.com/bdougie/egogaze/internal/config"
)

const (
	defaultOllamaHost = "http://localhost"
	defaultOllamaPort = 11434

	// one user turn and one reply
	maxAgentSteps = 2
)

// NewAgent builds a single-use agent over provider. Every agent gets its own
// memory, so nothing from an earlier question reaches the model.
func NewAgent(provider core.Provider, logger *logr.Logger) (*agent.Agent, error) {
	return agent.NewAgent(
		bootstrap.WithProvider(provider),
		bootstrap.WithLogger(logger),
		bootstrap.WithMemory(array.NewArrayMemoryBackend()),
		bootstrap.WithMaxSteps(maxAgentSteps),
	)
}

// ollamaAddress splits "http://host:port" into the provider's base URL and port
func ollamaAddress(raw string) (string, int, error) {
	if raw == "" {
		return defaultOllamaHost, defaultOllamaPort, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, fmt.Errorf("invalid ollama address %q: %w", raw, err)
	}
	port := defaultOllamaPort
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return "", 0, fmt.Errorf("invalid ollama port %q: %w", p, err)
		}
	}
	return u.Scheme + "://" + u.Hostname(), port, nil
}

func pingOllama(ctx context.Context, addr string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama is not reachable at %s: %w", addr, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama at %s answered %s", addr, resp.Status)
	}
	return nil
}

// AgentClient answers requests through agent-api agents on a shared provider
type AgentClient struct {
	provider core.Provider
	model    string
	logger   *slog.Logger
	agentLog logr.Logger
}

// NewAgentClient checks the Ollama server and selects the configured model
func NewAgentClient(ctx context.Context, cfg config.ModelConfig, logger *slog.Logger) (*AgentClient, error) {
	baseURL, port, err := ollamaAddress(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if err := pingOllama(ctx, fmt.Sprintf("%s:%d", baseURL, port)); err != nil {
		return nil, err
	}
	if baseURL != defaultOllamaHost || port != defaultOllamaPort {
		logger.Warn("the ollama provider always connects to localhost:11434, model.base_url only selects the health check",
			"base_url", cfg.BaseURL)
	}

	providerLog := logr.FromSlogHandler(logger.With("provider", "ollama").Handler())
	provider := ollama.NewProvider(&ollama.ProviderOpts{
		BaseURL: baseURL,
		Port:    port,
		Logger:  &providerLog,
	})
	if err := provider.UseModel(ctx, &core.Model{ID: cfg.Model}); err != nil {
		return nil, fmt.Errorf("failed to select model %s: %w", cfg.Model, err)
	}
	return newAgentClient(provider, cfg.Model, logger), nil
}

func newAgentClient(provider core.Provider, model string, logger *slog.Logger) *AgentClient {
	return &AgentClient{
		provider: provider,
		model:    model,
		logger:   logger,
		agentLog: logr.FromSlogHandler(logger.Handler()),
	}
}

// agentInput puts the system prompt in front of the user turn. The ollama
// provider drops system-role messages.
func agentInput(req Request) string {
	if req.System == "" {
		return req.Text
	}
	return req.System + "\n\n" + req.Text
}

// Chat runs the request through a fresh agent
func (c *AgentClient) Chat(ctx context.Context, req Request) (string, error) {
	a, err := NewAgent(c.provider, &c.agentLog)
	if err != nil {
		return "", fmt.Errorf("failed to create agent: %w", err)
	}

	opts := []agent.RunOptionFunc{agent.WithInput(agentInput(req))}
	for _, img := range req.Images {
		opts = append(opts, agent.WithImageBase64(base64.StdEncoding.EncodeToString(img.Data), img.MIMEType))
	}

	agg, err := a.Run(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("agent run failed: %w", err)
	}

	reply := agg.Pop()
	if reply == nil || reply.Role != core.AssistantMessageRole {
		return "", errors.New("no response messages received from model")
	}
	c.logger.Debug("model reply", "model", c.model, "content", reply.Content)
	return reply.Content, nil
}
