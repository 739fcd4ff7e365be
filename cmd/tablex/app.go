package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vincentmin/table-agent/pkg/config"
	"github.com/vincentmin/table-agent/pkg/feedback"
	"github.com/vincentmin/table-agent/pkg/models"
	"github.com/vincentmin/table-agent/pkg/models/gemini"
	"github.com/vincentmin/table-agent/pkg/models/openai"
	"github.com/vincentmin/table-agent/pkg/models/scripted"
	"github.com/vincentmin/table-agent/pkg/sandbox/docker"
	"github.com/vincentmin/table-agent/pkg/store"
	"github.com/vincentmin/table-agent/pkg/store/jsonl"
	"github.com/vincentmin/table-agent/pkg/store/sqlite"
	"github.com/vincentmin/table-agent/pkg/tokens"
)

// newProvider builds the model gateway named by llm.provider and returns
// it with the model name to use.
func newProvider(ctx context.Context, c config.LLMConfig) (models.ModelProvider, string, error) {
	switch c.Provider {
	case "gemini":
		key := c.Credential()
		if key == "" {
			return nil, "", fmt.Errorf("%s environment variable not set", config.APIKeyEnv(c.Provider))
		}
		p, err := gemini.New(ctx, key)
		if err != nil {
			return nil, "", fmt.Errorf("initializing gemini: %w", err)
		}
		return p, orDefault(c.Model, gemini.DefaultModel), nil
	case "openai":
		key := c.Credential()
		if key == "" && c.BaseURL == "" {
			return nil, "", fmt.Errorf("%s environment variable not set", config.APIKeyEnv(c.Provider))
		}
		return openai.New(key, c.BaseURL), orDefault(c.Model, openai.DefaultModel), nil
	case "scripted":
		p, err := scripted.Load(c.Script)
		if err != nil {
			return nil, "", err
		}
		return p, orDefault(c.Model, "scripted"), nil
	}
	return nil, "", fmt.Errorf("unknown provider %q", c.Provider)
}

// openStore returns nil when persistence is disabled.
func openStore(c config.StoreConfig) (store.RunStore, error) {
	switch c.Driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(c.Path), 0755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		return sqlite.New(c.Path)
	case "jsonl":
		return jsonl.NewManager(c.Path)
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", c.Driver)
}

func newSandbox(c *config.Config, truncator tokens.Truncator) (*docker.Manager, error) {
	mgr, err := docker.New(docker.Options{
		Timeout:           c.Sandbox.Timeout,
		MemoryMB:          c.Sandbox.MemoryMB,
		OutputTokenBudget: c.Run.OutputTokenBudget,
		Truncator:         truncator,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing docker sandbox: %w", err)
	}
	return mgr, nil
}

func newFormatter(c *config.Config, truncator tokens.Truncator) *feedback.Formatter {
	return &feedback.Formatter{
		Truncator:   truncator,
		FieldTokens: c.Run.PreviewTokenBudget,
	}
}

// readDockerfile returns "" for the built-in environment.
func readDockerfile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading dockerfile: %w", err)
	}
	return string(data), nil
}

func readOptionalFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
