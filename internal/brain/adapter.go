package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Request is the normalized completion request sent to the answering backend.
type Request struct {
	NodeID string `json:"node_id"`
	Prompt string `json:"prompt"`
}

// Response is the backend's textual answer.
type Response struct {
	Text string `json:"text"`
}

// Adapter bridges agent nodes to whatever produces their answers.
type Adapter interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Config controls adapter construction.
type Config struct {
	Mode       string
	HTTPURL    string
	APIKey     string
	Model      string
	BaseURL    string
	SystemHint string
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoAdapter(cfg), nil
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("OpenAI API key is required for openai mode")
		}
		return NewOpenAIAdapter(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.SystemHint), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("brain HTTP url is required for http mode")
		}
		return NewHTTPAdapter(cfg.HTTPURL), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported brain adapter mode %q", cfg.Mode)
	}
}

func newAutoAdapter(cfg Config) Adapter {
	if strings.TrimSpace(cfg.APIKey) != "" {
		return NewOpenAIAdapter(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.SystemHint)
	}
	if strings.TrimSpace(cfg.HTTPURL) != "" {
		return NewHTTPAdapter(cfg.HTTPURL)
	}
	return NewMockAdapter()
}
