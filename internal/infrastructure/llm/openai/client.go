package openai

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/hybrid-rag/internal/infrastructure/resilience"
)

const serviceName = "llm"

// Client talks to any OpenAI-compatible endpoint (OpenAI, vLLM, Ollama /v1, ...).
type Client struct {
	baseURL     string
	apiKey      string
	chatModel   string
	embedModel  string
	temperature float64
	httpClient  *http.Client
	executor    *resilience.Executor
}

type Config struct {
	BaseURL        string
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	Temperature    float64
	Timeout        time.Duration
}

func New(cfg Config, executor *resilience.Executor) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		chatModel:   cfg.ChatModel,
		embedModel:  cfg.EmbeddingModel,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: timeout},
		executor:    executor,
	}
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.executor == nil {
		return fn(ctx)
	}
	return c.executor.Execute(ctx, serviceName+"_"+operation, fn, resilience.ClassifyHTTPError)
}
