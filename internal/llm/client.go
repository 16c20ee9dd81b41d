package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angeloszaimis/llm-starter/internal/metrics"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	DefaultModel   = "gemini-2.0-flash"

	maxResponseBytes = 4 << 20
)

// Client generates completions.
type Client interface {
	Generate(ctx context.Context, prompt Prompt) (Completion, error)
}

type Prompt struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
	// JSON asks the provider for a JSON object response.
	JSON bool
}

type Completion struct {
	Text             string        `json:"text"`
	Model            string        `json:"model"`
	Endpoint         string        `json:"endpoint"`
	Latency          time.Duration `json:"latency"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
}

type EndpointConfig struct {
	URL    string
	Weight int
}

type Config struct {
	Endpoints       []EndpointConfig
	APIKey          string
	Model           string
	Timeout         time.Duration
	Strategy        string
	RecheckInterval time.Duration
}

// HTTPClient posts chat completion requests to a pool of endpoints.
type HTTPClient struct {
	pool      *Pool
	http      *http.Client
	apiKey    string
	model     string
	strategy  string
	collector *metrics.Collector
	logger    *slog.Logger
}

// NewHTTPClient validates cfg and builds the endpoint pool. Without any
// endpoint the provider default is used.
func NewHTTPClient(cfg Config, collector *metrics.Collector, logger *slog.Logger) (*HTTPClient, error) {
	selector, err := NewSelector(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	endpointCfgs := cfg.Endpoints
	if len(endpointCfgs) == 0 {
		endpointCfgs = []EndpointConfig{{URL: DefaultBaseURL, Weight: 1}}
	}

	endpoints := make([]*Endpoint, 0, len(endpointCfgs))
	for _, ec := range endpointCfgs {
		u, err := url.Parse(strings.TrimRight(ec.URL, "/"))
		if err != nil {
			return nil, fmt.Errorf("parse LLM endpoint %q: %w", ec.URL, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("LLM endpoint %q must be http or https", ec.URL)
		}
		endpoints = append(endpoints, NewEndpoint(u, ec.Weight, cfg.RecheckInterval))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = RoundRobin
	}

	return &HTTPClient{
		pool:      NewPool(endpoints, selector),
		http:      &http.Client{Timeout: timeout},
		apiKey:    cfg.APIKey,
		model:     model,
		strategy:  strategy,
		collector: collector,
		logger:    logger,
	}, nil
}

// Configured reports whether an API key is set.
func (c *HTTPClient) Configured() bool {
	return c.apiKey != ""
}

func (c *HTTPClient) Pool() *Pool {
	return c.pool
}

func (c *HTTPClient) Model() string {
	return c.model
}

func (c *HTTPClient) Strategy() string {
	return c.strategy
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends prompt to one endpoint of the pool.
func (c *HTTPClient) Generate(ctx context.Context, prompt Prompt) (Completion, error) {
	if !c.Configured() {
		return Completion{}, &ProviderError{Message: ErrNotConfigured.Error(), Err: ErrNotConfigured}
	}

	ep, err := c.pool.Acquire()
	if err != nil {
		return Completion{}, &ProviderError{Message: err.Error(), Retryable: true, Err: err}
	}
	defer ep.DecrementActive()

	endpoint := ep.URL().String()
	c.collector.Emit(metrics.MetricEvent{
		Type:     metrics.EventEndpointSelected,
		Endpoint: endpoint,
	})

	body, err := json.Marshal(c.buildRequest(prompt))
	if err != nil {
		return Completion{}, &ProviderError{Endpoint: endpoint, Message: err.Error(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL().JoinPath("chat/completions").String(), bytes.NewReader(body))
	if err != nil {
		return Completion{}, &ProviderError{Endpoint: endpoint, Message: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Completion{}, ctx.Err()
		}
		c.markDown(ep, err)
		return Completion{}, &ProviderError{Endpoint: endpoint, Message: err.Error(), Retryable: true, Err: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		c.markDown(ep, err)
		return Completion{}, &ProviderError{Endpoint: endpoint, Message: err.Error(), Retryable: true, Err: err}
	}

	if res.StatusCode >= http.StatusBadRequest {
		perr := &ProviderError{
			Endpoint:   endpoint,
			StatusCode: res.StatusCode,
			Message:    errorMessage(data, res.Status),
			Retryable:  res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= http.StatusInternalServerError,
		}
		if perr.Retryable {
			c.markDown(ep, perr)
		}
		return Completion{}, perr
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Completion{}, &ProviderError{Endpoint: endpoint, Message: "decode response: " + err.Error(), Err: err}
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return Completion{}, &ProviderError{Endpoint: endpoint, Message: ErrEmptyResponse.Error(), Err: ErrEmptyResponse}
	}

	latency := time.Since(start)
	ep.RecordResponse(latency)
	if ep.SetHealthy(true) {
		c.logger.Info("LLM endpoint is back up", slog.String("endpoint", endpoint))
	}

	model := parsed.Model
	if model == "" {
		model = c.model
	}
	return Completion{
		Text:             strings.TrimSpace(parsed.Choices[0].Message.Content),
		Model:            model,
		Endpoint:         endpoint,
		Latency:          latency,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}

func (c *HTTPClient) buildRequest(prompt Prompt) chatRequest {
	req := chatRequest{
		Model:     c.model,
		MaxTokens: prompt.MaxTokens,
	}
	if prompt.System != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: prompt.System})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: prompt.User})
	if prompt.Temperature > 0 {
		t := prompt.Temperature
		req.Temperature = &t
	}
	if prompt.JSON {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return req
}

func (c *HTTPClient) markDown(ep *Endpoint, err error) {
	if ep.SetHealthy(false) {
		c.logger.Warn("LLM endpoint is down",
			slog.String("endpoint", ep.URL().String()),
			slog.Any("err", err))
	}
}

func errorMessage(data []byte, fallback string) string {
	var parsed errorResponse
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	if msg := strings.TrimSpace(string(data)); msg != "" && len(msg) < 200 {
		return msg
	}
	return fallback
}
