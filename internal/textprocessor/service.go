package textprocessor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/llm-starter/internal/cache"
	"github.com/angeloszaimis/llm-starter/internal/llm"
	"github.com/angeloszaimis/llm-starter/internal/metrics"
	"github.com/angeloszaimis/llm-starter/internal/resilience"
)

const (
	keyPrefix               = "text_processing:"
	defaultBatchConcurrency = 5
	degradedMessage         = "The AI service is temporarily unavailable. Please try again later."
)

type Response struct {
	Operation      Operation        `json:"operation"`
	Success        bool             `json:"success"`
	Result         string           `json:"result,omitempty"`
	Sentiment      *SentimentResult `json:"sentiment,omitempty"`
	KeyPoints      []string         `json:"key_points,omitempty"`
	Questions      []string         `json:"questions,omitempty"`
	ProcessingTime float64          `json:"processing_time"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	Cached         bool             `json:"cached"`
}

type BatchItem struct {
	Index    int       `json:"index"`
	Success  bool      `json:"success"`
	Response *Response `json:"response,omitempty"`
	Error    string    `json:"error,omitempty"`
}

type BatchResponse struct {
	BatchID             string      `json:"batch_id"`
	TotalRequests       int         `json:"total_requests"`
	Completed           int         `json:"completed"`
	Failed              int         `json:"failed"`
	Results             []BatchItem `json:"results"`
	TotalProcessingTime float64     `json:"total_processing_time"`
}

type OperationInfo struct {
	Name             Operation `json:"name"`
	Description      string    `json:"description"`
	Options          []string  `json:"options"`
	RequiresQuestion bool      `json:"requires_question"`
	CacheTTL         string    `json:"cache_ttl"`
}

type Option func(*Service)

func WithBatchConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchConcurrency = n
		}
	}
}

func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Service) { s.defaultTTL = ttl }
}

type Service struct {
	llm              llm.Client
	cache            cache.Cache
	keys             cache.KeyGenerator
	orchestrator     *resilience.Orchestrator
	collector        *metrics.Collector
	logger           *slog.Logger
	defaultTTL       time.Duration
	batchConcurrency int
}

// NewService wires the processor. c may be nil to disable caching.
func NewService(
	client llm.Client,
	c cache.Cache,
	orchestrator *resilience.Orchestrator,
	collector *metrics.Collector,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		llm:              client,
		cache:            c,
		keys:             cache.NewKeyGenerator(keyPrefix),
		orchestrator:     orchestrator,
		collector:        collector,
		logger:           logger,
		defaultTTL:       time.Hour,
		batchConcurrency: defaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process runs one request. Validation failures wrap ErrValidation. When
// the LLM is unavailable the response is degraded rather than an error.
func (s *Service) Process(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	req, err := req.sanitized()
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	op := req.Operation
	opts := req.Options.withDefaults(op)
	text := req.Text
	question := req.Question
	key := s.keys.Key(string(op), text, opts.keyOptions(op), question)

	if resp, ok := s.lookup(ctx, op, key); ok {
		resp.Cached = true
		resp.ProcessingTime = time.Since(start).Seconds()
		return resp, nil
	}

	var (
		completion llm.Completion
		degraded   error
	)
	err = s.orchestrator.ExecuteWithFallback(ctx, string(op),
		func(ctx context.Context) error {
			c, err := s.llm.Generate(ctx, buildPrompt(op, text, opts, question))
			if err != nil {
				return err
			}
			completion = c
			return nil
		},
		func(_ context.Context, cause error) error {
			degraded = cause
			return nil
		},
	)
	if err != nil {
		return Response{}, fmt.Errorf("%s: %w", op, err)
	}

	if degraded != nil {
		s.logger.Warn("Returning degraded response",
			slog.String("operation", string(op)),
			slog.Any("err", degraded))
		return Response{
			Operation:      op,
			Success:        false,
			Result:         degradedMessage,
			ProcessingTime: time.Since(start).Seconds(),
			Metadata: map[string]any{
				"degraded": true,
				"reason":   degradedReason(degraded),
			},
		}, nil
	}

	resp := Response{
		Operation: op,
		Success:   true,
		Metadata: map[string]any{
			"model":             completion.Model,
			"endpoint":          completion.Endpoint,
			"prompt_tokens":     completion.PromptTokens,
			"completion_tokens": completion.CompletionTokens,
			"text_length":       len([]rune(text)),
		},
	}

	switch op {
	case Sentiment:
		sentiment := parseSentiment(completion.Text)
		resp.Sentiment = &sentiment
	case KeyPoints:
		resp.KeyPoints = parseList(completion.Text, opts.MaxPoints)
	case Questions:
		resp.Questions = parseList(completion.Text, opts.NumQuestions)
	default:
		resp.Result = completion.Text
	}

	resp.ProcessingTime = time.Since(start).Seconds()
	s.store(ctx, op, key, resp)
	return resp, nil
}

// ProcessBatch runs every request with bounded concurrency. Failed items
// are reported in the results and do not fail the batch.
func (s *Service) ProcessBatch(ctx context.Context, batch BatchRequest) (BatchResponse, error) {
	start := time.Now()

	if err := batch.Validate(); err != nil {
		return BatchResponse{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	batchID := batch.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}

	results := make([]BatchItem, len(batch.Requests))

	var g errgroup.Group
	g.SetLimit(s.batchConcurrency)
	for i, req := range batch.Requests {
		g.Go(func() error {
			item := BatchItem{Index: i}
			resp, err := s.Process(ctx, req)
			if err != nil {
				item.Error = err.Error()
			} else {
				item.Success = resp.Success
				item.Response = &resp
				if !resp.Success {
					item.Error = resp.Result
				}
			}
			results[i] = item
			return nil
		})
	}
	_ = g.Wait()

	out := BatchResponse{
		BatchID:       batchID,
		TotalRequests: len(batch.Requests),
		Results:       results,
	}
	for _, item := range results {
		if item.Success {
			out.Completed++
		} else {
			out.Failed++
		}
	}
	out.TotalProcessingTime = time.Since(start).Seconds()

	s.logger.Info("Batch processed",
		slog.String("batch_id", batchID),
		slog.Int("total", out.TotalRequests),
		slog.Int("failed", out.Failed))

	return out, nil
}

// Operations describes the supported operations.
func (s *Service) Operations() []OperationInfo {
	ttl := func(op Operation) string { return cache.TTLFor(string(op), s.defaultTTL).String() }
	return []OperationInfo{
		{Name: Summarize, Description: "Summarize the text", Options: []string{"max_length"}, CacheTTL: ttl(Summarize)},
		{Name: Sentiment, Description: "Classify the sentiment of the text", Options: []string{}, CacheTTL: ttl(Sentiment)},
		{Name: KeyPoints, Description: "Extract the key points of the text", Options: []string{"max_points"}, CacheTTL: ttl(KeyPoints)},
		{Name: Questions, Description: "Generate questions about the text", Options: []string{"num_questions"}, CacheTTL: ttl(Questions)},
		{Name: QA, Description: "Answer a question about the text", Options: []string{}, RequiresQuestion: true, CacheTTL: ttl(QA)},
	}
}

func (s *Service) lookup(ctx context.Context, op Operation, key string) (Response, bool) {
	if s.cache == nil {
		return Response{}, false
	}

	data, err := s.cache.Get(ctx, key)
	hit := err == nil
	var resp Response
	if hit {
		if err := json.Unmarshal(data, &resp); err != nil {
			s.logger.Warn("Discarding unreadable cache entry", slog.String("key", key), slog.Any("err", err))
			_ = s.cache.Delete(ctx, key)
			hit = false
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn("Cache lookup failed", slog.String("operation", string(op)), slog.Any("err", err))
	}

	s.collector.Emit(metrics.MetricEvent{
		Type:      metrics.EventCacheLookup,
		Operation: string(op),
		Hit:       hit,
	})
	return resp, hit
}

func (s *Service) store(ctx context.Context, op Operation, key string, resp Response) {
	if s.cache == nil {
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, cache.TTLFor(string(op), s.defaultTTL)); err != nil {
		s.logger.Warn("Cache store failed", slog.String("operation", string(op)), slog.Any("err", err))
	}
}

func degradedReason(err error) string {
	switch {
	case errors.Is(err, resilience.ErrServiceUnavailable):
		return "circuit_open"
	case errors.Is(err, resilience.ErrRetriesExhausted):
		return "retries_exhausted"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "unavailable"
	}
}
