package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/angeloszaimis/llm-starter/internal/circuitbreaker"
)

// OperationMetrics counts outcomes of a single operation.
type OperationMetrics struct {
	Calls             int64     `json:"calls"`
	Successes         int64     `json:"successes"`
	Failures          int64     `json:"failures"`
	Retries           int64     `json:"retries"`
	BreakerRejections int64     `json:"breaker_rejections"`
	Fallbacks         int64     `json:"fallbacks"`
	LastError         string    `json:"last_error,omitempty"`
	LastFailure       time.Time `json:"last_failure,omitempty"`
}

// HealthReport summarises breaker state across all operations.
type HealthReport struct {
	Healthy      bool     `json:"healthy"`
	OpenBreakers []string `json:"open_breakers"`
	Operations   int      `json:"operations"`
}

// OperationConfig is the resolved configuration of one operation.
type OperationConfig struct {
	Strategy Strategy `json:"strategy"`
	Policy   Policy   `json:"policy"`
}

// Orchestrator runs named operations under their retry policy and breaker.
type Orchestrator struct {
	logger          *slog.Logger
	breakers        *circuitbreaker.Registry
	defaultStrategy Strategy
	preset          string

	mutex      sync.RWMutex
	operations map[string]OperationConfig
	metrics    map[string]*OperationMetrics
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithPolicyOverride replaces the policy used for every strategy lookup of
// operation. Tests use it to shrink backoff delays.
func WithPolicyOverride(operation string, policy Policy) Option {
	return func(o *Orchestrator) {
		cfg := o.operations[operation]
		if cfg.Strategy == "" {
			cfg.Strategy = o.defaultStrategy
		}
		cfg.Policy = policy
		o.operations[operation] = cfg
	}
}

// NewOrchestrator builds an orchestrator from a preset.
func NewOrchestrator(preset Preset, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	if _, err := PolicyFor(preset.Default); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		logger:          logger,
		breakers:        circuitbreaker.NewRegistry(5, 30*time.Second),
		defaultStrategy: preset.Default,
		preset:          preset.Name,
		operations:      make(map[string]OperationConfig),
		metrics:         make(map[string]*OperationMetrics),
	}

	o.breakers.OnStateChange(func(name string, from, to circuitbreaker.State) {
		o.logger.Warn("Circuit breaker state changed",
			slog.String("operation", name),
			slog.String("from", from.String()),
			slog.String("to", to.String()))
	})

	for op, strategy := range preset.Operations {
		if err := o.Register(op, strategy); err != nil {
			return nil, err
		}
	}

	for _, opt := range opts {
		opt(o)
	}

	return o, nil
}

// Register binds operation to strategy.
func (o *Orchestrator) Register(operation string, strategy Strategy) error {
	policy, err := PolicyFor(strategy)
	if err != nil {
		return err
	}

	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.operations[operation] = OperationConfig{Strategy: strategy, Policy: policy}
	return nil
}

// Execute runs fn for operation. Every attempt passes through the
// operation's breaker; transient failures are retried per the policy.
func (o *Orchestrator) Execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	cfg := o.operationConfig(operation)
	cb := o.breakers.GetBreakerWith(operation, cfg.Policy.FailureThreshold, cfg.Policy.RecoveryTimeout)

	o.update(operation, func(m *OperationMetrics) { m.Calls++ })

	err := Retry(ctx, cfg.Policy, func(ctx context.Context) error {
		if !cb.Allow() {
			o.update(operation, func(m *OperationMetrics) { m.BreakerRejections++ })
			return Permanent(fmt.Errorf("%w: %s: %w", ErrServiceUnavailable, operation, circuitbreaker.ErrOpen))
		}

		err := fn(ctx)
		switch {
		case err == nil:
			cb.RecordSuccess()
		case IsTransient(err):
			cb.RecordFailure()
		}
		return err
	}, func(attempt int, err error, delay time.Duration) {
		o.update(operation, func(m *OperationMetrics) { m.Retries++ })
		o.logger.Debug("Retrying operation",
			slog.String("operation", operation),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("err", err))
	})

	if err != nil {
		o.update(operation, func(m *OperationMetrics) {
			m.Failures++
			m.LastError = err.Error()
			m.LastFailure = time.Now()
		})
		return err
	}

	o.update(operation, func(m *OperationMetrics) { m.Successes++ })
	return nil
}

// ExecuteWithFallback runs fallback when Execute fails with anything other
// than a permanent caller error or cancellation.
func (o *Orchestrator) ExecuteWithFallback(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	fallback func(context.Context, error) error,
) error {
	err := o.Execute(ctx, operation, fn)
	if err == nil || fallback == nil {
		return err
	}

	if errors.Is(err, context.Canceled) || (!errors.Is(err, ErrServiceUnavailable) && !errors.Is(err, ErrRetriesExhausted) && !errors.Is(err, context.DeadlineExceeded)) {
		return err
	}

	o.update(operation, func(m *OperationMetrics) { m.Fallbacks++ })
	o.logger.Warn("Serving fallback",
		slog.String("operation", operation),
		slog.Any("err", err))
	return fallback(ctx, err)
}

// Metrics returns a copy of the per-operation counters.
func (o *Orchestrator) Metrics() map[string]OperationMetrics {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	out := make(map[string]OperationMetrics, len(o.metrics))
	for op, m := range o.metrics {
		out[op] = *m
	}
	return out
}

// ResetMetrics clears all counters.
func (o *Orchestrator) ResetMetrics() {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.metrics = make(map[string]*OperationMetrics)
}

// Health reports unhealthy while any breaker is open.
func (o *Orchestrator) Health() HealthReport {
	open := o.breakers.Open()
	if open == nil {
		open = []string{}
	}

	o.mutex.RLock()
	count := len(o.operations)
	o.mutex.RUnlock()

	return HealthReport{
		Healthy:      len(open) == 0,
		OpenBreakers: open,
		Operations:   count,
	}
}

// Breakers returns full breaker statistics.
func (o *Orchestrator) Breakers() []circuitbreaker.Stats {
	return o.breakers.Details()
}

// ResetBreaker closes the named breaker.
func (o *Orchestrator) ResetBreaker(name string) bool {
	return o.breakers.ResetBreaker(name)
}

// Config describes the preset and resolved per-operation configuration.
func (o *Orchestrator) Config() map[string]any {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	names := make([]string, 0, len(o.operations))
	for name := range o.operations {
		names = append(names, name)
	}
	sort.Strings(names)

	ops := make(map[string]OperationConfig, len(names))
	for _, name := range names {
		ops[name] = o.operations[name]
	}

	defaultPolicy, _ := PolicyFor(o.defaultStrategy)
	return map[string]any{
		"preset":           o.preset,
		"default_strategy": o.defaultStrategy,
		"default_policy":   defaultPolicy,
		"operations":       ops,
	}
}

func (o *Orchestrator) operationConfig(operation string) OperationConfig {
	o.mutex.RLock()
	cfg, ok := o.operations[operation]
	o.mutex.RUnlock()

	if ok {
		return cfg
	}

	policy, _ := PolicyFor(o.defaultStrategy)
	return OperationConfig{Strategy: o.defaultStrategy, Policy: policy}
}

func (o *Orchestrator) update(operation string, fn func(*OperationMetrics)) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	m, ok := o.metrics[operation]
	if !ok {
		m = &OperationMetrics{}
		o.metrics[operation] = m
	}
	fn(m)
}
