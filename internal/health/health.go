package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

var ErrUnknownComponent = errors.New("unknown health component")

type ComponentStatus struct {
	Name           string         `json:"name"`
	Status         Status         `json:"status"`
	Message        string         `json:"message,omitempty"`
	ResponseTimeMs float64        `json:"response_time_ms"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type SystemHealthStatus struct {
	OverallStatus Status                     `json:"overall_status"`
	Components    map[string]ComponentStatus `json:"components"`
	Timestamp     time.Time                  `json:"timestamp"`
}

type CheckFunc func(ctx context.Context) ComponentStatus

type Config struct {
	DefaultTimeout       time.Duration
	PerComponentTimeouts map[string]time.Duration
	RetryCount           int
	Backoff              time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 2 * time.Second,
		RetryCount:     1,
		Backoff:        100 * time.Millisecond,
	}
}

type Checker struct {
	cfg    Config
	logger *slog.Logger

	mutex  sync.RWMutex
	checks map[string]CheckFunc
}

func NewChecker(cfg Config, logger *slog.Logger) *Checker {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	return &Checker{
		cfg:    cfg,
		logger: logger,
		checks: make(map[string]CheckFunc),
	}
}

// Register adds or replaces the check for name.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.checks[name] = fn
}

func (c *Checker) Names() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckComponent runs the named check, retrying unhealthy results.
func (c *Checker) CheckComponent(ctx context.Context, name string) (ComponentStatus, error) {
	c.mutex.RLock()
	fn, ok := c.checks[name]
	c.mutex.RUnlock()
	if !ok {
		return ComponentStatus{}, fmt.Errorf("%w: %s", ErrUnknownComponent, name)
	}

	timeout := c.cfg.DefaultTimeout
	if t, ok := c.cfg.PerComponentTimeouts[name]; ok && t > 0 {
		timeout = t
	}

	start := time.Now()
	var result ComponentStatus
retry:
	for attempt := 0; attempt <= c.cfg.RetryCount; attempt++ {
		if attempt > 0 {
			wait := c.cfg.Backoff * time.Duration(attempt)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				break retry
			}
		}

		result = c.runOnce(ctx, name, fn, timeout)
		if result.Status != StatusUnhealthy {
			break
		}
		c.logger.Debug("Health check unhealthy",
			slog.String("component", name),
			slog.Int("attempt", attempt+1),
			slog.String("message", result.Message))
	}

	result.Name = name
	result.ResponseTimeMs = float64(time.Since(start).Microseconds()) / 1000
	return result, nil
}

func (c *Checker) runOnce(ctx context.Context, name string, fn CheckFunc, timeout time.Duration) ComponentStatus {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan ComponentStatus, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Health check panicked",
					slog.String("component", name),
					slog.Any("panic", r))
				done <- ComponentStatus{
					Status:  StatusUnhealthy,
					Message: fmt.Sprintf("check panicked: %v", r),
				}
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case result := <-done:
		if result.Status == "" {
			result.Status = StatusUnhealthy
			result.Message = "check reported no status"
		}
		return result
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ComponentStatus{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("timed out after %s", timeout),
			}
		}
		return ComponentStatus{Status: StatusUnhealthy, Message: "check cancelled"}
	}
}

// CheckAll runs every registered check concurrently.
func (c *Checker) CheckAll(ctx context.Context) SystemHealthStatus {
	names := c.Names()
	results := make([]ComponentStatus, len(names))

	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			status, err := c.CheckComponent(ctx, name)
			if err != nil {
				// Unregistered between Names and here.
				status = ComponentStatus{Name: name, Status: StatusUnhealthy, Message: err.Error()}
			}
			results[i] = status
			return nil
		})
	}
	_ = g.Wait()

	components := make(map[string]ComponentStatus, len(results))
	for _, r := range results {
		components[r.Name] = r
	}

	return SystemHealthStatus{
		OverallStatus: Overall(results),
		Components:    components,
		Timestamp:     time.Now().UTC(),
	}
}

// Overall is unhealthy if any component is unhealthy, degraded if any is
// degraded, and healthy otherwise (including when there are none).
func Overall(components []ComponentStatus) Status {
	overall := StatusHealthy
	for _, c := range components {
		switch c.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}
