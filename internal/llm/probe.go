package llm

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Probe periodically checks ep by listing models. A 2xx response marks the
// endpoint healthy; anything else marks it down. It blocks until ctx is
// cancelled.
func Probe(
	ctx context.Context,
	ep *Endpoint,
	apiKey string,
	interval time.Duration,
	logger *slog.Logger,
) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Endpoint probe stopped",
				slog.String("endpoint", ep.URL().String()))
			return

		case <-ticker.C:
			healthy := probeOnce(ctx, client, ep, apiKey)
			if ctx.Err() != nil {
				return
			}

			if changed := ep.SetHealthy(healthy); changed {
				if healthy {
					logger.Info("LLM endpoint is back up",
						slog.String("endpoint", ep.URL().String()))
				} else {
					logger.Warn("LLM endpoint is down",
						slog.String("endpoint", ep.URL().String()))
				}
			}
		}
	}
}

func probeOnce(ctx context.Context, client *http.Client, ep *Endpoint, apiKey string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL().JoinPath("models").String(), nil)
	if err != nil {
		return false
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	res, err := client.Do(req)
	if err != nil {
		return false
	}
	defer res.Body.Close()

	return res.StatusCode >= 200 && res.StatusCode < 300
}

// StartProbes launches one Probe per endpoint of the pool.
func (c *HTTPClient) StartProbes(ctx context.Context, interval time.Duration) {
	for _, ep := range c.pool.Endpoints() {
		go Probe(ctx, ep, c.apiKey, interval, c.logger)
	}
}
