package main

import (
	"net/http"

	"github.com/angeloszaimis/llm-starter/config"
	"github.com/angeloszaimis/llm-starter/internal/api"
)

func setupRouter(h *api.Handler, cfg *config.Config) (http.Handler, error) {
	rps, burst := cfg.RateLimit.RPS, cfg.RateLimit.Burst
	if !cfg.RateLimit.Enabled {
		rps, burst = 0, 0
	}

	return api.NewRouter(h,
		api.WithCORSOrigins(cfg.Server.CORSOrigins...),
		api.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		api.WithRateLimit(rps, burst),
		api.WithTrustedProxies(cfg.Server.TrustedProxies...),
	)
}
