package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/angeloszaimis/llm-starter/config"
	"github.com/angeloszaimis/llm-starter/internal/api"
	"github.com/angeloszaimis/llm-starter/internal/auth"
	"github.com/angeloszaimis/llm-starter/internal/cache"
	"github.com/angeloszaimis/llm-starter/internal/environment"
	"github.com/angeloszaimis/llm-starter/internal/health"
	"github.com/angeloszaimis/llm-starter/internal/llm"
	"github.com/angeloszaimis/llm-starter/internal/metrics"
	"github.com/angeloszaimis/llm-starter/internal/resilience"
	"github.com/angeloszaimis/llm-starter/internal/textprocessor"
)

// app holds every long-lived component.
type app struct {
	cfg          *config.Config
	log          *slog.Logger
	detector     *environment.Detector
	environment  environment.Environment
	auth         *auth.APIKeyAuth
	cache        *cache.FallbackCache
	orchestrator *resilience.Orchestrator
	llm          *llm.HTTPClient
	collector    *metrics.Collector
	checker      *health.Checker
	monitor      *health.Monitor
	handler      http.Handler
}

func newDetector() *environment.Detector {
	return environment.NewDetector()
}

// resolveEnvironment prefers the configured environment over detection.
func resolveEnvironment(cfg *config.Config, detector *environment.Detector) environment.Environment {
	if cfg.Server.Environment != "" {
		return environment.Parse(cfg.Server.Environment)
	}
	return detector.Detect(environment.ContextDefault).Environment
}

// securityEnvironment is the environment auth rules are enforced for.
// ENFORCE_AUTH upgrades it to production.
func securityEnvironment(cfg *config.Config, detector *environment.Detector) environment.Environment {
	info := detector.Detect(environment.ContextSecurityEnforcement)
	if info.IsProduction() {
		return environment.Production
	}
	return resolveEnvironment(cfg, detector)
}

// buildPreset applies configured per-operation strategies on top of the
// named preset.
func buildPreset(cfg config.ResilienceConfig) (resilience.Preset, error) {
	preset, err := resilience.LoadPreset(cfg.Preset)
	if err != nil {
		return resilience.Preset{}, err
	}
	for op, name := range cfg.Operations {
		strategy, err := resilience.ParseStrategy(name)
		if err != nil {
			return resilience.Preset{}, fmt.Errorf("operation %s: %w", op, err)
		}
		preset.Operations[op] = strategy
	}
	return preset, nil
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, detector: newDetector()}
	a.environment = resolveEnvironment(cfg, a.detector)

	mode, err := auth.ParseMode(cfg.Auth.Mode)
	if err != nil {
		return nil, err
	}
	a.auth, err = auth.NewAPIKeyAuth(auth.Config{
		Mode:                 mode,
		APIKey:               cfg.Auth.APIKey,
		AdditionalKeys:       cfg.Auth.AdditionalKeys,
		EnableUserTracking:   cfg.Auth.EnableUserTracking,
		EnableRequestLogging: cfg.Auth.EnableRequestLogging,
		JWTSecret:            cfg.Auth.JWTSecret,
		Environment:          securityEnvironment(cfg, a.detector),
	}, log, auth.WithErrorHandler(api.AuthErrorHandler))
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	a.collector = metrics.NewCollector(cfg.Metrics.BufferSize, log)

	var textCache cache.Cache
	if cfg.Cache.Enabled {
		a.cache, err = cache.New(ctx, cache.Options{
			RedisURL:             cfg.Cache.RedisURL,
			KeyPrefix:            cfg.Cache.KeyPrefix,
			DefaultTTL:           cfg.Cache.DefaultTTL,
			MemorySize:           cfg.Cache.MemorySize,
			CompressionThreshold: cfg.Cache.CompressionThreshold,
			ConnectTimeout:       cfg.Cache.ConnectTimeout,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		textCache = a.cache
	}

	preset, err := buildPreset(cfg.Resilience)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("resilience: %w", err)
	}
	a.orchestrator, err = resilience.NewOrchestrator(preset, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("resilience: %w", err)
	}

	endpoints := make([]llm.EndpointConfig, 0, len(cfg.LLM.Endpoints))
	for _, ep := range cfg.LLM.Endpoints {
		endpoints = append(endpoints, llm.EndpointConfig{URL: ep.URL, Weight: ep.Weight})
	}
	a.llm, err = llm.NewHTTPClient(llm.Config{
		Endpoints:       endpoints,
		APIKey:          cfg.LLM.APIKey,
		Model:           cfg.LLM.Model,
		Timeout:         cfg.LLM.Timeout,
		Strategy:        cfg.LLM.Strategy,
		RecheckInterval: cfg.LLM.RecheckInterval,
	}, a.collector, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("llm: %w", err)
	}
	if !a.llm.Configured() {
		log.Warn("No LLM API key configured, text processing requests will fail")
	}

	processor := textprocessor.NewService(a.llm, textCache, a.orchestrator, a.collector, log,
		textprocessor.WithDefaultTTL(cfg.Cache.DefaultTTL))

	a.checker = health.NewChecker(health.Config{
		DefaultTimeout: cfg.HealthCheck.Timeout,
		RetryCount:     cfg.HealthCheck.RetryCount,
		Backoff:        cfg.HealthCheck.Backoff,
	}, log)
	if a.cache != nil {
		a.checker.Register("cache", health.CacheCheck(a.cache))
	}
	a.checker.Register("llm", health.LLMCheck(a.llm.Configured(), a.llm.Pool()))
	a.checker.Register("resilience", health.ResilienceCheck(a.orchestrator))
	a.checker.Register("environment", health.EnvironmentCheck(a.detector))
	a.monitor = health.NewMonitor(a.checker, cfg.HealthCheck.Interval, a.collector, log)

	h := api.NewHandler(api.Dependencies{
		Version:      cfg.Server.Version,
		Auth:         a.auth,
		Processor:    processor,
		LLM:          a.llm,
		Cache:        textCache,
		Orchestrator: a.orchestrator,
		Checker:      a.checker,
		Monitor:      a.monitor,
		Collector:    a.collector,
		Detector:     a.detector,
		Logger:       log,
		TokenTTL:     cfg.Auth.TokenTTL,
	})

	a.handler, err = setupRouter(h, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	log.Info("Service initialised",
		slog.String("environment", string(a.environment)),
		slog.String("auth_mode", string(mode)),
		slog.Bool("cache", a.cache != nil),
		slog.String("resilience_preset", preset.Name),
		slog.String("llm_model", a.llm.Model()),
		slog.Int("llm_endpoints", a.llm.Pool().Len()))

	return a, nil
}

// start launches the background loops. They stop when ctx is cancelled.
func (a *app) start(ctx context.Context) {
	a.collector.Start(ctx)

	if a.cache != nil {
		go cache.NewJanitor(a.cache.Memory(), a.cfg.Cache.SweepInterval, a.log).Start(ctx)
	}
	if a.llm.Configured() {
		a.llm.StartProbes(ctx, a.cfg.HealthCheck.ProbeInterval)
	}
	go a.monitor.Run(ctx)
}

func (a *app) close() {
	if a.cache == nil {
		return
	}
	if err := a.cache.Close(); err != nil {
		a.log.Warn("Closing cache failed", slog.Any("err", err))
	}
	a.cache = nil
}
