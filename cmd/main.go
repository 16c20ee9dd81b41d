package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"

	"github.com/angeloszaimis/llm-starter/config"
	"github.com/angeloszaimis/llm-starter/internal/httpserver"
	"github.com/angeloszaimis/llm-starter/pkg/logger"
)

func main() {
	kingpinApp := kingpin.New("llm-starter", "LLM text processing service")
	configFile := kingpinApp.Flag("config", "Path to YAML configuration file").String()
	envFile := kingpinApp.Flag("env-file", "Path to .env file (default .env when present)").String()
	address := kingpinApp.Flag("address", "HTTP listen address, e.g. :8000").String()

	kingpin.MustParse(kingpinApp.Parse(os.Args[1:]))

	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: *configFile,
		EnvFile:    *envFile,
		Address:    *address,
	})
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	env := resolveEnvironment(cfg, newDetector())
	log := logger.New(cfg.Logging.Level, cfg.Logging.AddSource, string(env))

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialise service", slog.Any("err", err))
		os.Exit(1)
	}
	defer a.close()

	a.start(ctx)

	srv, err := httpserver.New(cfg.Server.Address, a.handler, httpserver.Options{
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)

	go func() {
		log.Info("Listening", slog.String("address", srv.Addr()))
		srvErrCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting server", slog.Any("err", err))
			a.close()
			os.Exit(1)
		}
	}
}
