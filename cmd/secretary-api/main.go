package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/PabloGalante/secretary-agent/internal/adapters/http"
	"github.com/PabloGalante/secretary-agent/internal/app/conversation"
	"github.com/PabloGalante/secretary-agent/internal/config"
	"github.com/PabloGalante/secretary-agent/internal/observability"
	"github.com/PabloGalante/secretary-agent/internal/wiring"
)

func main() {
	if err := run(); err != nil {
		observability.Logger().Error("secretary api stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := observability.Configure(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	llmClient, err := wiring.CompletionClient(ctx, cfg)
	if err != nil {
		return err
	}

	store, closeStore, err := wiring.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	verifier, err := wiring.Verifier(cfg)
	if err != nil {
		return err
	}

	opts, closeOpts, err := wiring.ServiceOptions(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeOpts()

	svc := conversation.NewService(llmClient, store, store, opts)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpadapter.NewServer(svc, verifier),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("secretary api listening",
			"port", cfg.Port,
			"mode", cfg.Mode,
			"llm_provider", cfg.LLMProvider,
			"storage", cfg.StorageBackend,
			"auth", cfg.AuthMode,
			"exchange_lock", cfg.ExchangeLock,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
