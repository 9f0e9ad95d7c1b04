package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"llm_fanout/internal/config"
	"llm_fanout/internal/httpapi"
	"llm_fanout/internal/utils"
)

var logger = utils.NewLogger("server")

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	utils.ConfigureLogging(utils.LoggingOptions{
		Level:    utils.ParseLogLevel(cfg.Logging.Level),
		JSON:     cfg.Logging.JSON,
		FilePath: cfg.Logging.FilePath,
	})
	logger = utils.NewLogger("server")
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		logger.Error("Failed to start", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/", httpapi.NewRouter(a.handler, a.tokens))
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		if err := a.health(r.Context()); err != nil {
			utils.RespondWithError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := ":" + cfg.HTTP.Port
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Fan-out service listening", "addr", addr, "balance_backend", cfg.Billing.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", "error", err)
	}

	// In-flight dispatches have finished; flush the activity log and close stores.
	a.close()
	logger.Info("Server exited")
}
