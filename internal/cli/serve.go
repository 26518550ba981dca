package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gonkalabs/opendeid/internal/api"
	"github.com/gonkalabs/opendeid/internal/catalog"
	"github.com/gonkalabs/opendeid/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web console and JSON API",
	Long: `Run the web console and its JSON API.

Listens on PORT (default 8080) and talks to the anonymization service at
ANONYMIZER_URL. Preferences are kept in the store selected by
STORAGE_BACKEND.

Examples:
  opendeid serve
  PORT=9000 STORAGE_BACKEND=memory opendeid serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	sess := session.New(cmd.Context(), catalog.Default(), kv, client)

	handler := api.New(sess, cfg.MetricsEnabled)
	mux := http.NewServeMux()
	handler.Register(mux)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.Instrument(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.AnonymizerTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)

		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()

		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	slog.Info("starting opendeid",
		"addr", cfg.ListenAddr,
		"anonymizer", client.URL(),
		"storage", cfg.StorageBackend,
		"metrics", cfg.MetricsEnabled,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
