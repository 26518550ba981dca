// Package cli provides the command-line interface for opendeid.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gonkalabs/opendeid/internal/config"
	"github.com/gonkalabs/opendeid/internal/signer"
	"github.com/gonkalabs/opendeid/internal/storage"
	"github.com/gonkalabs/opendeid/internal/upstream"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	cfg      *config.Cfg
	kv       storage.KV
	closeLog func() error
)

var rootCmd = &cobra.Command{
	Use:   "opendeid",
	Short: "De-identify documents with an external anonymization service",
	Long: `opendeid sends documents to an anonymization service, shows what it
found and re-renders the document with the findings you keep replaced,
redacted, masked, hashed, encrypted or highlighted.

Run "opendeid serve" for the web console, or "opendeid anonymize" to
process a file from the terminal. Settings and presets are shared between
the two through the preference store.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip the store for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}
		var logger *slog.Logger
		logger, closeLog = config.SetupLogger(cfg.LogFile, cfg.LogLevel)
		slog.SetDefault(logger)

		var err error
		kv, err = storage.Open(cmd.Context(), storage.Options{
			Backend:     cfg.StorageBackend,
			DSN:         cfg.StorageDSN,
			RedisURL:    cfg.RedisURL,
			RedisPrefix: cfg.RedisPrefix,
		})
		if err != nil {
			return fmt.Errorf("open preference store: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if kv != nil {
			if err := kv.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close preference store: %v\n", err)
			}
			kv = nil
		}
		if closeLog != nil {
			_ = closeLog()
			closeLog = nil
		}
	},
}

// newClient builds the anonymization service client from cfg.
func newClient() (*upstream.Client, error) {
	var opts []upstream.Option
	if cfg.SigningKey != "" {
		s, err := signer.New(cfg.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("signing key: %w", err)
		}
		slog.Info("requests will be signed", "address", s.Address())
		opts = append(opts, upstream.WithSigner(s))
	}
	return upstream.New(cfg.AnonymizerURL, cfg.AnonymizerTimeout, opts...), nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(anonymizeCmd)
	rootCmd.AddCommand(presetsCmd)
	rootCmd.AddCommand(versionCmd)
}
