package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dativo-io/veil/internal/config"
	"github.com/dativo-io/veil/internal/engine"
	"github.com/dativo-io/veil/internal/extract"
	"github.com/dativo-io/veil/internal/review"
	"github.com/dativo-io/veil/internal/rules"
	"github.com/dativo-io/veil/internal/server"
)

// globalRateFactor sizes the global limit relative to the per-caller one.
const globalRateFactor = 10

var (
	servePort        int
	serveCORSOrigins []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Veil HTTP API",
	Long: `Serve exposes detection, redaction, custom rules and review sessions over
HTTP. Set VEIL_API_KEYS (comma-separated key or key:name entries) to require
an API key on every /v1 endpoint.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP server port")
	serveCmd.Flags().StringSliceVar(&serveCORSOrigins, "cors-origin", []string{"*"}, "allowed CORS origins")
	rootCmd.AddCommand(serveCmd)
}

// parseAPIKeys returns a map of key -> caller name from VEIL_API_KEYS
// (comma-separated; each entry key or key:name).
func parseAPIKeys(env string) map[string]string {
	m := make(map[string]string)
	if env == "" {
		return m
	}
	for _, part := range strings.Split(env, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name := "default"
		if idx := strings.Index(part, ":"); idx > 0 {
			if n := strings.TrimSpace(part[idx+1:]); n != "" {
				name = n
			}
			part = strings.TrimSpace(part[:idx])
		}
		m[part] = name
	}
	return m
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKeys()

	eng, err := engine.NewFromFiles(cfg.PatternsFile, cfg.LexiconFile)
	if err != nil {
		return fmt.Errorf("building detection engine: %w", err)
	}
	dispatcher := engine.NewDispatcher(eng,
		engine.WithThreshold(cfg.OffloadThreshold),
		engine.WithTimeout(cfg.OffloadTimeout),
		engine.WithWorkers(cfg.Workers),
	)
	defer dispatcher.Close()

	ruleStore, err := rules.NewStore(cfg.RulesDBPath())
	if err != nil {
		return fmt.Errorf("initializing rules: %w", err)
	}
	defer ruleStore.Close()

	sessionStore, err := review.NewStore(cfg.SessionsDBPath(), cfg.SessionsKey)
	if err != nil {
		return fmt.Errorf("initializing sessions: %w", err)
	}
	defer sessionStore.Close()

	evidenceStore, err := openEvidenceStore(cfg)
	if err != nil {
		return err
	}
	defer evidenceStore.Close()

	janitor, err := review.NewJanitor(sessionStore, cfg.SessionTTL, cfg.PurgeSchedule)
	if err != nil {
		return fmt.Errorf("scheduling session purge: %w", err)
	}
	janitor.RunOnce(ctx)
	janitor.Start()
	defer janitor.Stop()

	apiKeys := parseAPIKeys(os.Getenv("VEIL_API_KEYS"))
	if len(apiKeys) == 0 {
		log.Warn().Msg("VEIL_API_KEYS not set; /v1 endpoints accept unauthenticated requests")
	}

	opts := []server.Option{
		server.WithRuleStore(ruleStore),
		server.WithSessionStore(sessionStore),
		server.WithEvidenceStore(evidenceStore),
		server.WithExtractor(extract.NewExtractor(cfg.MaxDocumentMB)),
		server.WithAPIKeys(apiKeys),
		server.WithCORSOrigins(serveCORSOrigins),
	}
	if cfg.RateLimitRPM > 0 {
		opts = append(opts, server.WithRateLimiter(server.NewRateLimiter(cfg.RateLimitRPM*globalRateFactor, cfg.RateLimitRPM)))
	}
	srv := server.NewServer(dispatcher, opts...)

	addr := fmt.Sprintf(":%d", servePort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Str("data_dir", cfg.DataDir).
		Int("workers", cfg.Workers).
		Int("offload_threshold", cfg.OffloadThreshold).
		Int("purge_entries", janitor.Entries()).
		Bool("auth", len(apiKeys) > 0).
		Msg("veil_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}
