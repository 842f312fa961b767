package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lanki/edge/internal/auth"
	"github.com/lanki/edge/internal/csrf"
	"github.com/lanki/edge/internal/db/bunx"
	"github.com/lanki/edge/internal/proxy"
	"github.com/lanki/edge/internal/ratelimit"
	"github.com/lanki/edge/internal/repository"
	"github.com/lanki/edge/internal/server"
	"github.com/lanki/edge/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the edge gateway",
	Long:  `Starts the HTTP gateway with session, CSRF, authorization and rate limit enforcement in front of the note service.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		shutdownTelemetry, err := telemetry.Init(cmd.Context(), cfg.Observability)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(ctx); err != nil {
				log.Printf("telemetry shutdown: %v", err)
			}
		}()

		// Session store: in-process by default, SQLite or PostgreSQL
		// when a DSN is configured.
		var sessions repository.SessionRepository
		if cfg.DatabaseURL == "" || cfg.DatabaseURL == "memory" {
			log.Printf("Using in-memory session store")
			sessions = repository.NewMemorySessionRepository()
		} else {
			db, err := bunx.NewDB(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer bunx.Close(db)
			if err := bunx.EnsureSchema(cmd.Context(), db); err != nil {
				return fmt.Errorf("failed to prepare session schema: %w", err)
			}
			log.Printf("Connected to %s session store", bunx.DetectDatabaseType(cfg.DatabaseURL))
			sessions = repository.NewBunSessionRepository(db)
		}

		var relyingParty *auth.RelyingParty
		var bearer *auth.BearerVerifier
		if cfg.OIDC.Enabled() {
			relyingParty, err = auth.NewRelyingParty(cmd.Context(), &cfg.OIDC, cfg.BaseURL)
			if err != nil {
				return fmt.Errorf("failed to create relying party: %w", err)
			}
			bearer, err = auth.NewBearerVerifier(&cfg.OIDC)
			if err != nil {
				return fmt.Errorf("failed to create bearer verifier: %w", err)
			}
			log.Printf("OIDC enabled: issuer=%s", cfg.OIDC.Issuer)
		} else {
			log.Printf("OIDC disabled (OIDC_ISSUER not set); login routes not mounted")
		}

		guard, err := csrf.NewGuard(cfg.CSRFKey)
		if err != nil {
			return fmt.Errorf("failed to create csrf guard: %w", err)
		}
		rules, err := auth.NewRouteRules(cfg.RoutePolicyPath)
		if err != nil {
			return fmt.Errorf("failed to load route rules: %w", err)
		}
		limiter, err := ratelimit.New(cfg.RateLimit)
		if err != nil {
			return fmt.Errorf("failed to create rate limiter: %w", err)
		}
		metrics, err := telemetry.NewGatewayMetrics()
		if err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
		notes, err := proxy.NewNotes(cfg.Notes, metrics)
		if err != nil {
			return fmt.Errorf("failed to create note service proxy: %w", err)
		}

		oidcEnabled := cfg.OIDC.Enabled()
		healthHandler := func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok","oidc_enabled":%t}`, oidcEnabled)
		}

		handler, err := server.NewH2CHandler(server.RouterOptions{
			Cfg:           cfg,
			Sessions:      sessions,
			RelyingParty:  relyingParty,
			Bearer:        bearer,
			Guard:         guard,
			Rules:         rules,
			Limiter:       limiter,
			Metrics:       metrics,
			NotesProxy:    notes,
			HealthHandler: healthHandler,
		})
		if err != nil {
			return fmt.Errorf("failed to assemble router: %w", err)
		}

		// Expired sessions are rejected lazily on lookup; the sweeper
		// just keeps the store from growing without bound.
		sweepCtx, cancelSweep := context.WithCancel(cmd.Context())
		defer cancelSweep()
		go func() {
			ticker := time.NewTicker(cfg.Session.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					deleted, err := sessions.DeleteExpired(sweepCtx)
					if err != nil {
						log.Printf("session sweep failed: %v", err)
					} else if deleted > 0 {
						log.Printf("session sweep removed %d expired sessions", deleted)
					}
				case <-sweepCtx.Done():
					return
				}
			}
		}()

		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			log.Printf("Starting gateway on %s (base URL %s)", cfg.ServerAddr, cfg.BaseURL)
			log.Printf("Proxying note service at %s", cfg.Notes.URL)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			log.Printf("Received signal %v, shutting down gracefully", sig)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				srv.Close()
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}

			log.Printf("Gateway stopped")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
