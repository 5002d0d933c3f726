package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/aliasledger/pkg/artifacts"
	"github.com/Mindburn-Labs/aliasledger/pkg/config"
	"github.com/Mindburn-Labs/aliasledger/pkg/evidence"
	"github.com/spf13/cobra"
)

type healthStatus struct {
	Status   string `json:"status"`
	Backend  string `json:"backend"`
	LiteMode bool   `json:"lite_mode"`
	Version  string `json:"version"`
	Error    string `json:"error,omitempty"`
}

func healthHandler(cfg *config.Config, ping func(context.Context) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		st := healthStatus{Status: "ok", Backend: cfg.LedgerBackend, LiteMode: cfg.LiteMode(), Version: version}
		code := http.StatusOK
		if err := ping(ctx); err != nil {
			st.Status, st.Error = "unavailable", err.Error()
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(st)
	})
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		Short:   "Run the evidence scheduler and the health endpoint",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				return serve(ctx, a)
			})
		},
	}
}

func serve(ctx context.Context, a *app) error {
	logger := slog.Default().With("component", "server")

	worm, err := artifacts.NewStoreFromEnv(ctx)
	if err != nil {
		return err
	}
	scheduler := evidence.NewScheduler(a.generator, evidence.NewArchiver(worm), a.index, a.cfg.EvidenceInterval).
		ForTenant(a.cfg.EvidenceTenant)

	mux := http.NewServeMux()
	mux.Handle("/health", healthHandler(a.cfg, a.ping))
	srv := &http.Server{
		Addr:              a.cfg.HealthAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.InfoContext(ctx, "health endpoint listening", "addr", a.cfg.HealthAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("health server: %w", err)
		}
	}()
	go func() {
		logger.InfoContext(ctx, "evidence scheduler started", "interval", a.cfg.EvidenceInterval)
		errCh <- scheduler.Run(ctx)
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.InfoContext(ctx, "shutdown complete")
	return err
}

func newHealthCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query a running server's health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if url == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				addr := cfg.HealthAddr
				if strings.HasPrefix(addr, ":") {
					addr = "localhost" + addr
				}
				url = "http://" + addr + "/health"
			}
			return checkHealth(cmd.Context(), url, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Health URL (default derived from HEALTH_ADDR)")
	return cmd
}

func checkHealth(ctx context.Context, url string, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("health check failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	_, _ = fmt.Fprintf(w, "%s", body)
	if resp.StatusCode != http.StatusOK {
		return &exitError{code: 1, err: fmt.Errorf("health check returned %s", resp.Status)}
	}
	return nil
}
