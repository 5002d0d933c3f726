package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Mindburn-Labs/aliasledger/pkg/audit"
	"github.com/Mindburn-Labs/aliasledger/pkg/config"
	"github.com/Mindburn-Labs/aliasledger/pkg/crypto"
	"github.com/Mindburn-Labs/aliasledger/pkg/database"
	"github.com/Mindburn-Labs/aliasledger/pkg/directory"
	"github.com/Mindburn-Labs/aliasledger/pkg/evidence"
	"github.com/Mindburn-Labs/aliasledger/pkg/interop"
	"github.com/Mindburn-Labs/aliasledger/pkg/ledger"
	"github.com/Mindburn-Labs/aliasledger/pkg/observability"
	"github.com/Mindburn-Labs/aliasledger/pkg/retry"
	"github.com/Mindburn-Labs/aliasledger/pkg/routing"
	"github.com/Mindburn-Labs/aliasledger/pkg/store"
	storeledger "github.com/Mindburn-Labs/aliasledger/pkg/store/ledger"
)

// app is the wired process: stores, services and telemetry.
type app struct {
	cfg       *config.Config
	events    storeledger.Ledger
	registry  directory.Registry
	audits    audit.Store
	index     evidence.Index
	directory *directory.Service
	validator *interop.Validator
	generator *evidence.Generator
	telemetry *observability.Provider
	ping      func(context.Context) error
	closers   []func() error
}

func setupLogging(cfg *config.Config, w io.Writer) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.LogFormat, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h).With("service", "aliasledger", "env", cfg.Environment))
}

// loadConfig reads and validates the environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newApp wires every component. auditOut receives the AUDIT lines.
func newApp(ctx context.Context, cfg *config.Config, auditOut io.Writer) (*app, error) {
	a := &app{cfg: cfg, ping: func(context.Context) error { return nil }}
	if err := a.wire(ctx, auditOut); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, auditOut io.Writer) (err error) {
	cfg := a.cfg

	a.telemetry, err = observability.New(ctx, &observability.Config{
		ServiceName:    "aliasledger",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTELEnabled,
		Insecure:       cfg.OTELInsecure,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	if err := a.openStores(ctx); err != nil {
		return err
	}

	routes := routing.Default()
	if cfg.RoutingTablePath != "" {
		if routes, err = routing.LoadTable(cfg.RoutingTablePath); err != nil {
			return err
		}
	}

	writer := ledger.NewWriter(a.events).WithPolicy(
		retry.PolicyFromDurations("chain-append", cfg.AppendMaxAttempts, cfg.AppendBaseDelay, cfg.AppendMaxDelay))

	svc, err := directory.NewService(a.registry, writer, routes, cfg.Pepper)
	if err != nil {
		return err
	}
	a.directory = svc.WithTracker(a.telemetry)

	recorder := audit.NewRecorder(a.audits, audit.NewLoggerWithWriter(auditOut))
	a.validator = interop.NewValidator(a.registry, recorder, writer).
		WithRateLimit(cfg.InteropRPS, cfg.InteropBurst).
		WithTracker(a.telemetry)

	keyPEM, err := cfg.PrivateKeyPEM()
	if err != nil {
		return err
	}
	signer, err := crypto.NewECDSASignerFromPEM(keyPEM)
	if err != nil {
		return err
	}
	gen, err := evidence.NewGenerator(a.events, signer, cfg.Pepper)
	if err != nil {
		return err
	}
	a.generator = gen.WithIssuer(cfg.WORMVersion, cfg.WORMIssuer).WithTracker(a.telemetry)
	return nil
}

func (a *app) openStores(ctx context.Context) error {
	if a.cfg.LedgerBackend == config.BackendMemory {
		a.events = storeledger.NewMemoryLedger()
		a.registry = store.NewMemoryRegistry()
		a.audits = store.NewMemoryInteropStore()
		a.index = evidence.NewMemoryIndex()
		return nil
	}

	db, dialect, err := database.Open(ctx, database.Options{DatabaseURL: a.cfg.DatabaseURL, DataDir: a.cfg.DataDir})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, db.Close)
	a.ping = db.PingContext

	registry := store.NewSQLRegistry(db, dialect)
	audits := store.NewSQLInteropStore(db, dialect)
	index := evidence.NewSQLIndex(db, dialect)
	schemas := []struct {
		name   string
		create func(context.Context) error
	}{
		{"registry", registry.Init},
		{"interop audit", audits.Init},
		{"evidence index", index.Init},
	}
	for _, sc := range schemas {
		if err := sc.create(ctx); err != nil {
			return fmt.Errorf("init %s schema: %w", sc.name, err)
		}
	}
	a.registry, a.audits, a.index = registry, audits, index

	if a.cfg.LedgerBackend == config.BackendRedis {
		rl := storeledger.NewRedisLedger(a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB)
		a.closers = append(a.closers, rl.Close)
		if err := rl.Ping(ctx); err != nil {
			return fmt.Errorf("connect redis ledger: %w", err)
		}
		dbPing := a.ping
		a.ping = func(ctx context.Context) error {
			if err := dbPing(ctx); err != nil {
				return err
			}
			return rl.Ping(ctx)
		}
		a.events = rl
		return nil
	}

	sl := storeledger.NewSQLLedger(db, dialect)
	if err := sl.Init(ctx); err != nil {
		return fmt.Errorf("init ledger schema: %w", err)
	}
	a.events = sl
	return nil
}

// Close releases stores and flushes telemetry.
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Default().WarnContext(ctx, "close failed", "error", err)
		}
	}
	a.closers = nil
	if a.telemetry != nil {
		_ = a.telemetry.Shutdown(ctx)
	}
}
