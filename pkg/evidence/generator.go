package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/Mindburn-Labs/aliasledger/pkg/config"
	"github.com/Mindburn-Labs/aliasledger/pkg/crypto"
	"github.com/Mindburn-Labs/aliasledger/pkg/observability"
	store "github.com/Mindburn-Labs/aliasledger/pkg/store/ledger"
	"go.opentelemetry.io/otel/attribute"
)

// ErrSignerNotConfigured is returned when no signing key was loaded.
var ErrSignerNotConfigured = errors.New("evidence: signer not configured (fail-closed)")

const (
	DefaultVersion = "1.0"
	DefaultIssuer  = "Alias Chile"
)

// Generator builds bundles from the ledger.
type Generator struct {
	events  store.Reader
	signer  crypto.Signer
	pepper  string
	version string
	issuer  string
	clock   func() time.Time
	tracker observability.Tracker
	logger  *slog.Logger
}

// NewGenerator checks its secrets up front; a generator that cannot sign
// or pseudonymize must not start.
func NewGenerator(events store.Reader, signer crypto.Signer, pepper string) (*Generator, error) {
	if isNil(signer) {
		return nil, ErrSignerNotConfigured
	}
	if err := config.ValidatePepper(pepper); err != nil {
		return nil, err
	}
	return &Generator{
		events:  events,
		signer:  signer,
		pepper:  pepper,
		version: DefaultVersion,
		issuer:  DefaultIssuer,
		clock:   time.Now,
		tracker: observability.NopTracker(),
		logger:  slog.Default().With("component", "evidence"),
	}, nil
}

// isNil also catches a nil pointer stored in the interface.
func isNil(s crypto.Signer) bool {
	if s == nil {
		return true
	}
	v := reflect.ValueOf(s)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// WithIssuer sets the version and issuer stamped on bundles.
func (g *Generator) WithIssuer(version, issuer string) *Generator {
	if version != "" {
		g.version = version
	}
	if issuer != "" {
		g.issuer = issuer
	}
	return g
}

// WithClock overrides clock for testing.
func (g *Generator) WithClock(clock func() time.Time) *Generator {
	g.clock = clock
	return g
}

// WithTracker records spans and RED metrics for each generation.
func (g *Generator) WithTracker(t observability.Tracker) *Generator {
	if t != nil {
		g.tracker = t
	}
	return g
}

// Generate builds and signs the bundle of date's UTC day, optionally
// restricted to one tenant.
func (g *Generator) Generate(ctx context.Context, date time.Time, tenantID string) (bundle *Bundle, err error) {
	period := Period(date)
	ctx, done := g.tracker.TrackOperation(ctx, "evidence.generate", attribute.String("period", period))
	defer func() { done(err) }()

	start := time.Now()
	events, err := g.events.EventsByDate(ctx, date, tenantID)
	if err != nil {
		return nil, fmt.Errorf("read events for %s: %w", period, err)
	}
	items := make([]Item, len(events))
	for i, ev := range events {
		items[i] = NewItem(ev, g.pepper)
	}
	root := RootHash(items)
	g.logger.DebugContext(ctx, "evidence data processed", "period", period, "duration", time.Since(start))

	start = time.Now()
	sig, err := g.signer.Sign(SignedPayload(period, root))
	if err != nil {
		return nil, fmt.Errorf("sign evidence %s: %w", period, err)
	}
	g.logger.DebugContext(ctx, "evidence signed", "period", period, "duration", time.Since(start))

	g.logger.InfoContext(ctx, "evidence generated", "period", period, "events_count", len(items), "root_hash", root)
	return &Bundle{
		Version:          g.version,
		Issuer:           g.issuer,
		IssuedAt:         g.clock().UTC().Format(time.RFC3339Nano),
		Period:           period,
		RootHash:         root,
		HashChain:        items,
		DigitalSignature: sig,
		PublicKey:        g.signer.PublicKeyPEM(),
	}, nil
}
