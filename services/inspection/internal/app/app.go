package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"manutai/internal/usertoken"
	"manutai/internal/util"
	"manutai/pkg/auth"
	"manutai/pkg/inspection"
	"manutai/pkg/storage"
	"manutai/pkg/store"
)

// Config holds runtime dependencies for the core application.
type Config struct {
	Store     store.Store
	Generator *inspection.Generator
	Tokens    *usertoken.Manager
	// Archive is optional; PDF archiving is disabled when nil.
	Archive *storage.Archive
	// Location renders report dates. UTC when nil.
	Location      *time.Location
	QuestionDelay time.Duration
	// SessionIdleTimeout drops live sessions nobody touched for this long.
	// DefaultSessionIdleTimeout when zero.
	SessionIdleTimeout time.Duration
	Now                func() time.Time
}

// DefaultSessionIdleTimeout is used when Config.SessionIdleTimeout is zero.
const DefaultSessionIdleTimeout = 2 * time.Hour

// App wires storage, the inspection flow and report exports.
type App struct {
	store    store.Store
	gen      *inspection.Generator
	tokens   *usertoken.Manager
	archive  *storage.Archive
	location *time.Location
	delay    time.Duration
	idle     time.Duration
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*liveSession
}

// New validates cfg and seeds the initial administrator when no user exists.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token manager required")
	}
	gen := cfg.Generator
	if gen == nil {
		gen = inspection.NewGenerator(nil)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	idle := cfg.SessionIdleTimeout
	if idle <= 0 {
		idle = DefaultSessionIdleTimeout
	}
	a := &App{
		store:    cfg.Store,
		gen:      gen,
		tokens:   cfg.Tokens,
		archive:  cfg.Archive,
		location: loc,
		delay:    cfg.QuestionDelay,
		idle:     idle,
		now:      now,
		sessions: make(map[string]*liveSession),
	}
	if err := a.seedAdmin(ctx); err != nil {
		return nil, err
	}
	if gen.Degraded() {
		slog.Warn("generation model not configured; fallback questions and summaries will be used")
	}
	return a, nil
}

func (a *App) seedAdmin(ctx context.Context) error {
	hash, err := auth.HashPassword(store.SeedAdminPassword)
	if err != nil {
		return fmt.Errorf("hash seed password: %w", err)
	}
	seeded, err := a.store.SeedInitialAdmin(ctx, store.SeedAdmin(hash))
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if seeded {
		util.LoggerFromContext(ctx).Info("seeded initial administrator", "email", store.SeedAdminEmail)
	}
	return nil
}
