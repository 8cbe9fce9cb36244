// Package authgate validates gateway credentials into a uniform Context.
// Both schemes (dashboard session id, long-lived bearer token) are backed by
// bounded TTL caches with synchronous revocation and a periodic sweep.
package authgate

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"time"

	"github.com/relayforge/relayforge/internal/collection"
	"github.com/relayforge/relayforge/store"
)

// AuthType discriminates which credential scheme produced a Context.
type AuthType string

const (
	AuthTypeSession AuthType = "session"
	AuthTypeToken   AuthType = "token"
)

const sessionIDLength = 36

// slugPattern is the shape of user URL slugs, e.g. "happy-dolphin-42".
var slugPattern = regexp.MustCompile(`^[a-z]+-[a-z]+-[0-9]+$`)

// Context is the uniform outcome of credential validation. Built per request,
// discarded after; Credits is a snapshot taken at validation time.
type Context struct {
	UserID     string
	Credits    int64
	AuthType   AuthType
	Identifier string
}

// Store is the subset of the persistence contract the gate reads.
type Store interface {
	Session(ctx context.Context, id string) (*store.Session, error)
	TokenByValue(ctx context.Context, value string) (*store.Token, error)
	User(ctx context.Context, id string) (*store.User, error)
}

type tokenEntry struct {
	authContext Context
	slug        string
}

// Gate owns the two credential caches. Defaults: 5 minute TTL, 10k entries,
// insertion-order eviction.
type Gate struct {
	store    Store
	sessions *collection.TTLCache[string, Context]
	tokens   *collection.TTLCache[string, tokenEntry]
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures the gate.
type Option func(g *options)

type options struct {
	ttl      time.Duration
	capacity int
	logger   *slog.Logger
	now      func() time.Time
}

// WithTTL overrides the cache entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithCapacity overrides the per-cache entry bound.
func WithCapacity(capacity int) Option {
	return func(o *options) {
		o.capacity = capacity
	}
}

// WithLogger sets the gate logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock overrides the clock; intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New creates a gate over the given store.
func New(backing Store, opts ...Option) *Gate {
	o := &options{
		ttl:      5 * time.Minute,
		capacity: 10000,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	g := &Gate{
		store:    backing,
		sessions: collection.NewTTLCache[string, Context](o.capacity, o.ttl),
		tokens:   collection.NewTTLCache[string, tokenEntry](o.capacity, o.ttl),
		logger:   o.logger,
		now:      o.now,
	}
	g.sessions.SetNow(o.now)
	g.tokens.SetNow(o.now)
	return g
}

// ValidateSession resolves a 36-character opaque session id into a Context.
// A cache hit within TTL skips the store entirely.
func (g *Gate) ValidateSession(ctx context.Context, sessionID string) (*Context, error) {
	if len(sessionID) != sessionIDLength {
		return nil, ErrInvalidCredential
	}
	if cached, ok := g.sessions.Get(sessionID); ok {
		return &cached, nil
	}
	session, err := g.store.Session(ctx, sessionID)
	if err != nil {
		g.sessions.Invalidate(sessionID)
		if !errors.Is(err, store.ErrNotFound) {
			g.logger.Error("session lookup failed, failing closed", "error", err)
		}
		return nil, ErrInvalidCredential
	}
	if g.now().After(session.ExpiresAt) {
		g.sessions.Invalidate(sessionID)
		return nil, ErrInvalidCredential
	}
	authContext := Context{
		UserID:     session.UserID,
		Credits:    session.Credits,
		AuthType:   AuthTypeSession,
		Identifier: session.ID,
	}
	g.sessions.Put(sessionID, authContext)
	return &authContext, nil
}

// ValidateToken resolves a bearer token into a Context and, when slug is
// non-empty, binds the token owner to the URL path slug. The slug comparison
// runs on every request, cached or not, so a token can never be replayed
// against another user's URL.
func (g *Gate) ValidateToken(ctx context.Context, tokenValue, slug string) (*Context, error) {
	if tokenValue == "" {
		return nil, ErrInvalidCredential
	}
	if slug != "" && !slugPattern.MatchString(slug) {
		return nil, ErrSlugMismatch
	}
	if cached, ok := g.tokens.Get(tokenValue); ok {
		if slug != "" && cached.slug != slug {
			return nil, ErrSlugMismatch
		}
		authContext := cached.authContext
		return &authContext, nil
	}
	token, err := g.store.TokenByValue(ctx, tokenValue)
	if err != nil {
		g.tokens.Invalidate(tokenValue)
		if !errors.Is(err, store.ErrNotFound) {
			g.logger.Error("token lookup failed, failing closed", "error", err)
		}
		return nil, ErrInvalidCredential
	}
	user, err := g.store.User(ctx, token.UserID)
	if err != nil {
		g.tokens.Invalidate(tokenValue)
		if !errors.Is(err, store.ErrNotFound) {
			g.logger.Error("user lookup failed, failing closed", "error", err)
		}
		return nil, ErrInvalidCredential
	}
	entry := tokenEntry{
		authContext: Context{
			UserID:     user.ID,
			Credits:    user.Credits,
			AuthType:   AuthTypeToken,
			Identifier: token.ID,
		},
		slug: user.Slug,
	}
	g.tokens.Put(tokenValue, entry)
	if slug != "" && entry.slug != slug {
		return nil, ErrSlugMismatch
	}
	authContext := entry.authContext
	return &authContext, nil
}

// RevokeToken synchronously evicts a token's cache entry: the next request
// carrying it re-validates against the store and fails.
func (g *Gate) RevokeToken(tokenValue string) {
	g.tokens.Invalidate(tokenValue)
}

// RevokeSession synchronously evicts a session's cache entry.
func (g *Gate) RevokeSession(sessionID string) {
	g.sessions.Invalidate(sessionID)
}

// StartSweeper runs a periodic full-cache sweep until ctx is done. It is a
// safety net independent of individual invalidations.
func (g *Gate) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				dropped := g.sessions.Sweep() + g.tokens.Sweep()
				if dropped > 0 {
					g.logger.Debug("swept expired credential cache entries", "dropped", dropped)
				}
			}
		}
	}()
}
