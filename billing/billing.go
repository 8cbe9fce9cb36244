// Package billing implements the credit gate around every invocation:
// check before the call, charge only after success, track every attempt.
// Atomicity of the charge lives in the store's conditional decrement; this
// package never does read-modify-write on balances.
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relayforge/relayforge/store"
)

// ServiceUnavailableError marks a service with no active price: such services
// are unavailable, not free.
type ServiceUnavailableError struct {
	Service string
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("service %q has no active pricing", e.Service)
}

// Store is the subset of the persistence contract the gate uses.
type Store interface {
	Pricing(ctx context.Context, service string) (*store.Pricing, error)
	Credits(ctx context.Context, userID string) (int64, error)
	ChargeCredits(ctx context.Context, userID string, amount int64) (bool, error)
	AppendUsage(ctx context.Context, usage *store.Usage) error
}

// Quote is the outcome of a credit check.
type Quote struct {
	Service     string
	Price       int64
	UserCredits int64
	Allowed     bool
}

// ShortBy is how many credits the user is missing; zero when allowed.
func (q *Quote) ShortBy() int64 {
	if q.Allowed {
		return 0
	}
	return q.Price - q.UserCredits
}

// Gate enforces the billing protocol.
type Gate struct {
	store  Store
	logger *slog.Logger
}

// New creates a billing gate.
func New(backing Store, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{store: backing, logger: logger}
}

// CheckCredits is a pure read: it never mutates the balance. Unpriced or
// inactive services yield a ServiceUnavailableError.
func (g *Gate) CheckCredits(ctx context.Context, userID, service string) (*Quote, error) {
	pricing, err := g.store.Pricing(ctx, service)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, &ServiceUnavailableError{Service: service}
		}
		return nil, err
	}
	if !pricing.Active {
		return nil, &ServiceUnavailableError{Service: service}
	}
	credits, err := g.store.Credits(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Quote{
		Service:     service,
		Price:       pricing.Price,
		UserCredits: credits,
		Allowed:     credits >= pricing.Price,
	}, nil
}

// Charge decrements exactly amount, succeeding only if the balance still
// covers it at decrement time. An earlier successful check guarantees nothing
// here: concurrent charges against the same user interleave freely.
func (g *Gate) Charge(ctx context.Context, userID string, amount int64) (bool, error) {
	if amount <= 0 {
		return true, nil
	}
	return g.store.ChargeCredits(ctx, userID, amount)
}

// Track appends one usage record. Best-effort: persistence failures are
// logged and swallowed, never propagated — losing a record must not fail the
// user's request.
func (g *Gate) Track(ctx context.Context, usage *store.Usage) {
	if usage.ID == "" {
		usage.ID = uuid.NewString()
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now()
	}
	if err := g.store.AppendUsage(ctx, usage); err != nil {
		g.logger.Error("failed to record usage",
			"service", usage.Service, "method", usage.Method, "user", usage.UserID, "error", err)
	}
}
