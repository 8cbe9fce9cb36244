// Package store defines the persistence contract the gateway depends on and
// its SQLite implementation. The gateway never mutates usage records and never
// performs read-modify-write on credits; the conditional decrement is pushed
// down to the store so concurrent charges stay correct across processes.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// User is the account row backing credentials, credits and the URL slug.
type User struct {
	ID      string
	Email   string
	Credits int64
	Slug    string
}

// Session is a dashboard session joined with the owner's live credits.
type Session struct {
	ID        string
	UserID    string
	Credits   int64
	ExpiresAt time.Time
}

// Token is a long-lived opaque bearer credential.
type Token struct {
	ID     string
	Value  string
	UserID string
}

// Pricing is the per-call price of a service; inactive services take no traffic.
type Pricing struct {
	Service string
	Price   int64
	Active  bool
}

// Usage is one append-only billing record per request attempt.
type Usage struct {
	ID         string
	Identifier string
	UserID     string
	Service    string
	Method     string
	Credits    int64
	Success    bool
	CreatedAt  time.Time
}

// Store is the read/write surface the gateway needs. Implementations must make
// ChargeCredits a single conditional decrement: the charge succeeds only when
// the balance covers the amount at decrement time.
type Store interface {
	Session(ctx context.Context, id string) (*Session, error)
	TokenByValue(ctx context.Context, value string) (*Token, error)
	TokenByID(ctx context.Context, id string) (*Token, error)
	DeleteToken(ctx context.Context, id string) error

	User(ctx context.Context, id string) (*User, error)
	LinkedEmails(ctx context.Context, userID string) ([]string, error)
	Credits(ctx context.Context, userID string) (int64, error)

	Pricing(ctx context.Context, service string) (*Pricing, error)
	SetPricing(ctx context.Context, pricing *Pricing) error

	ChargeCredits(ctx context.Context, userID string, amount int64) (bool, error)

	AppendUsage(ctx context.Context, usage *Usage) error
	ListUsage(ctx context.Context, userID string, limit int) ([]*Usage, error)
	LastSuccessfulUse(ctx context.Context, userID, service string) (*time.Time, error)
}
