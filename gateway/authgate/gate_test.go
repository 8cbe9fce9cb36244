package authgate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relayforge/relayforge/store"
)

type fakeStore struct {
	sessions     map[string]*store.Session
	tokens       map[string]*store.Token
	users        map[string]*store.User
	sessionCalls int
	tokenCalls   int
	failReads    bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: map[string]*store.Session{},
		tokens:   map[string]*store.Token{},
		users:    map[string]*store.User{},
	}
}

func (f *fakeStore) Session(_ context.Context, id string) (*store.Session, error) {
	f.sessionCalls++
	if f.failReads {
		return nil, errors.New("store down")
	}
	if session, ok := f.sessions[id]; ok {
		return session, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) TokenByValue(_ context.Context, value string) (*store.Token, error) {
	f.tokenCalls++
	if f.failReads {
		return nil, errors.New("store down")
	}
	if token, ok := f.tokens[value]; ok {
		return token, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) User(_ context.Context, id string) (*store.User, error) {
	if f.failReads {
		return nil, errors.New("store down")
	}
	if user, ok := f.users[id]; ok {
		return user, nil
	}
	return nil, store.ErrNotFound
}

const sessionID = "0123456789abcdef0123456789abcdef0123"

func seededStore() *fakeStore {
	f := newFakeStore()
	f.users["user-1"] = &store.User{ID: "user-1", Email: "u@example.com", Credits: 10, Slug: "happy-dolphin-42"}
	f.sessions[sessionID] = &store.Session{ID: sessionID, UserID: "user-1", Credits: 10, ExpiresAt: time.Now().Add(time.Hour)}
	f.tokens["tok-value"] = &store.Token{ID: "tok-id", Value: "tok-value", UserID: "user-1"}
	return f
}

func TestValidateSession(t *testing.T) {
	f := seededStore()
	gate := New(f)

	authContext, err := gate.ValidateSession(context.Background(), sessionID)
	assert.NoError(t, err)
	assert.Equal(t, "user-1", authContext.UserID)
	assert.Equal(t, int64(10), authContext.Credits)
	assert.Equal(t, AuthTypeSession, authContext.AuthType)
	assert.Equal(t, sessionID, authContext.Identifier)
}

func TestValidateSessionBadLength(t *testing.T) {
	gate := New(seededStore())
	_, err := gate.ValidateSession(context.Background(), "short")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestValidateSessionExpired(t *testing.T) {
	f := seededStore()
	f.sessions[sessionID].ExpiresAt = time.Now().Add(-time.Minute)
	gate := New(f)
	_, err := gate.ValidateSession(context.Background(), sessionID)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestSessionCacheHitSkipsStore(t *testing.T) {
	f := seededStore()
	gate := New(f)

	first, err := gate.ValidateSession(context.Background(), sessionID)
	assert.NoError(t, err)
	second, err := gate.ValidateSession(context.Background(), sessionID)
	assert.NoError(t, err)
	assert.Equal(t, first, second, "cache hit returns an identical context")
	assert.Equal(t, 1, f.sessionCalls)
}

func TestSessionCacheExpiryForcesRevalidation(t *testing.T) {
	f := seededStore()
	current := time.Now()
	gate := New(f, WithClock(func() time.Time { return current }))

	_, err := gate.ValidateSession(context.Background(), sessionID)
	assert.NoError(t, err)
	current = current.Add(6 * time.Minute)

	_, err = gate.ValidateSession(context.Background(), sessionID)
	assert.NoError(t, err)
	assert.Equal(t, 2, f.sessionCalls, "post-TTL validation must round-trip the store")
}

func TestValidateToken(t *testing.T) {
	gate := New(seededStore())

	authContext, err := gate.ValidateToken(context.Background(), "tok-value", "happy-dolphin-42")
	assert.NoError(t, err)
	assert.Equal(t, "user-1", authContext.UserID)
	assert.Equal(t, AuthTypeToken, authContext.AuthType)
	assert.Equal(t, "tok-id", authContext.Identifier, "usage identifier is the token id, never its value")
}

func TestValidateTokenSlugMismatch(t *testing.T) {
	gate := New(seededStore())

	_, err := gate.ValidateToken(context.Background(), "tok-value", "brave-eagle-7")
	assert.ErrorIs(t, err, ErrSlugMismatch)

	// The mismatch must hold on the cached path too.
	_, err = gate.ValidateToken(context.Background(), "tok-value", "happy-dolphin-42")
	assert.NoError(t, err)
	_, err = gate.ValidateToken(context.Background(), "tok-value", "brave-eagle-7")
	assert.ErrorIs(t, err, ErrSlugMismatch)
}

func TestValidateTokenMalformedSlug(t *testing.T) {
	gate := New(seededStore())
	_, err := gate.ValidateToken(context.Background(), "tok-value", "Not_A_Slug")
	assert.ErrorIs(t, err, ErrSlugMismatch)
}

func TestValidateTokenUnknown(t *testing.T) {
	gate := New(seededStore())
	_, err := gate.ValidateToken(context.Background(), "unknown", "happy-dolphin-42")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestRevocationIsImmediate(t *testing.T) {
	f := seededStore()
	gate := New(f)

	_, err := gate.ValidateToken(context.Background(), "tok-value", "")
	assert.NoError(t, err)
	assert.Equal(t, 1, f.tokenCalls)

	// Token deleted from the store and revoked from the cache: even a request
	// arriving inside the TTL window must fail.
	delete(f.tokens, "tok-value")
	gate.RevokeToken("tok-value")

	_, err = gate.ValidateToken(context.Background(), "tok-value", "")
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.Equal(t, 2, f.tokenCalls, "revocation forces a store round-trip")
}

func TestStoreFailureFailsClosed(t *testing.T) {
	f := seededStore()
	f.failReads = true
	gate := New(f)

	_, err := gate.ValidateSession(context.Background(), sessionID)
	assert.ErrorIs(t, err, ErrInvalidCredential)
	_, err = gate.ValidateToken(context.Background(), "tok-value", "")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestCacheCapacityBound(t *testing.T) {
	f := seededStore()
	gate := New(f, WithCapacity(2))

	makeSession := func(suffix string) string {
		id := suffix + strings.Repeat("x", sessionIDLength-len(suffix))
		f.sessions[id] = &store.Session{ID: id, UserID: "user-1", Credits: 10, ExpiresAt: time.Now().Add(time.Hour)}
		return id
	}
	first := makeSession("a-")
	second := makeSession("b-")
	third := makeSession("c-")

	for _, id := range []string{first, second, third} {
		_, err := gate.ValidateSession(context.Background(), id)
		assert.NoError(t, err)
	}
	calls := f.sessionCalls

	// first was the oldest insertion and must have been evicted.
	_, err := gate.ValidateSession(context.Background(), first)
	assert.NoError(t, err)
	assert.Equal(t, calls+1, f.sessionCalls)
}
