package remotefake

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-listings-client/remote"
	"github.com/jrsteele09/go-listings-client/sessions"
	"github.com/jrsteele09/go-listings-client/users"
)

var _ remote.Store = (*Backend)(nil)

// Op describes a backend call, passed to the installed Hook.
type Op struct {
	Name       string // read, insert, update, remove, get_session, sign_in, sign_out
	Collection string
	ID         string
}

// Hook runs before every call. A non-nil error fails the call. Hooks may
// block, and should honour ctx when they do.
type Hook func(ctx context.Context, op Op) error

type table struct {
	order []string
	rows  map[string]remote.Resource
}

type account struct {
	userID       string
	passwordHash string
}

type sessionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// Backend is an in-memory implementation of remote.Store with a single signed-in client.
type Backend struct {
	tables     map[string]*table
	accounts   map[string]account // email to account
	secret     []byte
	token      string
	sessionTTL time.Duration
	nowFunc    func() time.Time
	hook       Hook
	listeners  map[int]func(remote.AuthEvent)
	nextID     int
	lock       sync.RWMutex
}

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithNowFunc sets the clock used for timestamps and token expiry.
func WithNowFunc(now func() time.Time) BackendOption {
	return func(b *Backend) {
		b.nowFunc = now
	}
}

// WithSessionTTL sets the lifetime of issued sessions.
func WithSessionTTL(ttl time.Duration) BackendOption {
	return func(b *Backend) {
		b.sessionTTL = ttl
	}
}

// NewBackend returns an empty backend.
func NewBackend(options ...BackendOption) *Backend {
	b := &Backend{
		tables:     make(map[string]*table),
		accounts:   make(map[string]account),
		secret:     []byte(uuid.New().String()),
		sessionTTL: time.Hour,
		nowFunc:    time.Now,
		listeners:  make(map[int]func(remote.AuthEvent)),
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// SetHook installs hook for subsequent calls; nil removes it.
func (b *Backend) SetHook(hook Hook) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.hook = hook
}

func (b *Backend) runHook(ctx context.Context, op Op) error {
	b.lock.RLock()
	hook := b.hook
	b.lock.RUnlock()
	if hook == nil {
		return ctx.Err()
	}
	return hook(ctx, op)
}

// AddAccount registers a user with password and stores their profile row.
func (b *Backend) AddAccount(profile users.Profile, password string) error {
	if profile.ID == "" {
		profile.ID = uuid.New().String()
	}
	hash, err := users.HashPassword(password)
	if err != nil {
		return err
	}
	fields, err := profile.ToFields()
	if err != nil {
		return err
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	b.accounts[profile.Email] = account{userID: profile.ID, passwordHash: hash}
	b.put(remote.Profiles, remote.Resource{ID: profile.ID, Fields: fields})
	return nil
}

// Seed stores rows without running hooks or stamping timestamps.
func (b *Backend) Seed(collection string, rows ...remote.Resource) {
	b.lock.Lock()
	defer b.lock.Unlock()
	for _, r := range rows {
		b.put(collection, remote.Resource{ID: r.ID, Fields: r.Fields.Clone()})
	}
}

// Rows returns a copy of every row in collection, in insertion order.
func (b *Backend) Rows(collection string) []remote.Resource {
	b.lock.RLock()
	defer b.lock.RUnlock()
	t, ok := b.tables[collection]
	if !ok {
		return nil
	}
	out := make([]remote.Resource, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.rows[id].Clone())
	}
	return out
}

func (b *Backend) put(collection string, r remote.Resource) {
	t, ok := b.tables[collection]
	if !ok {
		t = &table{rows: make(map[string]remote.Resource)}
		b.tables[collection] = t
	}
	if _, exists := t.rows[r.ID]; !exists {
		t.order = append(t.order, r.ID)
	}
	if r.Fields == nil {
		r.Fields = remote.Fields{}
	}
	r.Fields["id"] = r.ID
	t.rows[r.ID] = r
}

func (b *Backend) timestamp() string {
	return b.nowFunc().UTC().Format(time.RFC3339)
}

func (b *Backend) Read(ctx context.Context, collection string, filter remote.Filter) ([]remote.Resource, error) {
	if err := b.runHook(ctx, Op{Name: "read", Collection: collection}); err != nil {
		return nil, err
	}
	b.lock.RLock()
	defer b.lock.RUnlock()

	out := make([]remote.Resource, 0)
	t, ok := b.tables[collection]
	if !ok {
		return out, nil
	}
	for _, id := range t.order {
		row := t.rows[id]
		if filter.Matches(row.ID, row.Fields) {
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

func (b *Backend) Insert(ctx context.Context, collection string, resource remote.Resource) (remote.Resource, error) {
	if err := b.runHook(ctx, Op{Name: "insert", Collection: collection, ID: resource.ID}); err != nil {
		return remote.Resource{}, err
	}
	b.lock.Lock()
	defer b.lock.Unlock()

	if resource.ID == "" {
		resource.ID = uuid.New().String()
	}
	if t, ok := b.tables[collection]; ok {
		if _, exists := t.rows[resource.ID]; exists {
			return remote.Resource{}, &remote.ConflictError{Collection: collection, ID: resource.ID, Reason: "duplicate id"}
		}
	}
	row := remote.Resource{ID: resource.ID, Fields: resource.Fields.Clone()}
	if row.Fields == nil {
		row.Fields = remote.Fields{}
	}
	row.Fields["created_at"] = b.timestamp()
	row.Fields["updated_at"] = row.Fields["created_at"]
	b.put(collection, row)
	return row.Clone(), nil
}

func (b *Backend) Update(ctx context.Context, collection, id string, patch remote.Fields) (remote.Resource, error) {
	if err := b.runHook(ctx, Op{Name: "update", Collection: collection, ID: id}); err != nil {
		return remote.Resource{}, err
	}
	b.lock.Lock()
	defer b.lock.Unlock()

	t, ok := b.tables[collection]
	if !ok {
		return remote.Resource{}, &remote.ConflictError{Collection: collection, ID: id, Reason: "not found"}
	}
	row, ok := t.rows[id]
	if !ok {
		return remote.Resource{}, &remote.ConflictError{Collection: collection, ID: id, Reason: "not found"}
	}
	row = row.Clone()
	for k, v := range patch.Clone() {
		if k == "id" {
			continue
		}
		row.Fields[k] = v
	}
	row.Fields["updated_at"] = b.timestamp()
	t.rows[id] = row
	return row.Clone(), nil
}

func (b *Backend) Remove(ctx context.Context, collection, id string) error {
	if err := b.runHook(ctx, Op{Name: "remove", Collection: collection, ID: id}); err != nil {
		return err
	}
	b.lock.Lock()
	defer b.lock.Unlock()

	t, ok := b.tables[collection]
	if !ok {
		return &remote.ConflictError{Collection: collection, ID: id, Reason: "not found"}
	}
	if _, ok := t.rows[id]; !ok {
		return &remote.ConflictError{Collection: collection, ID: id, Reason: "not found"}
	}
	delete(t.rows, id)
	for i, rowID := range t.order {
		if rowID == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

func (b *Backend) GetSession(ctx context.Context) (*sessions.Session, error) {
	if err := b.runHook(ctx, Op{Name: "get_session"}); err != nil {
		return nil, err
	}
	b.lock.RLock()
	token := b.token
	b.lock.RUnlock()

	if token == "" {
		return nil, nil
	}
	return b.parseToken(token)
}

func (b *Backend) SignInWithPassword(ctx context.Context, credentials remote.Credentials) (*sessions.Session, error) {
	if err := b.runHook(ctx, Op{Name: "sign_in"}); err != nil {
		return nil, err
	}

	b.lock.Lock()
	acc, ok := b.accounts[credentials.Email]
	if !ok || !users.CheckPasswordHash(credentials.Password, acc.passwordHash) {
		b.lock.Unlock()
		return nil, &remote.AuthError{Reason: "invalid credentials"}
	}
	token, err := b.issueToken(acc.userID)
	if err != nil {
		b.lock.Unlock()
		return nil, err
	}
	b.token = token
	b.lock.Unlock()

	session, err := b.parseToken(token)
	if err != nil {
		return nil, err
	}
	b.broadcast(remote.AuthEvent{Type: remote.SignedIn, Session: session})
	return session, nil
}

func (b *Backend) SignOut(ctx context.Context) error {
	if err := b.runHook(ctx, Op{Name: "sign_out"}); err != nil {
		return err
	}
	b.lock.Lock()
	b.token = ""
	b.lock.Unlock()

	b.broadcast(remote.AuthEvent{Type: remote.SignedOut})
	return nil
}

// RefreshSession reissues the current session's token, as a background token refresh would.
func (b *Backend) RefreshSession() (*sessions.Session, error) {
	b.lock.Lock()
	if b.token == "" {
		b.lock.Unlock()
		return nil, &remote.AuthError{Reason: "no session"}
	}
	current, err := b.parseToken(b.token)
	if err != nil {
		b.lock.Unlock()
		return nil, err
	}
	token, err := b.issueToken(current.UserID)
	if err != nil {
		b.lock.Unlock()
		return nil, err
	}
	b.token = token
	b.lock.Unlock()

	session, err := b.parseToken(token)
	if err != nil {
		return nil, err
	}
	b.broadcast(remote.AuthEvent{Type: remote.TokenRefreshed, Session: session})
	return session, nil
}

// RevokeSession drops the session server side without notifying listeners,
// as an expiry or an admin revocation would.
func (b *Backend) RevokeSession() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.token = ""
}

func (b *Backend) OnAuthStateChange(listener func(remote.AuthEvent)) func() {
	b.lock.Lock()
	defer b.lock.Unlock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = listener

	var once sync.Once
	return func() {
		once.Do(func() {
			b.lock.Lock()
			defer b.lock.Unlock()
			delete(b.listeners, id)
		})
	}
}

// ListenerCount returns the number of registered auth listeners.
func (b *Backend) ListenerCount() int {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return len(b.listeners)
}

// broadcast delivers event to every listener, in registration order, on the calling goroutine.
func (b *Backend) broadcast(event remote.AuthEvent) {
	b.lock.RLock()
	ids := make([]int, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]func(remote.AuthEvent), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, b.listeners[id])
	}
	b.lock.RUnlock()

	for _, l := range listeners {
		l(event)
	}
}

func (b *Backend) issueToken(userID string) (string, error) {
	now := b.nowFunc()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(b.sessionTTL)),
			ID:        uuid.New().String(),
		},
		SessionID: uuid.New().String(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
}

func (b *Backend) parseToken(token string) (*sessions.Session, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return b.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(b.nowFunc))
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, &remote.AuthError{Reason: "session expired"}
	}
	if err != nil {
		return nil, &remote.AuthError{Reason: "invalid session token"}
	}
	return &sessions.Session{
		ID:        claims.SessionID,
		UserID:    claims.Subject,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
