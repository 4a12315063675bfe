package httpstore_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-listings-client/remote"
	"github.com/jrsteele09/go-listings-client/remote/httpstore"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://auth.listings.test"
	testAudience = "authenticated"
	testAPIKey   = "anon-key"
	testEmail    = "ann@example.com"
	testPassword = "Password123"
	testUserID   = "u1"
)

// backend is a small stand-in for the REST and auth endpoints.
type backend struct {
	t         *testing.T
	secret    []byte
	rsaKey    *rsa.PrivateKey
	expiresIn int
	failReads bool

	tokens   map[string]string // access token to user id
	refresh  map[string]string // refresh token to user id
	tables   map[string][]map[string]any
	apiKeys  []string
	bearer   []string
	lock     sync.Mutex
}

func newBackend(t *testing.T) *backend {
	return &backend{
		t:         t,
		secret:    []byte("test-secret"),
		expiresIn: 3600,
		tokens:    make(map[string]string),
		refresh:   make(map[string]string),
		tables:    make(map[string][]map[string]any),
	}
}

func (b *backend) issue(userID string) (string, string) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":        userID,
		"iss":        testIssuer,
		"aud":        testAudience,
		"iat":        now.Unix(),
		"exp":        now.Add(time.Hour).Unix(),
		"session_id": uuid.New().String(),
	}
	var (
		token string
		err   error
	)
	if b.rsaKey != nil {
		token, err = jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(b.rsaKey)
	} else {
		token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	}
	require.NoError(b.t, err)
	refresh := uuid.New().String()
	b.tokens[token] = userID
	b.refresh[refresh] = userID
	return token, refresh
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (b *backend) user(r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	id, ok := b.tokens[token]
	return id, ok
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.lock.Lock()
	defer b.lock.Unlock()

	switch {
	case r.URL.Path == "/auth/v1/token":
		b.token(w, r)
	case r.URL.Path == "/auth/v1/user":
		id, ok := b.user(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "invalid JWT"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "email": testEmail})
	case r.URL.Path == "/auth/v1/logout":
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		delete(b.tokens, token)
		w.WriteHeader(http.StatusNoContent)
	case strings.HasPrefix(r.URL.Path, "/rest/v1/"):
		b.rest(w, r, strings.TrimPrefix(r.URL.Path, "/rest/v1/"))
	default:
		http.NotFound(w, r)
	}
}

func (b *backend) token(w http.ResponseWriter, r *http.Request) {
	require.NoError(b.t, r.ParseForm())
	var userID string
	switch r.PostForm.Get("grant_type") {
	case "password":
		if r.PostForm.Get("username") != testEmail || r.PostForm.Get("password") != testPassword {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid login credentials"})
			return
		}
		userID = testUserID
	case "refresh_token":
		id, ok := b.refresh[r.PostForm.Get("refresh_token")]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		userID = id
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}
	access, refresh := b.issue(userID)
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"expires_in":    b.expiresIn,
		"refresh_token": refresh,
	})
}

func matches(row map[string]any, r *http.Request) bool {
	for k, vs := range r.URL.Query() {
		if k == "select" {
			continue
		}
		want := strings.TrimPrefix(vs[0], "eq.")
		if got, _ := row[k].(string); got != want {
			return false
		}
	}
	return true
}

func (b *backend) rest(w http.ResponseWriter, r *http.Request, collection string) {
	b.apiKeys = append(b.apiKeys, r.Header.Get("apikey"))
	b.bearer = append(b.bearer, r.Header.Get("Authorization"))

	if r.Method != http.MethodGet {
		if _, ok := b.user(r); !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "JWT required"})
			return
		}
		if r.Header.Get("Prefer") != "return=representation" && r.Method != http.MethodDelete {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "missing Prefer header"})
			return
		}
	}

	rows := b.tables[collection]
	switch r.Method {
	case http.MethodGet:
		if b.failReads {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "db down at 10.0.0.7"})
			return
		}
		out := []map[string]any{}
		for _, row := range rows {
			if matches(row, r) {
				out = append(out, row)
			}
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var row map[string]any
		require.NoError(b.t, json.NewDecoder(r.Body).Decode(&row))
		for _, existing := range rows {
			if existing["id"] == row["id"] {
				writeJSON(w, http.StatusConflict, map[string]string{"message": "duplicate key value"})
				return
			}
		}
		row["created_at"] = "2026-04-01T10:00:00Z"
		b.tables[collection] = append(rows, row)
		writeJSON(w, http.StatusCreated, []map[string]any{row})

	case http.MethodPatch:
		var patch map[string]any
		require.NoError(b.t, json.NewDecoder(r.Body).Decode(&patch))
		out := []map[string]any{}
		for _, row := range rows {
			if matches(row, r) {
				for k, v := range patch {
					row[k] = v
				}
				row["updated_at"] = "2026-04-02T10:00:00Z"
				out = append(out, row)
			}
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodDelete:
		kept := rows[:0]
		for _, row := range rows {
			if !matches(row, r) {
				kept = append(kept, row)
			}
		}
		b.tables[collection] = kept
		w.WriteHeader(http.StatusNoContent)
	}
}

func (b *backend) revokeAll() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.tokens = make(map[string]string)
}

type testFixture struct {
	backend *backend
	server  *httptest.Server
	store   *httpstore.Store
	events  chan remote.AuthEvent
}

func setupTestFixture(t *testing.T, configure func(*backend), options ...httpstore.Option) *testFixture {
	t.Helper()
	b := newBackend(t)
	if configure != nil {
		configure(b)
	}
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	options = append([]httpstore.Option{httpstore.WithAPIKey(testAPIKey), httpstore.WithHTTPClient(srv.Client())}, options...)
	store, err := httpstore.New(srv.URL, options...)
	require.NoError(t, err)

	f := &testFixture{backend: b, server: srv, store: store, events: make(chan remote.AuthEvent, 16)}
	unsubscribe := store.OnAuthStateChange(func(e remote.AuthEvent) { f.events <- e })
	t.Cleanup(unsubscribe)
	return f
}

func (f *testFixture) signIn(t *testing.T) {
	t.Helper()
	_, err := f.store.SignInWithPassword(context.Background(), remote.Credentials{Email: testEmail, Password: testPassword})
	require.NoError(t, err)
	require.Equal(t, remote.SignedIn, (<-f.events).Type)
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	_, err := httpstore.New("/rest")
	require.Error(t, err)
}

func TestSignInWithPassword(t *testing.T) {
	f := setupTestFixture(t, nil)

	session, err := f.store.SignInWithPassword(context.Background(), remote.Credentials{Email: testEmail, Password: testPassword})
	require.NoError(t, err)
	require.Equal(t, testUserID, session.UserID)
	require.NotEmpty(t, session.ID)
	require.True(t, session.IsLive(time.Now()))

	event := <-f.events
	require.Equal(t, remote.SignedIn, event.Type)
	require.Equal(t, testUserID, event.Session.UserID)
}

func TestSignInWithPassword_BadCredentials(t *testing.T) {
	f := setupTestFixture(t, nil)

	_, err := f.store.SignInWithPassword(context.Background(), remote.Credentials{Email: testEmail, Password: "wrong"})
	var ae *remote.AuthError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, "Invalid login credentials", ae.Reason)
	require.Empty(t, f.events)
}

func TestGetSession(t *testing.T) {
	f := setupTestFixture(t, nil)

	session, err := f.store.GetSession(context.Background())
	require.NoError(t, err)
	require.Nil(t, session)

	f.signIn(t)
	session, err = f.store.GetSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, testUserID, session.UserID)

	f.backend.revokeAll()
	_, err = f.store.GetSession(context.Background())
	require.True(t, remote.IsAuth(err))

	session, err = f.store.GetSession(context.Background())
	require.NoError(t, err)
	require.Nil(t, session)
}

func TestGetSession_RefreshesExpiredToken(t *testing.T) {
	f := setupTestFixture(t, func(b *backend) { b.expiresIn = 1 })
	f.signIn(t)

	session, err := f.store.GetSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, testUserID, session.UserID)

	event := <-f.events
	require.Equal(t, remote.TokenRefreshed, event.Type)
	require.Equal(t, testUserID, event.Session.UserID)
}

func TestSignOut(t *testing.T) {
	f := setupTestFixture(t, nil)
	require.NoError(t, f.store.SignOut(context.Background()))
	require.Empty(t, f.events)

	f.signIn(t)
	require.NoError(t, f.store.SignOut(context.Background()))
	require.Equal(t, remote.SignedOut, (<-f.events).Type)

	f.backend.lock.Lock()
	require.Empty(t, f.backend.tokens)
	f.backend.lock.Unlock()

	session, err := f.store.GetSession(context.Background())
	require.NoError(t, err)
	require.Nil(t, session)
}

func TestCRUD(t *testing.T) {
	f := setupTestFixture(t, nil)
	ctx := context.Background()
	f.signIn(t)

	row, err := f.store.Insert(ctx, remote.Listings, remote.Resource{
		ID:     "L1",
		Fields: remote.Fields{"title": "Bakery", "price": 120000},
		Local:  remote.Fields{"title_localized": "Boulangerie"},
	})
	require.NoError(t, err)
	require.Equal(t, "L1", row.ID)
	require.Equal(t, "2026-04-01T10:00:00Z", row.String("created_at"))
	require.NotContains(t, row.Fields, "title_localized")

	_, err = f.store.Insert(ctx, remote.Listings, remote.Resource{ID: "L2", Fields: remote.Fields{"title": "Garage"}})
	require.NoError(t, err)

	rows, err := f.store.Read(ctx, remote.Listings, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	rows, err = f.store.Read(ctx, remote.Listings, remote.Filter{"title": "Garage"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "L2", rows[0].ID)

	updated, err := f.store.Update(ctx, remote.Listings, "L1", remote.Fields{"price": 99000})
	require.NoError(t, err)
	require.Equal(t, float64(99000), updated.Fields["price"])
	require.Equal(t, "2026-04-02T10:00:00Z", updated.String("updated_at"))

	require.NoError(t, f.store.Remove(ctx, remote.Listings, "L2"))
	rows, err = f.store.Read(ctx, remote.Listings, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	f.backend.lock.Lock()
	defer f.backend.lock.Unlock()
	for _, key := range f.backend.apiKeys {
		require.Equal(t, testAPIKey, key)
	}
	require.True(t, strings.HasPrefix(f.backend.bearer[len(f.backend.bearer)-1], "Bearer "))
}

func TestWriteErrors(t *testing.T) {
	f := setupTestFixture(t, nil)
	ctx := context.Background()

	_, err := f.store.Insert(ctx, remote.Listings, remote.Resource{ID: "L1", Fields: remote.Fields{"title": "Bakery"}})
	var ce *remote.ConflictError
	require.ErrorAs(t, err, &ce, "unauthenticated write")
	require.Equal(t, "JWT required", ce.Reason)

	f.signIn(t)
	_, err = f.store.Insert(ctx, remote.Listings, remote.Resource{ID: "L1", Fields: remote.Fields{"title": "Bakery"}})
	require.NoError(t, err)
	_, err = f.store.Insert(ctx, remote.Listings, remote.Resource{ID: "L1", Fields: remote.Fields{"title": "Bakery"}})
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "L1", ce.ID)

	_, err = f.store.Update(ctx, remote.Listings, "missing", remote.Fields{"price": 1})
	require.True(t, remote.IsConflict(err))
}

func TestReadFailureDoesNotLeakDetails(t *testing.T) {
	f := setupTestFixture(t, func(b *backend) { b.failReads = true })

	_, err := f.store.Read(context.Background(), remote.Listings, nil)
	var re *remote.RemoteError
	require.ErrorAs(t, err, &re)
	require.NotContains(t, err.Error(), "10.0.0.7")
	require.Contains(t, re.Cause().Error(), "status 500")
}

func TestVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	verifier := func(k *rsa.PrivateKey) *oidc.IDTokenVerifier {
		keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&k.PublicKey}}
		return oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: testAudience})
	}

	t.Run("signed by the trusted key", func(t *testing.T) {
		f := setupTestFixture(t, func(b *backend) { b.rsaKey = key }, httpstore.WithVerifier(verifier(key)))

		session, err := f.store.SignInWithPassword(context.Background(), remote.Credentials{Email: testEmail, Password: testPassword})
		require.NoError(t, err)
		require.Equal(t, testUserID, session.UserID)
	})

	t.Run("signed by an unknown key", func(t *testing.T) {
		f := setupTestFixture(t, func(b *backend) { b.rsaKey = key }, httpstore.WithVerifier(verifier(other)))

		_, err := f.store.SignInWithPassword(context.Background(), remote.Credentials{Email: testEmail, Password: testPassword})
		require.True(t, remote.IsAuth(err))
		require.Empty(t, f.events)

		session, err := f.store.GetSession(context.Background())
		require.NoError(t, err)
		require.Nil(t, session)
	})
}

func TestTimeoutDecoratorOverHTTP(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	store, err := httpstore.New(srv.URL, httpstore.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	_, err = remote.WithTimeout(store, 50*time.Millisecond).Read(context.Background(), remote.Listings, nil)
	var re *remote.RemoteError
	require.ErrorAs(t, err, &re)
	require.True(t, re.Timeout)
}
