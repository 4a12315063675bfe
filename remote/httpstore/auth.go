package httpstore

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-listings-client/remote"
	"github.com/jrsteele09/go-listings-client/sessions"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// accessClaims are the access token claims a session is built from.
type accessClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
}

// sessionFromToken reads the session carried by an access token. With a
// verifier configured the signature, issuer and expiry are checked first.
func (s *Store) sessionFromToken(ctx context.Context, accessToken string) (*sessions.Session, error) {
	if s.verifier != nil {
		if _, err := s.verifier.Verify(s.oauthContext(ctx), accessToken); err != nil {
			s.logger.Debug().Err(err).Msg("Access token failed verification")
			return nil, &remote.AuthError{Reason: "invalid access token"}
		}
	}

	claims := &accessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil, &remote.AuthError{Reason: "malformed access token"}
	}
	if claims.Subject == "" {
		return nil, &remote.AuthError{Reason: "access token has no subject"}
	}

	session := &sessions.Session{ID: claims.SessionID, UserID: claims.Subject}
	if session.ID == "" {
		session.ID = claims.ID
	}
	if claims.IssuedAt != nil {
		session.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

// notifyingSource reports refreshed tokens back to the store.
type notifyingSource struct {
	base  oauth2.TokenSource
	store *Store
}

func (n *notifyingSource) Token() (*oauth2.Token, error) {
	tok, err := n.base.Token()
	if err != nil {
		return nil, err
	}
	n.store.observeToken(tok)
	return tok, nil
}

// observeToken broadcasts TokenRefreshed the first time a new access token is seen.
func (s *Store) observeToken(tok *oauth2.Token) {
	s.lock.Lock()
	if s.source == nil || tok.AccessToken == s.accessToken {
		s.lock.Unlock()
		return
	}
	s.accessToken = tok.AccessToken
	s.lock.Unlock()

	session, err := s.sessionFromToken(context.Background(), tok.AccessToken)
	if err != nil {
		s.logger.Err(err).Msg("Refreshed token carries no usable session")
		return
	}
	s.broadcast(remote.AuthEvent{Type: remote.TokenRefreshed, Session: session})
}

func (s *Store) dropSession() {
	s.lock.Lock()
	s.source = nil
	s.accessToken = ""
	s.lock.Unlock()
}

// SignInWithPassword runs the OAuth2 password grant.
func (s *Store) SignInWithPassword(ctx context.Context, credentials remote.Credentials) (*sessions.Session, error) {
	tok, err := s.oauth.PasswordCredentialsToken(s.oauthContext(ctx), credentials.Email, credentials.Password)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			switch re.Response.StatusCode {
			case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
				reason := re.ErrorDescription
				if reason == "" {
					reason = "invalid credentials"
				}
				return nil, &remote.AuthError{Reason: reason}
			}
		}
		return nil, remote.NewRemoteError("sign in", err)
	}

	session, err := s.sessionFromToken(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	source := s.oauth.TokenSource(s.oauthContext(context.Background()), tok)
	s.lock.Lock()
	s.source = &notifyingSource{base: source, store: s}
	s.accessToken = tok.AccessToken
	s.lock.Unlock()

	s.broadcast(remote.AuthEvent{Type: remote.SignedIn, Session: session})
	return session, nil
}

// GetSession confirms the held session with the backend. It returns nil when
// signed out and AuthError when the backend no longer accepts the token.
func (s *Store) GetSession(ctx context.Context) (*sessions.Session, error) {
	s.lock.RLock()
	source := s.source
	s.lock.RUnlock()
	if source == nil {
		return nil, nil
	}

	tok, err := source.Token()
	if err != nil {
		s.dropSession()
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, &remote.AuthError{Reason: "session expired"}
		}
		return nil, remote.NewRemoteError("get session", err)
	}

	resp, err := s.do(ctx, http.MethodGet, s.endpoint(userPath, nil), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		s.dropSession()
		return nil, &remote.AuthError{Reason: "session expired"}
	default:
		return nil, remote.NewRemoteError("get session", errors.Errorf("status %d: %s", resp.StatusCode, readError(resp)))
	}
	return s.sessionFromToken(ctx, tok.AccessToken)
}

// SignOut revokes the session on the backend. The local session is dropped
// and listeners are told even when the backend call fails.
func (s *Store) SignOut(ctx context.Context) error {
	s.lock.RLock()
	signedIn := s.source != nil
	s.lock.RUnlock()
	if !signedIn {
		return nil
	}

	var callErr error
	resp, err := s.do(ctx, http.MethodPost, s.endpoint(logoutPath, nil), nil)
	if err != nil {
		callErr = err
	} else {
		if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnauthorized {
			callErr = remote.NewRemoteError("sign out", errors.Errorf("status %d: %s", resp.StatusCode, readError(resp)))
		}
		resp.Body.Close()
	}

	s.dropSession()
	s.broadcast(remote.AuthEvent{Type: remote.SignedOut})
	return callErr
}

func (s *Store) OnAuthStateChange(listener func(remote.AuthEvent)) func() {
	s.listLock.Lock()
	defer s.listLock.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listLock.Lock()
			defer s.listLock.Unlock()
			delete(s.listeners, id)
		})
	}
}

func (s *Store) broadcast(event remote.AuthEvent) {
	s.listLock.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]func(remote.AuthEvent), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.listLock.Unlock()

	for _, l := range listeners {
		l(event)
	}
}
