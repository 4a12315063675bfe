package auth

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jrsteele09/go-listings-client/cache"
	"github.com/jrsteele09/go-listings-client/remote"
	"github.com/jrsteele09/go-listings-client/sessions"
	"github.com/jrsteele09/go-listings-client/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the identity published to observers.
type State struct {
	Profile  *users.Profile    // nil when signed out
	Verified bool              // Session confirmed live and Profile belongs to it
	Session  *sessions.Session // nil until confirmed by the backend
	Epoch    uint64            // Epoch the state was produced in
}

// UserID returns the id of the verified user, or "" when there is none.
func (s State) UserID() string {
	if !s.Verified || s.Profile == nil {
		return ""
	}
	return s.Profile.ID
}

func (s State) clone() State {
	c := s
	c.Profile = s.Profile.Clone()
	if s.Session != nil {
		session := *s.Session
		c.Session = &session
	}
	return c
}

// SessionManager owns the local identity: it restores it from the cache,
// verifies it against the backend and keeps it in step with remote auth events.
// Every identity change starts a new epoch; results from older epochs are dropped.
type SessionManager struct {
	remote  remote.Store
	cache   cache.Store
	state   State
	epoch   uint64
	intent  uint64 // bumped by local sign in, sign out, bootstrap and remote sign outs
	pending uint64 // intent of the sign in waiting on the backend, 0 when none
	nowFunc func() time.Time
	logger  zerolog.Logger
	lock    sync.Mutex

	observers         map[int]func(State)
	nextObserverID    int
	unsubscribeRemote func()
	subLock           sync.Mutex

	publishLock sync.Mutex
}

// SessionManagerOption defines a function type to modify the SessionManager instance.
type SessionManagerOption func(*SessionManager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) SessionManagerOption {
	return func(sm *SessionManager) {
		sm.nowFunc = nowFunc
	}
}

func WithLogger(logger zerolog.Logger) SessionManagerOption {
	return func(sm *SessionManager) {
		sm.logger = logger
	}
}

// NewSessionManager initializes a SessionManager over the backend and the persistent cache.
func NewSessionManager(remoteStore remote.Store, cacheStore cache.Store, options ...SessionManagerOption) (*SessionManager, error) {
	if remoteStore == nil {
		return nil, errors.New("[NewSessionManager] remote store is required")
	}
	if cacheStore == nil {
		return nil, errors.New("[NewSessionManager] cache store is required")
	}

	sm := &SessionManager{
		remote:    remoteStore,
		cache:     cacheStore,
		nowFunc:   time.Now,
		logger:    log.With().Str("component", "auth").Logger(),
		observers: make(map[int]func(State)),
	}
	for _, opt := range options {
		opt(sm)
	}
	return sm, nil
}

// Current returns a copy of the published state.
func (sm *SessionManager) Current() State {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	return sm.current()
}

func (sm *SessionManager) current() State {
	s := sm.state.clone()
	s.Epoch = sm.epoch
	return s
}

// Epoch returns the current session epoch.
func (sm *SessionManager) Epoch() uint64 {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	return sm.epoch
}

// Bootstrap restores the identity at startup. A cached profile is published
// straight away as unverified, then the backend session decides whether it
// becomes verified, is replaced or is cleared. Degraded outcomes (no session,
// expired session, timeouts) end signed out and are logged, not returned.
func (sm *SessionManager) Bootstrap(ctx context.Context) {
	sm.lock.Lock()
	epoch := sm.advance()
	sm.intent++
	cached := sm.readCachedProfile()
	if cached != nil {
		sm.state = State{Profile: cached}
	}
	sm.lock.Unlock()
	if cached != nil {
		sm.publish()
	}

	session, err := sm.remote.GetSession(ctx)
	switch {
	case err != nil:
		sm.logger.Warn().Err(err).Uint64("epoch", epoch).Msg("Session check failed, signing out locally")
		sm.clearIf(epoch)

	case session == nil || session.IsExpired(sm.nowFunc()):
		sm.logger.Debug().Uint64("epoch", epoch).Msg("No live session")
		sm.clearIf(epoch)

	case cached != nil && cached.ID == session.UserID:
		verified := sm.commit(epoch, func() {
			sm.state = State{Profile: cached, Verified: true, Session: session}
		})
		if !verified {
			return
		}
		if err := sm.adopt(ctx, epoch, session); err != nil && !errors.Is(err, ErrSuperseded) {
			sm.logger.Warn().Err(err).Str("user_id", session.UserID).Msg("Profile refresh failed, signing out locally")
		}

	default:
		cleared := sm.commit(epoch, func() {
			sm.clearCachedProfile()
			sm.state = State{Session: session}
		})
		if !cleared {
			return
		}
		if err := sm.adopt(ctx, epoch, session); err != nil && !errors.Is(err, ErrSuperseded) {
			sm.logger.Warn().Err(err).Str("user_id", session.UserID).Msg("Profile fetch failed, signing out locally")
		}
	}
}

// SignIn authenticates with the backend and publishes the user's profile.
// Bad credentials are returned as remote.AuthError. A sign out, bootstrap or
// newer sign in issued while the backend answers wins; SignIn then returns
// ErrSuperseded and publishes nothing.
func (sm *SessionManager) SignIn(ctx context.Context, credentials remote.Credentials) (State, error) {
	if err := ValidateCredentials(credentials); err != nil {
		return State{}, &remote.AuthError{Reason: err.Error()}
	}

	sm.lock.Lock()
	sm.intent++
	intent := sm.intent
	sm.pending = intent
	sm.lock.Unlock()
	defer func() {
		sm.lock.Lock()
		if sm.pending == intent {
			sm.pending = 0
		}
		sm.lock.Unlock()
	}()

	session, err := sm.remote.SignInWithPassword(ctx, credentials)
	if err != nil {
		return State{}, errors.Wrap(err, "[SessionManager SignIn] sign in")
	}
	if session == nil {
		return State{}, &remote.AuthError{Reason: "no session issued"}
	}

	sm.lock.Lock()
	if sm.intent != intent {
		endRemote := sm.state.Profile == nil && sm.pending == intent
		sm.lock.Unlock()
		sm.logger.Debug().Str("user_id", session.UserID).Msg("Sign in superseded while the backend answered")
		if endRemote {
			if err := sm.remote.SignOut(ctx); err != nil {
				sm.logger.Err(err).Str("user_id", session.UserID).Msg("Failed to end superseded remote session")
			}
		}
		return sm.Current(), errors.Wrap(ErrSuperseded, "[SessionManager SignIn]")
	}
	epoch := sm.advance()
	sm.lock.Unlock()

	if err := sm.adopt(ctx, epoch, session); err != nil {
		return sm.Current(), errors.Wrap(err, "[SessionManager SignIn] load profile")
	}
	return sm.Current(), nil
}

// SignOut clears the identity and the cached profile, publishes, and only then
// ends the remote session. A remote failure is logged and never restores state.
func (sm *SessionManager) SignOut(ctx context.Context) {
	sm.lock.Lock()
	epoch := sm.advance()
	sm.intent++
	sm.state = State{}
	sm.clearCachedProfile()
	sm.lock.Unlock()
	sm.publish()

	if err := sm.remote.SignOut(ctx); err != nil {
		sm.logger.Err(err).Uint64("epoch", epoch).Msg("Remote sign out failed")
	}
}

// UpdateProfile writes patch to the current user's profile row and publishes the result.
func (sm *SessionManager) UpdateProfile(ctx context.Context, patch remote.Fields) (*users.Profile, error) {
	if err := ValidateProfilePatch(patch); err != nil {
		return nil, err
	}

	sm.lock.Lock()
	state := sm.state.clone()
	epoch := sm.epoch
	sm.lock.Unlock()
	if !state.Verified || state.Profile == nil {
		return nil, ErrNotSignedIn
	}

	row, err := sm.remote.Update(ctx, remote.Profiles, state.Profile.ID, patch)
	if err != nil {
		return nil, errors.Wrap(err, "[SessionManager UpdateProfile] update")
	}
	profile, err := users.FromFields(row.Fields)
	if err != nil {
		return nil, errors.Wrap(err, "[SessionManager UpdateProfile] decode")
	}
	if err := validateProfile(profile, state.Profile.ID); err != nil {
		return nil, err
	}

	applied := sm.commit(epoch, func() {
		sm.state.Profile = profile
		sm.writeCachedProfile(profile)
	})
	if !applied {
		return nil, ErrSuperseded
	}
	return profile.Clone(), nil
}

// SetRememberSession stores whether the profile may be kept in the cache
// across restarts. Turning it off drops any cached profile.
func (sm *SessionManager) SetRememberSession(remember bool) error {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	if err := sm.cache.Set(cache.RememberSessionKey, strconv.FormatBool(remember)); err != nil {
		return errors.Wrap(err, "[SessionManager SetRememberSession]")
	}
	if !remember {
		sm.clearCachedProfile()
		return nil
	}
	if sm.state.Verified && sm.state.Profile != nil {
		sm.writeCachedProfile(sm.state.Profile)
	}
	return nil
}

// RememberSession reports the stored preference. It defaults to true.
func (sm *SessionManager) RememberSession() bool {
	v, err := sm.cache.Get(cache.RememberSessionKey)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			sm.logger.Err(err).Msg("Failed to read remember session preference")
		}
		return true
	}
	remember, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return remember
}

// Subscribe registers onChange for every published state and returns its
// disposer. The first observer opens the remote auth subscription and the
// last one to dispose closes it. onChange must not call back into the
// manager synchronously.
func (sm *SessionManager) Subscribe(onChange func(State)) func() {
	sm.subLock.Lock()
	id := sm.nextObserverID
	sm.nextObserverID++
	sm.observers[id] = onChange
	if sm.unsubscribeRemote == nil {
		sm.unsubscribeRemote = sm.remote.OnAuthStateChange(sm.handleAuthEvent)
	}
	sm.subLock.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sm.subLock.Lock()
			defer sm.subLock.Unlock()
			delete(sm.observers, id)
			if len(sm.observers) == 0 && sm.unsubscribeRemote != nil {
				sm.unsubscribeRemote()
				sm.unsubscribeRemote = nil
			}
		})
	}
}

// handleAuthEvent starts a new epoch for every remote session change.
func (sm *SessionManager) handleAuthEvent(event remote.AuthEvent) {
	signedOut := event.Type == remote.SignedOut || event.Session == nil
	sm.lock.Lock()
	if !signedOut && sm.pending != 0 && sm.pending != sm.intent {
		// Echo of a sign in that was already superseded locally.
		sm.lock.Unlock()
		sm.logger.Debug().Str("event", string(event.Type)).Msg("Ignoring auth event for superseded sign in")
		return
	}
	epoch := sm.advance()
	if signedOut {
		sm.intent++
	}
	sm.lock.Unlock()

	sm.logger.Debug().Str("event", string(event.Type)).Uint64("epoch", epoch).Msg("Auth state changed")

	if signedOut {
		sm.clearIf(epoch)
		return
	}

	session := *event.Session
	go func() {
		if err := sm.adopt(context.Background(), epoch, &session); err != nil && !errors.Is(err, ErrSuperseded) {
			sm.logger.Warn().Err(err).Str("event", string(event.Type)).Msg("Failed to load profile for auth event")
		}
	}()
}

// adopt fetches the profile for session and publishes it verified. On
// failure it clears the identity. Both only apply while epoch is current.
func (sm *SessionManager) adopt(ctx context.Context, epoch uint64, session *sessions.Session) error {
	profile, err := sm.fetchProfile(ctx, session.UserID)
	if err != nil {
		if !sm.clearIf(epoch) {
			return ErrSuperseded
		}
		return err
	}

	applied := sm.commit(epoch, func() {
		sm.state = State{Profile: profile, Verified: true, Session: session}
		sm.writeCachedProfile(profile)
	})
	if !applied {
		return ErrSuperseded
	}
	return nil
}

func (sm *SessionManager) fetchProfile(ctx context.Context, userID string) (*users.Profile, error) {
	rows, err := sm.remote.Read(ctx, remote.Profiles, remote.Filter{"id": userID})
	if err != nil {
		return nil, errors.Wrap(err, "[SessionManager fetchProfile] read")
	}
	if len(rows) == 0 {
		return nil, errors.Wrapf(ErrProfileNotFound, "user %s", userID)
	}
	profile, err := users.FromFields(rows[0].Fields)
	if err != nil {
		return nil, errors.Wrap(err, "[SessionManager fetchProfile] decode")
	}
	if err := validateProfile(profile, userID); err != nil {
		return nil, err
	}
	return profile, nil
}

// advance starts a new epoch. Must be called with sm.lock held.
func (sm *SessionManager) advance() uint64 {
	sm.epoch++
	return sm.epoch
}

// commit runs fn under the lock and publishes, but only while epoch is still current.
func (sm *SessionManager) commit(epoch uint64, fn func()) bool {
	sm.lock.Lock()
	if sm.epoch != epoch {
		sm.lock.Unlock()
		sm.logger.Debug().Uint64("epoch", epoch).Msg("Discarding stale session result")
		return false
	}
	fn()
	sm.lock.Unlock()
	sm.publish()
	return true
}

// clearIf signs out locally when epoch is still current.
func (sm *SessionManager) clearIf(epoch uint64) bool {
	return sm.commit(epoch, func() {
		sm.state = State{}
		sm.clearCachedProfile()
	})
}

// publish delivers the latest state to every observer. Publishes are
// serialized so observers always finish on the most recent state.
func (sm *SessionManager) publish() {
	sm.publishLock.Lock()
	defer sm.publishLock.Unlock()

	state := sm.Current()

	sm.subLock.Lock()
	ids := make([]int, 0, len(sm.observers))
	for id := range sm.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	observers := make([]func(State), 0, len(ids))
	for _, id := range ids {
		observers = append(observers, sm.observers[id])
	}
	sm.subLock.Unlock()

	for _, fn := range observers {
		fn(state.clone())
	}
}

// readCachedProfile must be called with sm.lock held. Unreadable blobs are dropped.
func (sm *SessionManager) readCachedProfile() *users.Profile {
	blob, err := sm.cache.Get(cache.ProfileKey)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			sm.logger.Err(err).Msg("Failed to read cached profile")
		}
		return nil
	}
	profile, err := users.Unmarshal(blob)
	if err != nil {
		sm.logger.Warn().Err(err).Msg("Dropping unreadable cached profile")
		sm.clearCachedProfile()
		return nil
	}
	return profile
}

// writeCachedProfile must be called with sm.lock held.
func (sm *SessionManager) writeCachedProfile(profile *users.Profile) {
	if !sm.RememberSession() {
		return
	}
	blob, err := profile.Marshal()
	if err != nil {
		sm.logger.Err(err).Msg("Failed to encode profile for cache")
		return
	}
	if err := sm.cache.Set(cache.ProfileKey, blob); err != nil {
		sm.logger.Err(err).Msg("Failed to cache profile")
	}
}

// clearCachedProfile must be called with sm.lock held.
func (sm *SessionManager) clearCachedProfile() {
	if err := sm.cache.Remove(cache.ProfileKey); err != nil {
		sm.logger.Err(err).Msg("Failed to remove cached profile")
	}
}
