package client

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-listings-client/activity"
	"github.com/jrsteele09/go-listings-client/auth"
	"github.com/jrsteele09/go-listings-client/cache"
	"github.com/jrsteele09/go-listings-client/collections"
	"github.com/jrsteele09/go-listings-client/mutation"
	"github.com/jrsteele09/go-listings-client/remote"
	"github.com/jrsteele09/go-listings-client/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrStale is returned by loads whose rows were superseded by a newer load or reset.
	ErrStale = errors.New("load result superseded")
	// ErrNotAllowed is returned when the signed in profile's role does not permit the operation.
	ErrNotAllowed = errors.New("operation not allowed for role")
)

// Client is the surface the UI talks to. It owns the session manager, the
// collection store, the mutation engine and the activity log.
type Client struct {
	remote   remote.Store
	sessions *auth.SessionManager
	store    *collections.Store
	engine   *mutation.Engine
	activity *activity.Log
	logger   zerolog.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	background  sync.WaitGroup
	unsubscribe func()
	closeOnce   sync.Once
	closed      bool // no background work starts once set
	closeLock   sync.Mutex
}

type options struct {
	timeout    time.Duration
	publishers []activity.Publisher
	nowFunc    func() time.Time
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*options)

// WithTimeout sets the hard timeout applied to every backend call.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithActivityPublisher forwards confirmed activity entries to p.
func WithActivityPublisher(p activity.Publisher) Option {
	return func(o *options) {
		o.publishers = append(o.publishers, p)
	}
}

// WithNowFunc sets the clock used for activity timestamps and session expiry.
func WithNowFunc(now func() time.Time) Option {
	return func(o *options) {
		o.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New wires a Client over the backend and the persistent cache.
func New(remoteStore remote.Store, cacheStore cache.Store, opts ...Option) (*Client, error) {
	if remoteStore == nil {
		return nil, errors.New("[New] remote store is required")
	}
	if cacheStore == nil {
		return nil, errors.New("[New] cache store is required")
	}

	o := options{
		timeout: remote.DefaultTimeout,
		nowFunc: time.Now,
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(&o)
	}

	wrapped := remote.WithTimeout(remoteStore, o.timeout)

	sessions, err := auth.NewSessionManager(wrapped, cacheStore,
		auth.WithNowTime(o.nowFunc),
		auth.WithLogger(o.logger.With().Str("component", "auth").Logger()))
	if err != nil {
		return nil, errors.Wrap(err, "[New] session manager")
	}

	logOpts := []activity.LogOption{activity.WithLogger(o.logger.With().Str("component", "activity").Logger())}
	for _, p := range o.publishers {
		logOpts = append(logOpts, activity.WithPublisher(p))
	}
	activityLog := activity.New(logOpts...)

	store := collections.New()
	engine, err := mutation.NewEngine(store, activityLog,
		mutation.WithNowFunc(o.nowFunc),
		mutation.WithLogger(o.logger.With().Str("component", "mutation").Logger()))
	if err != nil {
		return nil, errors.Wrap(err, "[New] mutation engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		remote:   wrapped,
		sessions: sessions,
		store:    store,
		engine:   engine,
		activity: activityLog,
		logger:   o.logger.With().Str("component", "client").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.unsubscribe = sessions.Subscribe(c.onSessionChange)
	return c, nil
}

// Bootstrap restores the identity from the cache and verifies it with the backend.
func (c *Client) Bootstrap(ctx context.Context) {
	c.sessions.Bootstrap(ctx)
}

// SignIn authenticates with email and password.
func (c *Client) SignIn(ctx context.Context, email, password string) (auth.State, error) {
	return c.sessions.SignIn(ctx, remote.Credentials{Email: email, Password: password})
}

// SignOut clears the identity locally before ending the remote session.
func (c *Client) SignOut(ctx context.Context) {
	c.sessions.SignOut(ctx)
}

// Profile returns the current identity.
func (c *Client) Profile() auth.State {
	return c.sessions.Current()
}

// Subscribe registers fn for identity changes and returns its disposer.
func (c *Client) Subscribe(fn func(auth.State)) func() {
	return c.sessions.Subscribe(fn)
}

// UpdateProfile changes editable columns of the signed in user's profile.
func (c *Client) UpdateProfile(ctx context.Context, patch remote.Fields) (*users.Profile, error) {
	return c.sessions.UpdateProfile(ctx, patch)
}

// SetRememberSession controls whether the profile is cached across restarts.
func (c *Client) SetRememberSession(remember bool) error {
	return c.sessions.SetRememberSession(remember)
}

// Collections returns the read side of the collection store.
func (c *Client) Collections() collections.View {
	return c.store
}

// Activity returns the log of confirmed actions.
func (c *Client) Activity() *activity.Log {
	return c.activity
}

// Idle waits until every pending intent has settled and background loads have finished.
func (c *Client) Idle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.engine.Idle(ctx)
}

// Close releases the auth subscription, stops background loads and flushes
// activity forwarding. Pending intents keep running to completion; entries
// they record later are kept but not forwarded.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.unsubscribe()
		c.closeLock.Lock()
		c.closed = true
		c.closeLock.Unlock()
		c.cancel()
		c.background.Wait()
		c.activity.Close()
	})
}

// verifiedUser returns the signed in profile, or ErrNotSignedIn.
func (c *Client) verifiedUser() (*users.Profile, error) {
	state := c.sessions.Current()
	if state.UserID() == "" {
		return nil, auth.ErrNotSignedIn
	}
	return state.Profile, nil
}

// onSessionChange scopes the favorites edge set to the verified user and
// reloads it whenever that user changes.
func (c *Client) onSessionChange(state auth.State) {
	userID := state.UserID()
	token, changed := c.store.SetFavoritesOwner(userID)
	if !changed || userID == "" {
		return
	}

	c.closeLock.Lock()
	defer c.closeLock.Unlock()
	if c.closed {
		return
	}
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		if err := c.loadFavorites(c.ctx, userID, token); err != nil && !errors.Is(err, ErrStale) {
			c.logger.Err(err).Str("user_id", userID).Msg("Failed to load favorites")
		}
	}()
}
