package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-listings-client/remote"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	restPath       = "/rest/v1/"
	tokenPath      = "/auth/v1/token"
	userPath       = "/auth/v1/user"
	logoutPath     = "/auth/v1/logout"
	maxErrorBody   = 4096
	defaultClient  = "listings-client"
	apiKeyHeader   = "apikey"
	preferHeader   = "Prefer"
	representation = "return=representation"
)

var _ remote.Store = (*Store)(nil)

// Store is a remote.Store over a PostgREST style REST API with an OAuth2
// password grant for sign in.
type Store struct {
	baseURL    *url.URL
	apiKey     string
	oauth      *oauth2.Config
	verifier   *oidc.IDTokenVerifier
	httpClient *http.Client
	logger     zerolog.Logger

	source      oauth2.TokenSource // nil when signed out
	accessToken string
	lock        sync.RWMutex

	listeners map[int]func(remote.AuthEvent)
	nextID    int
	listLock  sync.Mutex
}

type Option func(*Store)

// WithAPIKey sets the project key sent with every request.
func WithAPIKey(key string) Option {
	return func(s *Store) {
		s.apiKey = key
	}
}

// WithClientCredentials sets the OAuth2 client used for the password grant.
func WithClientCredentials(clientID, clientSecret string) Option {
	return func(s *Store) {
		s.oauth.ClientID = clientID
		s.oauth.ClientSecret = clientSecret
	}
}

// WithTokenURL overrides the token endpoint, which defaults to {base}/auth/v1/token.
func WithTokenURL(tokenURL string) Option {
	return func(s *Store) {
		s.oauth.Endpoint.TokenURL = tokenURL
	}
}

// WithVerifier checks access token signatures, issuer and expiry before a session is accepted.
func WithVerifier(verifier *oidc.IDTokenVerifier) Option {
	return func(s *Store) {
		s.verifier = verifier
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *Store) {
		s.httpClient = client
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New returns a Store for the backend at baseURL.
func New(baseURL string, options ...Option) (*Store, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "[httpstore New] invalid base url")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("[httpstore New] base url %q must be absolute", baseURL)
	}

	s := &Store{
		baseURL: u,
		oauth: &oauth2.Config{
			ClientID: defaultClient,
			Endpoint: oauth2.Endpoint{
				TokenURL:  u.String() + tokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log.With().Str("component", "httpstore").Logger(),
		listeners:  make(map[int]func(remote.AuthEvent)),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// oauthContext carries the store's HTTP client into the oauth2 package.
func (s *Store) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// client returns an HTTP client that authenticates as the signed in user, or
// the plain client when signed out.
func (s *Store) client() *http.Client {
	s.lock.RLock()
	source := s.source
	s.lock.RUnlock()
	if source == nil {
		return s.httpClient
	}
	return &http.Client{
		Transport: &oauth2.Transport{Source: source, Base: s.httpClient.Transport},
		Timeout:   s.httpClient.Timeout,
	}
}

func (s *Store) endpoint(path string, query url.Values) string {
	u := *s.baseURL
	u.Path = s.baseURL.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

func (s *Store) do(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set(apiKeyHeader, s.apiKey)
	}
	if method == http.MethodPost || method == http.MethodPatch {
		req.Header.Set(preferHeader, representation)
	}

	resp, err := s.client().Do(req)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			s.dropSession()
			return nil, &remote.AuthError{Reason: "session refresh rejected"}
		}
		return nil, err
	}
	return resp, nil
}

func readError(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
		Error   string `json:"error_description"`
	}
	if json.Unmarshal(b, &body) == nil {
		for _, m := range []string{body.Message, body.Msg, body.Error} {
			if m != "" {
				return m
			}
		}
	}
	return strings.TrimSpace(string(b))
}

// writeError maps a failed write response into the remote error taxonomy.
func writeError(op, collection, id string, resp *http.Response) error {
	reason := readError(resp)
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusPreconditionFailed:
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return &remote.ConflictError{Collection: collection, ID: id, Reason: reason}
	}
	return remote.NewRemoteError(op, fmt.Errorf("status %d: %s", resp.StatusCode, reason))
}

func decodeRows(r io.Reader) ([]remote.Resource, error) {
	var rows []map[string]any
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, errors.Wrap(err, "decode rows")
	}
	out := make([]remote.Resource, 0, len(rows))
	for _, row := range rows {
		out = append(out, remote.Resource{ID: rowID(row["id"]), Fields: remote.Fields(row)})
	}
	return out, nil
}

func rowID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

func filterQuery(filter remote.Filter) url.Values {
	q := url.Values{"select": {"*"}}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, "eq."+filter[k])
	}
	return q
}

func (s *Store) Read(ctx context.Context, collection string, filter remote.Filter) ([]remote.Resource, error) {
	op := "read " + collection
	resp, err := s.do(ctx, http.MethodGet, s.endpoint(restPath+collection, filterQuery(filter)), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, remote.NewRemoteError(op, fmt.Errorf("status %d: %s", resp.StatusCode, readError(resp)))
	}
	rows, err := decodeRows(resp.Body)
	if err != nil {
		return nil, remote.NewRemoteError(op, err)
	}
	return rows, nil
}

func (s *Store) Insert(ctx context.Context, collection string, resource remote.Resource) (remote.Resource, error) {
	op := "insert " + collection
	body := resource.Fields.Clone()
	if body == nil {
		body = remote.Fields{}
	}
	if resource.ID != "" {
		body["id"] = resource.ID
	}

	resp, err := s.do(ctx, http.MethodPost, s.endpoint(restPath+collection, nil), body)
	if err != nil {
		return remote.Resource{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return remote.Resource{}, writeError(op, collection, resource.ID, resp)
	}
	rows, err := decodeRows(resp.Body)
	if err != nil {
		return remote.Resource{}, remote.NewRemoteError(op, err)
	}
	if len(rows) == 0 {
		return remote.Resource{}, remote.NewRemoteError(op, errors.New("no row returned"))
	}
	return rows[0], nil
}

func (s *Store) Update(ctx context.Context, collection, id string, patch remote.Fields) (remote.Resource, error) {
	op := "update " + collection
	resp, err := s.do(ctx, http.MethodPatch, s.endpoint(restPath+collection, filterQuery(remote.Filter{"id": id})), patch)
	if err != nil {
		return remote.Resource{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return remote.Resource{}, writeError(op, collection, id, resp)
	}
	rows, err := decodeRows(resp.Body)
	if err != nil {
		return remote.Resource{}, remote.NewRemoteError(op, err)
	}
	// Row level security hides rows the caller may not touch.
	if len(rows) == 0 {
		return remote.Resource{}, &remote.ConflictError{Collection: collection, ID: id, Reason: "row not found"}
	}
	return rows[0], nil
}

func (s *Store) Remove(ctx context.Context, collection, id string) error {
	resp, err := s.do(ctx, http.MethodDelete, s.endpoint(restPath+collection, filterQuery(remote.Filter{"id": id})), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return writeError("remove "+collection, collection, id, resp)
	}
	return nil
}
