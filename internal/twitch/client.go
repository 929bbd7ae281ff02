// Package twitch implements a minimal Twitch Helix API client covering the
// endpoints the recorder needs: user and stream lookup, game metadata, and
// EventSub webhook subscription management.
//
// Authentication uses the client-credentials (app access token) flow. The
// token is cached until shortly before expiry and refreshed through a
// singleflight group so concurrent callers never race duplicate refreshes.
package twitch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/recerr"
	"github.com/jmylchreest/vodarr/internal/version"
)

const (
	// maxErrorBodyReadSize caps how much of an error response body is read
	// for inclusion in error messages.
	maxErrorBodyReadSize = 1024

	// tokenExpiryMargin refreshes the app token this long before Twitch
	// would reject it, so in-flight requests never carry a token that
	// expires mid-request.
	tokenExpiryMargin = 5 * time.Minute

	// initialRetryDelay is the first backoff step for retryable failures.
	// Subsequent attempts double it.
	initialRetryDelay = time.Second
)

// Client is a Twitch Helix API client.
type Client struct {
	apiURL        string
	authURL       string
	clientID      string
	clientSecret  string
	httpClient    *http.Client
	limiter       *rate.Limiter
	retryAttempts int
	retryDelay    time.Duration
	userAgent     string
	log           *slog.Logger

	tokenMu     sync.RWMutex
	token       string
	tokenExpiry time.Time

	refreshGroup singleflight.Group
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetryDelay overrides the initial retry backoff delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a Helix client from the Twitch configuration.
func NewClient(cfg config.TwitchConfig, log *slog.Logger, opts ...ClientOption) *Client {
	if log == nil {
		log = slog.Default()
	}

	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 12
	}
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		apiURL:        strings.TrimSuffix(cfg.APIURL, "/"),
		authURL:       cfg.AuthURL,
		clientID:      cfg.ClientID,
		clientSecret:  cfg.ClientSecret,
		httpClient:    &http.Client{Timeout: timeout},
		limiter:       rate.NewLimiter(rate.Limit(rps), rps),
		retryAttempts: attempts,
		retryDelay:    initialRetryDelay,
		userAgent:     version.UserAgent(),
		log:           log.With(slog.String("component", "twitch-client")),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// appToken returns a valid app access token, fetching a fresh one when the
// cached token is missing or close to expiry.
func (c *Client) appToken(ctx context.Context) (string, error) {
	c.tokenMu.RLock()
	token, expiry := c.token, c.tokenExpiry
	c.tokenMu.RUnlock()

	if token != "" && time.Until(expiry) > tokenExpiryMargin {
		return token, nil
	}

	return c.refreshToken(ctx)
}

// refreshToken fetches a new app access token. Concurrent callers share a
// single fetch through the singleflight group.
func (c *Client) refreshToken(ctx context.Context) (string, error) {
	result, err, _ := c.refreshGroup.Do("app-token", func() (any, error) {
		form := url.Values{
			"client_id":     {c.clientID},
			"client_secret": {c.clientSecret},
			"grant_type":    {"client_credentials"},
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, recerr.Wrap(recerr.KindTwitchAPI, "twitch.token", fmt.Errorf("building token request: %w", err))
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, recerr.Wrap(recerr.KindTwitchAPI, "twitch.token", fmt.Errorf("requesting app access token: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyReadSize))
			return nil, recerr.New(recerr.KindTwitchAPI, "twitch.token",
				"token endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		var tok tokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
			return nil, recerr.Wrap(recerr.KindTwitchAPI, "twitch.token", fmt.Errorf("decoding token response: %w", err))
		}
		if tok.AccessToken == "" {
			return nil, recerr.New(recerr.KindTwitchAPI, "twitch.token", "token endpoint returned empty access token")
		}

		c.tokenMu.Lock()
		c.token = tok.AccessToken
		c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
		c.tokenMu.Unlock()

		c.log.Debug("refreshed app access token",
			slog.Int("expires_in_seconds", tok.ExpiresIn))

		return tok.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// invalidateToken drops the cached token so the next request fetches a
// fresh one.
func (c *Client) invalidateToken() {
	c.tokenMu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.tokenMu.Unlock()
}

// isRetryableStatus reports whether an HTTP status code indicates a
// transient condition worth retrying.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return code >= 500
}

// do performs a Helix request with rate limiting, authentication and
// retries. Transport errors and 5xx responses are retried with exponential
// backoff. A 401 triggers exactly one token refresh and immediate retry;
// other 4xx responses fail permanently. On success the response body is
// decoded into target when target is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, target any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return recerr.Wrap(recerr.KindTwitchAPI, "twitch.request", fmt.Errorf("encoding request body: %w", err))
		}
	}

	reqURL := c.apiURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var (
		lastErr   error
		refreshed bool
		delay     = c.retryDelay
	)

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		token, err := c.appToken(ctx)
		if err != nil {
			return err
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
		if err != nil {
			return recerr.Wrap(recerr.KindTwitchAPI, "twitch.request", fmt.Errorf("building request: %w", err))
		}
		req.Header.Set("Client-Id", c.clientID)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("User-Agent", c.userAgent)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = recerr.Wrap(recerr.KindTwitchAPI, "twitch.request",
				fmt.Errorf("%s %s: %w", method, path, err))
			c.log.Debug("helix request failed, will retry",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()))
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			var decodeErr error
			if target != nil {
				decodeErr = json.NewDecoder(resp.Body).Decode(target)
			}
			resp.Body.Close()
			if decodeErr != nil {
				return recerr.Wrap(recerr.KindTwitchAPI, "twitch.request",
					fmt.Errorf("decoding response from %s %s: %w", method, path, decodeErr))
			}
			return nil

		case resp.StatusCode == http.StatusUnauthorized && !refreshed:
			resp.Body.Close()
			refreshed = true
			c.invalidateToken()
			// Retry immediately with a fresh token; does not consume a
			// backoff attempt.
			attempt--
			continue

		case isRetryableStatus(resp.StatusCode):
			errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyReadSize))
			resp.Body.Close()
			lastErr = recerr.New(recerr.KindTwitchAPI, "twitch.request",
				"%s %s returned status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(errBody)))
			c.log.Debug("helix request returned retryable status",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1))
			continue

		default:
			errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyReadSize))
			resp.Body.Close()
			return recerr.New(recerr.KindTwitchAPI, "twitch.request",
				"%s %s returned status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(errBody)))
		}
	}

	if lastErr != nil {
		return lastErr
	}
	return recerr.New(recerr.KindTwitchAPI, "twitch.request",
		"%s %s failed after %d attempts", method, path, c.retryAttempts)
}

// GetUsersByLogin fetches users by login name. Unknown logins are silently
// absent from the result.
func (c *Client) GetUsersByLogin(ctx context.Context, logins ...string) ([]User, error) {
	if len(logins) == 0 {
		return nil, nil
	}
	query := url.Values{}
	for _, login := range logins {
		query.Add("login", strings.ToLower(login))
	}
	var resp usersResponse
	if err := c.do(ctx, http.MethodGet, "/users", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetUsersByID fetches users by Twitch user ID.
func (c *Client) GetUsersByID(ctx context.Context, ids ...string) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := url.Values{}
	for _, id := range ids {
		query.Add("id", id)
	}
	var resp usersResponse
	if err := c.do(ctx, http.MethodGet, "/users", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetUserByLogin fetches a single user by login name.
func (c *Client) GetUserByLogin(ctx context.Context, login string) (*User, error) {
	users, err := c.GetUsersByLogin(ctx, login)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, recerr.New(recerr.KindStreamerNotFound, "twitch.get_user",
			"no Twitch user with login %q", login)
	}
	return &users[0], nil
}

// GetStreams fetches live streams for the given user IDs. Offline users are
// absent from the result.
func (c *Client) GetStreams(ctx context.Context, userIDs ...string) ([]Stream, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	query := url.Values{}
	for _, id := range userIDs {
		query.Add("user_id", id)
	}
	var resp streamsResponse
	if err := c.do(ctx, http.MethodGet, "/streams", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetStream fetches the live stream for a single user, or nil when the user
// is offline.
func (c *Client) GetStream(ctx context.Context, userID string) (*Stream, error) {
	streams, err := c.GetStreams(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 {
		return nil, nil
	}
	return &streams[0], nil
}

// GetGames fetches game/category records by ID.
func (c *Client) GetGames(ctx context.Context, ids ...string) ([]Game, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := url.Values{}
	for _, id := range ids {
		query.Add("id", id)
	}
	var resp gamesResponse
	if err := c.do(ctx, http.MethodGet, "/games", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// CreateEventSubSubscription registers a webhook subscription of the given
// type for one broadcaster.
func (c *Client) CreateEventSubSubscription(ctx context.Context, subType, broadcasterID, callbackURL, secret string) (*Subscription, error) {
	body := map[string]any{
		"type":    subType,
		"version": SubscriptionVersion,
		"condition": SubscriptionCondition{
			BroadcasterUserID: broadcasterID,
		},
		"transport": SubscriptionTransport{
			Method:   "webhook",
			Callback: callbackURL,
			Secret:   secret,
		},
	}

	var resp subscriptionsResponse
	if err := c.do(ctx, http.MethodPost, "/eventsub/subscriptions", nil, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, recerr.New(recerr.KindTwitchAPI, "twitch.create_subscription",
			"subscription create returned no data")
	}

	sub := resp.Data[0]
	c.log.Info("created EventSub subscription",
		slog.String("subscription_id", sub.ID),
		slog.String("type", sub.Type),
		slog.String("broadcaster_user_id", broadcasterID))
	return &sub, nil
}

// DeleteEventSubSubscription removes a webhook subscription by ID. Deleting
// an already-removed subscription is not an error.
func (c *Client) DeleteEventSubSubscription(ctx context.Context, id string) error {
	query := url.Values{"id": {id}}
	err := c.do(ctx, http.MethodDelete, "/eventsub/subscriptions", query, nil, nil)
	if err != nil && strings.Contains(err.Error(), "status 404") {
		return nil
	}
	return err
}

// ListEventSubSubscriptions fetches all subscriptions owned by this
// application, following pagination cursors.
func (c *Client) ListEventSubSubscriptions(ctx context.Context) ([]Subscription, error) {
	var (
		all    []Subscription
		cursor string
	)
	for {
		query := url.Values{}
		if cursor != "" {
			query.Set("after", cursor)
		}
		var resp subscriptionsResponse
		if err := c.do(ctx, http.MethodGet, "/eventsub/subscriptions", query, nil, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Data...)
		if resp.Pagination.Cursor == "" {
			return all, nil
		}
		cursor = resp.Pagination.Cursor
	}
}
