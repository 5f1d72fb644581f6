// Package auth drives the OAuth 2.0 authorization-code flow against Google
// and keeps a usable access token available to the calendar client.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"calnote/internal/apierr"
	"calnote/internal/token"
)

// CallbackTimeout bounds the wait for the user to finish authorizing.
const CallbackTimeout = 5 * time.Minute

// State is the authentication state of a Flow.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthorizing     State = "authorizing"
	StateAuthenticated   State = "authenticated"
	StateRefreshing      State = "refreshing"
)

// Options tune a Flow. Zero values select production defaults.
type Options struct {
	Window          WindowFactory
	HTTPClient      *http.Client
	RevokeURL       string
	CallbackTimeout time.Duration
}

// Flow produces and refreshes tokens and persists them via the token store.
type Flow struct {
	logger          *slog.Logger
	config          *oauth2.Config
	store           *token.Store
	openWindow      WindowFactory
	httpClient      *http.Client
	revokeURL       string
	callbackTimeout time.Duration
	now             func() time.Time

	refreshes singleflight.Group

	mu    sync.Mutex
	state State
}

// NewFlow creates a Flow and loads any persisted token so IsAuthenticated
// reflects it immediately.
func NewFlow(logger *slog.Logger, config *oauth2.Config, store *token.Store, opts Options) *Flow {
	f := &Flow{
		logger:          logger,
		config:          config,
		store:           store,
		openWindow:      opts.Window,
		httpClient:      opts.HTTPClient,
		revokeURL:       opts.RevokeURL,
		callbackTimeout: opts.CallbackTimeout,
		now:             time.Now,
		state:           StateUnauthenticated,
	}
	if f.openWindow == nil {
		f.openWindow = NewLoopbackWindowFactory(logger, config.RedirectURL, nil)
	}
	if f.httpClient == nil {
		f.httpClient = http.DefaultClient
	}
	if f.revokeURL == "" {
		f.revokeURL = GoogleRevokeURL
	}
	if f.callbackTimeout <= 0 {
		f.callbackTimeout = CallbackTimeout
	}

	tok, err := store.Get()
	if err != nil {
		logger.Warn("Ignoring unreadable stored token.", "error", err)
	} else if tok != nil {
		f.state = StateAuthenticated
	}
	return f
}

// State returns the current authentication state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flow) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// settle moves to the state implied by the token store.
func (f *Flow) settle() {
	if f.IsAuthenticated() {
		f.setState(StateAuthenticated)
		return
	}
	f.setState(StateUnauthenticated)
}

// IsAuthenticated reports whether a token record is held in memory.
// Expiry is not checked here; it is handled when a token is requested.
func (f *Flow) IsAuthenticated() bool {
	return f.store.GetSync() != nil
}

func (f *Flow) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
}

// Login runs the authorization-code flow: it opens the authorization URL in
// a transient window, waits up to the callback timeout for the redirect,
// exchanges the code and saves the token. The window is closed on every
// exit path.
func (f *Flow) Login(ctx context.Context) error {
	f.setState(StateAuthorizing)
	if err := f.authorize(ctx); err != nil {
		f.settle()
		return err
	}
	f.setState(StateAuthenticated)
	f.logger.Info("Successfully authenticated with Google.")
	return nil
}

func (f *Flow) authorize(ctx context.Context) error {
	nonce := uuid.NewString()
	authURL := f.config.AuthCodeURL(nonce, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	win, err := f.openWindow(ctx)
	if err != nil {
		return apierr.Auth("failed to open authorization window", err)
	}
	defer func() {
		if err := win.Close(); err != nil {
			f.logger.Warn("Failed to close authorization window", "error", err)
		}
	}()

	waitCtx, cancel := context.WithTimeout(ctx, f.callbackTimeout)
	defer cancel()

	if err := win.Open(authURL); err != nil {
		return apierr.Auth("failed to show authorization page", err)
	}

	cb, err := f.waitForCallback(waitCtx, win)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apierr.Auth(fmt.Sprintf("no authorization received within %s", f.callbackTimeout), err)
		}
		return apierr.Auth("authorization did not complete", err)
	}
	if cb.Error != "" {
		return apierr.Auth("authorization denied: "+cb.Error, nil)
	}
	if cb.State != nonce {
		return apierr.Auth("authorization state mismatch", nil)
	}
	if cb.Code == "" {
		return apierr.Auth("no authorization code received", nil)
	}

	t, err := f.config.Exchange(f.clientContext(ctx), cb.Code)
	if err != nil {
		return apierr.Auth("authorization code exchange rejected", err)
	}
	if err := f.store.Save(token.FromOAuth2(t, f.now())); err != nil {
		return apierr.Auth("failed to save token", err)
	}
	return nil
}

// waitForCallback waits for the window in a separate goroutine so a window
// that ignores ctx still cannot outlive the timeout.
func (f *Flow) waitForCallback(ctx context.Context, win Window) (*Callback, error) {
	type result struct {
		cb  *Callback
		err error
	}
	ch := make(chan result, 1)
	go func() {
		cb, err := win.WaitForCallback(ctx)
		ch <- result{cb: cb, err: err}
	}()

	select {
	case r := <-ch:
		if r.err == nil && r.cb == nil {
			return nil, ErrWindowClosed
		}
		return r.cb, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Logout forgets the local token without contacting the provider.
func (f *Flow) Logout() error {
	err := f.store.Clear()
	f.setState(StateUnauthenticated)
	if err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	f.logger.Info("Logged out.")
	return nil
}

// Revoke asks the provider to revoke the token and then logs out locally.
// The revocation is best effort; local logout always happens.
func (f *Flow) Revoke(ctx context.Context) error {
	if err := f.revoke(ctx); err != nil {
		f.logger.Warn("Token revocation failed, continuing with local logout", "error", err)
	}
	return f.Logout()
}

func (f *Flow) revoke(ctx context.Context) error {
	tok, err := f.store.Get()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	value := tok.RefreshToken
	if value == "" {
		value = tok.AccessToken
	}

	form := url.Values{"token": {value}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return apierr.Classify(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return apierr.FromHTTP(resp.StatusCode, "", nil)
	}
	f.logger.Info("Revoked Google token.")
	return nil
}

// GetAccessToken returns a usable access token, refreshing it first when it
// is expired or about to expire.
func (f *Flow) GetAccessToken(ctx context.Context) (string, error) {
	tok, err := f.store.Get()
	if err != nil {
		return "", apierr.Auth("failed to load token", err)
	}
	if tok == nil {
		return "", apierr.Auth("not authenticated, run the login flow first", nil)
	}
	if !f.store.IsExpired(tok) {
		return tok.AccessToken, nil
	}

	f.logger.Debug("Access token expired, refreshing.")
	v, err, _ := f.refreshes.Do("refresh", func() (any, error) {
		// A caller that queued behind a finished refresh finds a fresh token.
		if current, err := f.store.Get(); err == nil && current != nil && !f.store.IsExpired(current) {
			return current, nil
		}
		return f.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(*token.OAuthToken).AccessToken, nil
}

// RefreshToken exchanges the stored refresh token for a new access token.
// Concurrent callers share a single exchange.
func (f *Flow) RefreshToken(ctx context.Context) (*token.OAuthToken, error) {
	v, err, _ := f.refreshes.Do("refresh", func() (any, error) {
		return f.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*token.OAuthToken), nil
}

func (f *Flow) refresh(ctx context.Context) (*token.OAuthToken, error) {
	current, err := f.store.Get()
	if err != nil {
		return nil, apierr.Auth("failed to load token", err)
	}
	if current == nil || current.RefreshToken == "" {
		return nil, apierr.Auth("no refresh token available, log in again", nil)
	}

	f.setState(StateRefreshing)
	defer f.settle()

	src := f.config.TokenSource(f.clientContext(ctx), &oauth2.Token{RefreshToken: current.RefreshToken})
	t, err := src.Token()
	if err != nil {
		return nil, apierr.Auth("token refresh rejected", err)
	}

	next := token.FromOAuth2(t, f.now())
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	if next.Scope == "" {
		next.Scope = current.Scope
	}
	if err := f.store.Save(next); err != nil {
		return nil, apierr.Auth("failed to save refreshed token", err)
	}
	f.logger.Info("Refreshed Google access token.", "expiresAt", next.ExpiresAt)
	return next, nil
}
