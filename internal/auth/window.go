package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// ErrWindowClosed is returned by WaitForCallback once the window is closed.
var ErrWindowClosed = errors.New("authorization window closed")

// Callback is what the provider redirects back with.
type Callback struct {
	Code  string
	State string
	Error string
}

// Window is the transient user-facing context the authorization URL is
// opened in. Close must be safe to call more than once.
type Window interface {
	Open(authURL string) error
	WaitForCallback(ctx context.Context) (*Callback, error)
	Close() error
}

// WindowFactory acquires a new Window for one login attempt.
type WindowFactory func(ctx context.Context) (Window, error)

// LoopbackWindow receives the redirect on a local HTTP listener and shows
// the authorization page in the system browser.
type LoopbackWindow struct {
	logger      *slog.Logger
	server      *http.Server
	listener    net.Listener
	openBrowser func(string) error

	results   chan *Callback
	done      chan struct{}
	closeOnce sync.Once
}

// NewLoopbackWindowFactory returns a factory that binds the host and path of
// redirectURL. browser opens a URL for the user; nil uses the OS default.
func NewLoopbackWindowFactory(logger *slog.Logger, redirectURL string, browser func(string) error) WindowFactory {
	if browser == nil {
		browser = openBrowser
	}
	return func(ctx context.Context) (Window, error) {
		u, err := url.Parse(redirectURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redirect URL: %w", err)
		}
		path := u.Path
		if path == "" {
			path = "/"
		}

		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("failed to listen for OAuth callback: %w", err)
		}

		w := &LoopbackWindow{
			logger:      logger,
			listener:    ln,
			openBrowser: browser,
			results:     make(chan *Callback, 1),
			done:        make(chan struct{}),
		}

		router := mux.NewRouter()
		router.HandleFunc(path, w.handleCallback).Methods(http.MethodGet)
		w.server = &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}

		go func() {
			if err := w.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("OAuth callback listener failed", "error", err)
			}
		}()
		return w, nil
	}
}

// Addr returns the address the callback listener is bound to.
func (w *LoopbackWindow) Addr() string {
	return w.listener.Addr().String()
}

// Open shows authURL to the user. If no browser can be launched the URL is
// logged so it can be opened by hand.
func (w *LoopbackWindow) Open(authURL string) error {
	w.logger.Info("Opening browser for Google authorization.", "url", authURL)
	if err := w.openBrowser(authURL); err != nil {
		w.logger.Warn("Could not open a browser, visit the URL manually.", "url", authURL, "error", err)
	}
	return nil
}

// WaitForCallback blocks until the redirect arrives, the window is closed or
// ctx is done.
func (w *LoopbackWindow) WaitForCallback(ctx context.Context) (*Callback, error) {
	select {
	case cb := <-w.results:
		return cb, nil
	case <-w.done:
		return nil, ErrWindowClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the listener.
func (w *LoopbackWindow) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = w.server.Shutdown(ctx)
	})
	return err
}

func (w *LoopbackWindow) handleCallback(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cb := &Callback{
		Code:  q.Get("code"),
		State: q.Get("state"),
		Error: q.Get("error"),
	}

	select {
	case w.results <- cb:
	default:
		// A callback was already delivered; ignore repeats.
	}

	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if cb.Error != "" {
		rw.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprintf(rw, "Authorization failed: %s. You can close this window.", cb.Error)
		return
	}
	_, _ = fmt.Fprint(rw, "Authorization successful! You can close this window.")
}

// openBrowser attempts to open url in the default browser.
func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start", url}
	default:
		cmd = "xdg-open"
		args = []string{url}
	}

	return exec.Command(cmd, args...).Start()
}
