package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoopback(t *testing.T, opened chan<- string) *LoopbackWindow {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := NewLoopbackWindowFactory(logger, "http://127.0.0.1:0/oauth/callback", func(u string) error {
		if opened != nil {
			opened <- u
		}
		return nil
	})
	win, err := factory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = win.Close() })
	return win.(*LoopbackWindow)
}

func TestLoopbackWindow_DeliversCallback(t *testing.T) {
	opened := make(chan string, 1)
	win := newLoopback(t, opened)

	require.NoError(t, win.Open("https://accounts.example.com/auth?state=s"))
	assert.Equal(t, "https://accounts.example.com/auth?state=s", <-opened)

	go func() {
		resp, err := http.Get(fmt.Sprintf("http://%s/oauth/callback?code=abc&state=xyz", win.Addr()))
		if err == nil {
			_ = resp.Body.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cb, err := win.WaitForCallback(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", cb.Code)
	assert.Equal(t, "xyz", cb.State)
	assert.Empty(t, cb.Error)
}

func TestLoopbackWindow_ProviderError(t *testing.T) {
	win := newLoopback(t, nil)

	resp, err := http.Get(fmt.Sprintf("http://%s/oauth/callback?error=access_denied", win.Addr()))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	cb, err := win.WaitForCallback(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access_denied", cb.Error)
}

func TestLoopbackWindow_CloseUnblocksWait(t *testing.T) {
	win := newLoopback(t, nil)

	require.NoError(t, win.Close())
	require.NoError(t, win.Close(), "second close should be a no-op")

	_, err := win.WaitForCallback(context.Background())
	assert.ErrorIs(t, err, ErrWindowClosed)
}

func TestLoopbackWindow_ContextTimeout(t *testing.T) {
	win := newLoopback(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := win.WaitForCallback(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewOAuthConfig(t *testing.T) {
	_, err := NewOAuthConfig("", "", "")
	assert.Error(t, err)

	cfg, err := NewOAuthConfig("id", "secret", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultRedirectURL, cfg.RedirectURL)
	assert.Contains(t, cfg.Scopes, "https://www.googleapis.com/auth/calendar.readonly")
}
