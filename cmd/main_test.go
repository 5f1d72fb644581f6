package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calnote/internal/apierr"
	"calnote/internal/token"
)

func noEnv(string) string { return "" }

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "timezone: UTC\nstorage:\n  backend: file\n  path: " + filepath.Join(dir, "data") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestOpenEnv_LocalCommandsNeedNoCredentials(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := writeConfig(t)

	e, err := openEnv(logger, path, noEnv, false)
	require.NoError(t, err)
	defer e.Close()
	assert.Nil(t, e.flow)
	assert.Nil(t, e.client)

	expires := time.Now().Add(time.Hour)
	require.NoError(t, e.tokens.Save(&token.OAuthToken{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", ExpiresAt: &expires}))

	var out bytes.Buffer
	require.NoError(t, printStatus(&out, e))
	assert.Contains(t, out.String(), "State: authenticated")

	require.NoError(t, logout(e))
	tok, err := e.tokens.Get()
	require.NoError(t, err)
	assert.Nil(t, tok)

	out.Reset()
	require.NoError(t, printStatus(&out, e))
	assert.Equal(t, "State: unauthenticated\n", out.String())
}

func TestOpenEnv_OAuthCommandsRequireCredentials(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := writeConfig(t)

	_, err := openEnv(logger, path, noEnv, true)

	require.Error(t, err)
	assert.True(t, apierr.IsValidation(err))
}

func TestOpenEnv_CredentialsFromEnvironment(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := writeConfig(t)
	getenv := func(key string) string {
		switch key {
		case "GOOGLE_CLIENT_ID":
			return "id"
		case "GOOGLE_CLIENT_SECRET":
			return "secret"
		}
		return ""
	}

	e, err := openEnv(logger, path, getenv, true)
	require.NoError(t, err)
	defer e.Close()

	assert.NotNil(t, e.flow)
	assert.NotNil(t, e.client)
}
