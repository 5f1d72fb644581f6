// Package token holds the OAuth token record and the store that persists it
// and judges its freshness.
package token

import (
	"bytes"
	"encoding/json"
	"time"

	"golang.org/x/oauth2"

	"calnote/internal/apierr"
)

// OAuthToken is the persisted token record.
type OAuthToken struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int64      `json:"expires_in"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Scope        string     `json:"scope,omitempty"`
}

// FromOAuth2 converts a token returned by the oauth2 package.
func FromOAuth2(t *oauth2.Token, now time.Time) *OAuthToken {
	if t == nil {
		return nil
	}
	tok := &OAuthToken{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		ExpiresIn:    t.ExpiresIn,
	}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	if !t.Expiry.IsZero() {
		expiry := t.Expiry
		tok.ExpiresAt = &expiry
		if tok.ExpiresIn == 0 {
			tok.ExpiresIn = int64(expiry.Sub(now).Seconds())
		}
	}
	if scope, ok := t.Extra("scope").(string); ok {
		tok.Scope = scope
	}
	return tok
}

// OAuth2 converts the record for use with oauth2 token sources.
func (t *OAuthToken) OAuth2() *oauth2.Token {
	out := &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		ExpiresIn:    t.ExpiresIn,
	}
	if t.ExpiresAt != nil {
		out.Expiry = *t.ExpiresAt
	}
	return out
}

// Validate decodes a raw record and checks its structure: the access token
// and token type must be non-empty strings and the refresh_token field must
// be present as a string.
func Validate(data []byte) (*OAuthToken, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, apierr.Validation("token", "record is not a JSON object")
	}
	for _, name := range []string{"access_token", "token_type"} {
		var s string
		raw, ok := fields[name]
		if !ok || json.Unmarshal(raw, &s) != nil || s == "" {
			return nil, apierr.Validation(name, "must be a non-empty string")
		}
	}
	var refresh string
	raw, ok := fields["refresh_token"]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) || json.Unmarshal(raw, &refresh) != nil {
		return nil, apierr.Validation("refresh_token", "must be present")
	}

	var tok OAuthToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, apierr.Validation("token", err.Error())
	}
	return &tok, nil
}

// IsValid reports whether data is a structurally valid token record.
func IsValid(data []byte) bool {
	_, err := Validate(data)
	return err == nil
}
