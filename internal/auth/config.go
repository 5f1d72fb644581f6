package auth

import (
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

const (
	// DefaultRedirectURL is the loopback address the callback listener binds.
	DefaultRedirectURL = "http://127.0.0.1:8085/oauth/callback"

	// GoogleRevokeURL is the provider's token revocation endpoint.
	GoogleRevokeURL = "https://oauth2.googleapis.com/revoke"
)

// NewOAuthConfig returns the OAuth2 config for read-only calendar access.
func NewOAuthConfig(clientID, clientSecret, redirectURL string) (*oauth2.Config, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("google OAuth credentials not configured. Set GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET or the google section of the config file")
	}
	if redirectURL == "" {
		redirectURL = DefaultRedirectURL
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			calendar.CalendarReadonlyScope,
			calendar.CalendarSettingsReadonlyScope,
		},
		Endpoint: google.Endpoint,
	}, nil
}
