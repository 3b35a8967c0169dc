// Package auth refreshes OAuth2 access tokens for cloud document sources.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jun/docrag/backend/internal/model"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"golang.org/x/oauth2/google"
)

var ErrNoRefreshToken = errors.New("no refresh token")

// TokenRefresher exchanges a refresh token for a new access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, provider model.ProviderType, clientID, clientSecret, refreshToken string) (*oauth2.Token, error)
}

// OAuthRefresher implements TokenRefresher with golang.org/x/oauth2 against the
// provider's token endpoint.
type OAuthRefresher struct {
	endpoints  map[model.ProviderType]oauth2.Endpoint
	httpClient *http.Client
}

// NewOAuthRefresher returns a refresher configured with the public endpoints of
// every supported provider. OneDrive uses the multi-tenant "common" authority.
func NewOAuthRefresher() *OAuthRefresher {
	return &OAuthRefresher{
		endpoints: map[model.ProviderType]oauth2.Endpoint{
			model.ProviderGoogleDrive: google.Endpoint,
			model.ProviderDropbox:     endpoints.Dropbox,
			model.ProviderOneDrive:    endpoints.AzureAD("common"),
		},
	}
}

// WithEndpoint overrides the token endpoint of a provider.
func (r *OAuthRefresher) WithEndpoint(provider model.ProviderType, ep oauth2.Endpoint) *OAuthRefresher {
	r.endpoints[provider] = ep
	return r
}

// WithHTTPClient sets the client used for token requests.
func (r *OAuthRefresher) WithHTTPClient(c *http.Client) *OAuthRefresher {
	r.httpClient = c
	return r
}

// Config returns the oauth2 configuration for a provider's client application.
func (r *OAuthRefresher) Config(provider model.ProviderType, clientID, clientSecret string) (*oauth2.Config, error) {
	ep, ok := r.endpoints[provider]
	if !ok {
		return nil, fmt.Errorf("no oauth endpoint for provider %q", provider)
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     ep,
	}, nil
}

// Refresh forces a refresh-token grant. The returned token keeps the old
// refresh token when the provider does not rotate it.
func (r *OAuthRefresher) Refresh(ctx context.Context, provider model.ProviderType, clientID, clientSecret, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	cfg, err := r.Config(provider, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}

	token := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-1 * time.Hour), // Force refresh
	}
	fresh, err := cfg.TokenSource(ctx, token).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh %s token: %w", provider, err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = refreshToken
	}
	return fresh, nil
}
