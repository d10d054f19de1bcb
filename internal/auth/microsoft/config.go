// Package microsoft is the SSO adapter for the Microsoft identity platform. It runs
// the OAuth2 authorization-code flow with PKCE, caches the signed-in identity and
// converts it into a portal account.
package microsoft

import (
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// DefaultScopes requests an id_token, a refresh token and Graph profile access.
var DefaultScopes = []string{"openid", "profile", "email", "offline_access", "User.Read"}

// Config identifies the app registration.
type Config struct {
	ClientID     string
	ClientSecret string
	// Tenant is a tenant id or domain. Empty means "common".
	Tenant string
	// Authority overrides the endpoint base, e.g. "https://login.microsoftonline.com/<tenant>".
	Authority   string
	RedirectURL string
	Scopes      []string
}

// Configured reports whether a client id is set.
func (c Config) Configured() bool {
	return strings.TrimSpace(c.ClientID) != ""
}

func (c Config) endpoint() oauth2.Endpoint {
	if base := strings.TrimRight(strings.TrimSpace(c.Authority), "/"); base != "" {
		return oauth2.Endpoint{
			AuthURL:   base + "/oauth2/v2.0/authorize",
			TokenURL:  base + "/oauth2/v2.0/token",
			AuthStyle: oauth2.AuthStyleInParams,
		}
	}
	ep := microsoft.AzureADEndpoint(c.Tenant)
	ep.AuthStyle = oauth2.AuthStyleInParams
	return ep
}

func (c Config) oauthConfig() *oauth2.Config {
	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       scopes,
		Endpoint:     c.endpoint(),
	}
}
