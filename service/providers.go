package service

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/layer-3/zklogin/core"
	"golang.org/x/oauth2"
)

// Provider is an OpenID identity provider accepted for login.
type Provider struct {
	Name        string   `json:"name"`
	Issuer      string   `json:"issuer"`
	AuthURL     string   `json:"auth_url"`
	JWKSURL     string   `json:"jwks_url"`
	ClientID    string   `json:"client_id"`
	RedirectURL string   `json:"redirect_url"`
	Scopes      []string `json:"scopes,omitempty"`
}

// AuthorizationRequest is what the caller sends the user to.
type AuthorizationRequest struct {
	URL    string            `json:"url"`
	Params map[string]string `json:"params"`
}

// DefaultProviders returns the built-in providers without client
// configuration.
func DefaultProviders() []Provider {
	return []Provider{
		{
			Name:    "Google",
			Issuer:  "https://accounts.google.com",
			AuthURL: "https://accounts.google.com/o/oauth2/v2/auth",
			JWKSURL: "https://www.googleapis.com/oauth2/v3/certs",
		},
		{
			Name:    "Facebook",
			Issuer:  "https://www.facebook.com",
			AuthURL: "https://www.facebook.com/v19.0/dialog/oauth",
			JWKSURL: "https://www.facebook.com/.well-known/oauth/openid/jwks/",
		},
		{
			Name:    "Twitch",
			Issuer:  "https://id.twitch.tv/oauth2",
			AuthURL: "https://id.twitch.tv/oauth2/authorize",
			JWKSURL: "https://id.twitch.tv/oauth2/keys",
		},
	}
}

// AuthorizationRequest builds the implicit-flow request that asks the
// provider for an identity token carrying nonce. The session id travels as
// the state parameter.
func (p Provider) AuthorizationRequest(sessionID string, nonce core.Nonce) (AuthorizationRequest, error) {
	conf := oauth2.Config{
		ClientID:    p.ClientID,
		RedirectURL: p.RedirectURL,
		Scopes:      p.scopes(),
		Endpoint:    oauth2.Endpoint{AuthURL: p.AuthURL},
	}
	raw := conf.AuthCodeURL(sessionID,
		oauth2.SetAuthURLParam("response_type", "id_token"),
		oauth2.SetAuthURLParam("nonce", string(nonce)),
	)

	u, err := url.Parse(raw)
	if err != nil {
		return AuthorizationRequest{}, fmt.Errorf("authorization url for %s: %w", p.Name, err)
	}
	params := make(map[string]string, len(u.Query()))
	for k, v := range u.Query() {
		params[k] = v[0]
	}
	return AuthorizationRequest{URL: raw, Params: params}, nil
}

func (p Provider) scopes() []string {
	for _, s := range p.Scopes {
		if s == "openid" {
			return p.Scopes
		}
	}
	return append([]string{"openid"}, p.Scopes...)
}

// Providers is a registry of providers looked up case-insensitively by name.
type Providers struct {
	byName map[string]Provider
}

func NewProviders(list ...Provider) (*Providers, error) {
	r := &Providers{byName: make(map[string]Provider, len(list))}
	for _, p := range list {
		if p.Name == "" || p.Issuer == "" || p.AuthURL == "" {
			return nil, fmt.Errorf("provider %q: name, issuer and auth_url are required", p.Name)
		}
		key := strings.ToLower(p.Name)
		if _, dup := r.byName[key]; dup {
			return nil, fmt.Errorf("provider %q registered twice", p.Name)
		}
		r.byName[key] = p
	}
	return r, nil
}

// Lookup returns the provider named name or core.ErrUnknownProvider.
func (r *Providers) Lookup(name string) (Provider, error) {
	p, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %q", core.ErrUnknownProvider, name)
	}
	return p, nil
}

// All returns every registered provider.
func (r *Providers) All() []Provider {
	out := make([]Provider, 0, len(r.byName))
	for _, p := range r.byName {
		out = append(out, p)
	}
	return out
}
