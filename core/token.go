package core

import "time"

// IdentityToken holds the claims of an identity token returned by a provider.
// It is untrusted until its nonce has been matched against a session.
type IdentityToken struct {
	Raw       string
	Issuer    string
	Subject   string
	Audience  []string
	Nonce     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token expiry has elapsed at now.
func (t IdentityToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// PrimaryAudience returns the first audience, normally the client id.
func (t IdentityToken) PrimaryAudience() string {
	if len(t.Audience) == 0 {
		return ""
	}
	return t.Audience[0]
}
