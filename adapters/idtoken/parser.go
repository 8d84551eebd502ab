// Package idtoken turns provider identity tokens into core.IdentityToken.
package idtoken

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/zklogin/core"
	"github.com/layer-3/zklogin/ports"
)

// Parser reads identity token claims without checking the signature.
// It suits deployments where the prover verifies the token against the
// provider keys; use OIDCVerifier to check signatures locally.
type Parser struct {
	parser *jwt.Parser
}

var _ ports.TokenVerifier = Parser{}

func NewParser() Parser {
	return Parser{parser: jwt.NewParser()}
}

func (p Parser) Verify(_ context.Context, raw string) (core.IdentityToken, error) {
	return p.Parse(raw)
}

// Parse decodes raw and checks that the claims needed for login are present.
func (p Parser) Parse(raw string) (core.IdentityToken, error) {
	if p.parser == nil {
		p.parser = jwt.NewParser()
	}

	claims := &Claims{}
	if _, _, err := p.parser.ParseUnverified(raw, claims); err != nil {
		return core.IdentityToken{}, fmt.Errorf("%w: %v", core.ErrTokenIntake, err)
	}

	switch {
	case claims.Issuer == "":
		return core.IdentityToken{}, fmt.Errorf("%w: missing iss", core.ErrTokenIntake)
	case claims.Subject == "":
		return core.IdentityToken{}, fmt.Errorf("%w: missing sub", core.ErrTokenIntake)
	case claims.Nonce == "":
		return core.IdentityToken{}, fmt.Errorf("%w: missing nonce", core.ErrTokenIntake)
	case len(claims.Audience) == 0:
		return core.IdentityToken{}, fmt.Errorf("%w: missing aud", core.ErrTokenIntake)
	case claims.ExpiresAt == nil:
		return core.IdentityToken{}, fmt.Errorf("%w: missing exp", core.ErrTokenIntake)
	}

	tok := core.IdentityToken{
		Raw:       raw,
		Issuer:    claims.Issuer,
		Subject:   claims.Subject,
		Audience:  []string(claims.Audience),
		Nonce:     claims.Nonce,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		tok.IssuedAt = claims.IssuedAt.Time
	}
	return tok, nil
}
