package idtoken

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/layer-3/zklogin/core"
	"github.com/layer-3/zklogin/ports"
)

// TrustedIssuer is an issuer whose tokens are accepted for a client id.
type TrustedIssuer struct {
	Issuer   string
	ClientID string
	KeySet   oidc.KeySet
}

// OIDCVerifier checks token signatures and audience against the issuer key
// set. Expiry is left to the caller so it can be reported as
// core.ErrTokenExpired rather than an intake failure.
type OIDCVerifier struct {
	parser    Parser
	verifiers map[string]*oidc.IDTokenVerifier
}

var _ ports.TokenVerifier = (*OIDCVerifier)(nil)

func NewOIDCVerifier(issuers ...TrustedIssuer) *OIDCVerifier {
	v := &OIDCVerifier{
		parser:    NewParser(),
		verifiers: make(map[string]*oidc.IDTokenVerifier, len(issuers)),
	}
	for _, iss := range issuers {
		v.verifiers[iss.Issuer] = oidc.NewVerifier(iss.Issuer, iss.KeySet, &oidc.Config{
			ClientID:        iss.ClientID,
			SkipExpiryCheck: true,
		})
	}
	return v
}

// RemoteKeySet fetches and caches the issuer keys published at jwksURL.
func RemoteKeySet(ctx context.Context, jwksURL string) oidc.KeySet {
	return oidc.NewRemoteKeySet(ctx, jwksURL)
}

func (v *OIDCVerifier) Verify(ctx context.Context, raw string) (core.IdentityToken, error) {
	tok, err := v.parser.Parse(raw)
	if err != nil {
		return core.IdentityToken{}, err
	}

	verifier, ok := v.verifiers[tok.Issuer]
	if !ok {
		return core.IdentityToken{}, fmt.Errorf("%w: untrusted issuer %q", core.ErrTokenIntake, tok.Issuer)
	}
	if _, err := verifier.Verify(ctx, raw); err != nil {
		return core.IdentityToken{}, fmt.Errorf("%w: %v", core.ErrTokenIntake, err)
	}
	return tok, nil
}
