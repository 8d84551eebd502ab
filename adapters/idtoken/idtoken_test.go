package idtoken_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/zklogin/adapters/idtoken"
	"github.com/layer-3/zklogin/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://accounts.google.com"
	testClientID = "client-123.apps.googleusercontent.com"
)

func signedToken(t *testing.T, key *rsa.PrivateKey, mutate func(*idtoken.Claims)) string {
	t.Helper()
	now := time.Now()
	claims := &idtoken.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   "110169484474386276334",
			Audience:  jwt.ClaimStrings{testClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Nonce: "dGVzdC1ub25jZS12YWx1ZS0xMjM0NTY",
	}
	if mutate != nil {
		mutate(claims)
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return raw
}

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestParser(t *testing.T) {
	key := newKey(t)
	p := idtoken.NewParser()

	tok, err := p.Parse(signedToken(t, key, nil))
	require.NoError(t, err)
	assert.Equal(t, testIssuer, tok.Issuer)
	assert.Equal(t, "110169484474386276334", tok.Subject)
	assert.Equal(t, testClientID, tok.PrimaryAudience())
	assert.Equal(t, "dGVzdC1ub25jZS12YWx1ZS0xMjM0NTY", tok.Nonce)
	assert.False(t, tok.Expired(time.Now()))
}

func TestParserRejectsIncompleteTokens(t *testing.T) {
	key := newKey(t)
	p := idtoken.NewParser()

	cases := map[string]func(*idtoken.Claims){
		"missing iss":   func(c *idtoken.Claims) { c.Issuer = "" },
		"missing sub":   func(c *idtoken.Claims) { c.Subject = "" },
		"missing nonce": func(c *idtoken.Claims) { c.Nonce = "" },
		"missing aud":   func(c *idtoken.Claims) { c.Audience = nil },
		"missing exp":   func(c *idtoken.Claims) { c.ExpiresAt = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.Parse(signedToken(t, key, mutate))
			assert.ErrorIs(t, err, core.ErrTokenIntake)
		})
	}

	_, err := p.Parse("not-a-jwt")
	assert.ErrorIs(t, err, core.ErrTokenIntake)
}

func TestOIDCVerifier(t *testing.T) {
	key := newKey(t)
	v := idtoken.NewOIDCVerifier(idtoken.TrustedIssuer{
		Issuer:   testIssuer,
		ClientID: testClientID,
		KeySet:   &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}},
	})
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		tok, err := v.Verify(ctx, signedToken(t, key, nil))
		require.NoError(t, err)
		assert.Equal(t, testIssuer, tok.Issuer)
	})

	t.Run("expired tokens pass through", func(t *testing.T) {
		tok, err := v.Verify(ctx, signedToken(t, key, func(c *idtoken.Claims) {
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		}))
		require.NoError(t, err)
		assert.True(t, tok.Expired(time.Now()))
	})

	t.Run("wrong key", func(t *testing.T) {
		_, err := v.Verify(ctx, signedToken(t, newKey(t), nil))
		assert.ErrorIs(t, err, core.ErrTokenIntake)
	})

	t.Run("wrong audience", func(t *testing.T) {
		_, err := v.Verify(ctx, signedToken(t, key, func(c *idtoken.Claims) {
			c.Audience = jwt.ClaimStrings{"someone-else"}
		}))
		assert.ErrorIs(t, err, core.ErrTokenIntake)
	})

	t.Run("untrusted issuer", func(t *testing.T) {
		_, err := v.Verify(ctx, signedToken(t, key, func(c *idtoken.Claims) {
			c.Issuer = "https://evil.example"
		}))
		assert.ErrorIs(t, err, core.ErrTokenIntake)
	})
}
