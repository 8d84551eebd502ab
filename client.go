// Package zklogin binds ephemeral signing keys to OpenID identity tokens and
// turns them into provable on-chain accounts.
package zklogin

import (
	"context"

	"github.com/layer-3/zklogin/core"
	"github.com/layer-3/zklogin/service"
)

// Client represents the public interface for running a login
type Client interface {
	// Begin starts a login with a provider and returns the authorization request
	Begin(ctx context.Context, provider string, opts ...service.BeginOption) (service.BeginResult, error)

	// Complete binds the identity token to the session and returns the account
	Complete(ctx context.Context, sessionID, rawToken string) (core.AccountDescriptor, error)

	// AwaitAndComplete waits for the host to deliver the token, then completes
	AwaitAndComplete(ctx context.Context, sessionID string) (core.AccountDescriptor, error)

	// Remove abandons the session
	Remove(ctx context.Context, sessionID string) error

	// Bridge receives tokens delivered by the host
	Bridge() *service.Bridge
}

var _ Client = (*service.AuthService)(nil)
