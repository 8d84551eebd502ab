package ports

import (
	"context"

	"github.com/layer-3/zklogin/core"
)

// Prover obtains a zero-knowledge proof for a bound identity token.
// Errors wrap core.ErrProofServiceUnavailable or core.ErrProofRejected.
type Prover interface {
	AcquireProof(ctx context.Context, req core.ProofRequest) (core.ProofArtifact, error)
}

// EpochSource reports the current network epoch.
type EpochSource interface {
	CurrentEpoch(ctx context.Context) (uint64, error)
}

// TokenVerifier turns a raw identity token into claims.
// Malformed tokens yield core.ErrTokenIntake.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (core.IdentityToken, error)
}
