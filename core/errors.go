package core

import "errors"

var (
	ErrKeyGeneration           = errors.New("ephemeral key generation failed")
	ErrInvalidEpochHorizon     = errors.New("epoch horizon is not in the future")
	ErrSessionNotPending       = errors.New("login session is not pending")
	ErrNonceMismatch           = errors.New("identity token nonce does not match session")
	ErrTokenExpired            = errors.New("identity token has expired")
	ErrProofServiceUnavailable = errors.New("proof service unavailable")
	ErrProofRejected           = errors.New("proof rejected")
	ErrTokenIntake             = errors.New("malformed identity token delivery")

	ErrSessionNotFound       = errors.New("login session not found")
	ErrSessionExpired        = errors.New("login session has expired")
	ErrSessionExists         = errors.New("login session already exists")
	ErrUnknownProvider       = errors.New("unknown identity provider")
	ErrStoreOperationFailed  = errors.New("store operation failed")
	ErrTokenAlreadyDelivered = errors.New("identity token already delivered for session")
	ErrEpochUnavailable      = errors.New("network epoch unavailable")
)

// ErrInvalidNonceInput is returned when nonce inputs have the wrong length.
var ErrInvalidNonceInput = errors.New("invalid nonce input")
