package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/layer-3/zklogin/core"
	"github.com/layer-3/zklogin/ports"
	"github.com/rs/zerolog"
)

const maxReasonLength = 256

// Config controls the prover client.
type Config struct {
	URL             string
	Timeout         time.Duration
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPProver talks to a remote proving service over JSON/HTTP.
type HTTPProver struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger
}

var _ ports.Prover = (*HTTPProver)(nil)

// NewHTTPProver creates a prover client. A nil client uses http.DefaultClient.
func NewHTTPProver(cfg Config, client *http.Client, logger zerolog.Logger) *HTTPProver {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	return &HTTPProver{cfg: cfg, client: client, logger: logger}
}

type transientError struct {
	status int
	reason string
}

func (e *transientError) Error() string {
	return fmt.Sprintf("prover returned %d: %s", e.status, e.reason)
}

// AcquireProof posts req and retries transient failures with exponential
// backoff, up to MaxAttempts attempts in total.
func (p *HTTPProver) AcquireProof(ctx context.Context, req core.ProofRequest) (core.ProofArtifact, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return core.ProofArtifact{}, fmt.Errorf("%w: encode request: %w", core.ErrProofRejected, err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialInterval
	b.MaxInterval = p.cfg.MaxInterval

	attempts := 0
	proof, err := backoff.Retry(ctx, func() (core.ProofArtifact, error) {
		attempts++
		return p.attempt(ctx, body)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			p.logger.Warn().Err(err).Int("attempt", attempts).Dur("retry_in", wait).Msg("proof request failed")
		}),
	)
	if err == nil {
		return proof, nil
	}
	if errors.Is(err, core.ErrProofRejected) {
		return core.ProofArtifact{}, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return core.ProofArtifact{}, fmt.Errorf("%w: %w", core.ErrProofServiceUnavailable, ctxErr)
	}
	return core.ProofArtifact{}, fmt.Errorf("%w after %d attempts: %s", core.ErrProofServiceUnavailable, attempts, err)
}

func (p *HTTPProver) attempt(ctx context.Context, body []byte) (core.ProofArtifact, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return core.ProofArtifact{}, backoff.Permanent(fmt.Errorf("%w: build request: %w", core.ErrProofServiceUnavailable, err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return core.ProofArtifact{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return core.ProofArtifact{}, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var proof core.ProofArtifact
		if err := json.Unmarshal(payload, &proof); err != nil {
			return core.ProofArtifact{}, backoff.Permanent(fmt.Errorf("%w: malformed response: %w", core.ErrProofRejected, err))
		}
		if !proof.Complete() {
			return core.ProofArtifact{}, backoff.Permanent(fmt.Errorf("%w: response is missing proof elements", core.ErrProofRejected))
		}
		return proof, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		// hints longer than MaxInterval fall back to the capped backoff
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 && secs <= int(p.cfg.MaxInterval/time.Second) {
			return core.ProofArtifact{}, backoff.RetryAfter(secs)
		}
		return core.ProofArtifact{}, &transientError{status: resp.StatusCode, reason: rejectionReason(payload)}

	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		return core.ProofArtifact{}, &transientError{status: resp.StatusCode, reason: rejectionReason(payload)}

	default:
		return core.ProofArtifact{}, backoff.Permanent(fmt.Errorf("%w: %d %s", core.ErrProofRejected, resp.StatusCode, rejectionReason(payload)))
	}
}

// rejectionReason pulls a message out of an error body.
func rejectionReason(payload []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	reason := strings.TrimSpace(string(payload))
	if len(reason) > maxReasonLength {
		reason = reason[:maxReasonLength]
	}
	return reason
}
