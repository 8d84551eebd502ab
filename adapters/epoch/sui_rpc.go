// Package epoch provides sources for the current network epoch.
package epoch

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/layer-3/zklogin/ports"
)

const systemStateMethod = "suix_getLatestSuiSystemState"

// SuiRPC reads the epoch from a Sui full node over JSON-RPC and caches it for
// cacheTTL; epochs last hours so a short cache is safe.
type SuiRPC struct {
	client   *rpc.Client
	cacheTTL time.Duration

	mu        sync.Mutex
	cached    uint64
	fetchedAt time.Time
}

var _ ports.EpochSource = (*SuiRPC)(nil)

// DialSuiRPC connects to the node at url.
func DialSuiRPC(ctx context.Context, url string, cacheTTL time.Duration) (*SuiRPC, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial sui rpc: %w", err)
	}
	return &SuiRPC{client: client, cacheTTL: cacheTTL}, nil
}

func (s *SuiRPC) CurrentEpoch(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fetchedAt.IsZero() && time.Since(s.fetchedAt) < s.cacheTTL {
		return s.cached, nil
	}

	var state struct {
		Epoch string `json:"epoch"`
	}
	if err := s.client.CallContext(ctx, &state, systemStateMethod); err != nil {
		return 0, fmt.Errorf("%s: %w", systemStateMethod, err)
	}
	epoch, err := strconv.ParseUint(state.Epoch, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse epoch %q: %w", state.Epoch, err)
	}
	s.cached = epoch
	s.fetchedAt = time.Now()
	return epoch, nil
}

// Close closes the RPC connection.
func (s *SuiRPC) Close() {
	s.client.Close()
}

// Fixed is an epoch source set by hand.
type Fixed struct {
	epoch atomic.Uint64
}

var _ ports.EpochSource = (*Fixed)(nil)

func NewFixed(epoch uint64) *Fixed {
	f := &Fixed{}
	f.epoch.Store(epoch)
	return f
}

func (f *Fixed) Set(epoch uint64) { f.epoch.Store(epoch) }

func (f *Fixed) CurrentEpoch(context.Context) (uint64, error) {
	return f.epoch.Load(), nil
}
