package epoch_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/layer-3/zklogin/adapters/epoch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func suiNode(t *testing.T, epochValue string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		calls.Add(1)
		assert.Equal(t, "suix_getLatestSuiSystemState", req.Method)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  map[string]any{"epoch": epochValue, "protocolVersion": "70"},
		})
	}))
}

func TestSuiRPCCurrentEpoch(t *testing.T) {
	var calls atomic.Int32
	srv := suiNode(t, "412", &calls)
	defer srv.Close()

	src, err := epoch.DialSuiRPC(context.Background(), srv.URL, time.Minute)
	require.NoError(t, err)
	defer src.Close()

	e, err := src.CurrentEpoch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(412), e)

	_, err = src.CurrentEpoch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSuiRPCBadEpoch(t *testing.T) {
	var calls atomic.Int32
	srv := suiNode(t, "not-a-number", &calls)
	defer srv.Close()

	src, err := epoch.DialSuiRPC(context.Background(), srv.URL, 0)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.CurrentEpoch(context.Background())
	assert.Error(t, err)
}

func TestFixed(t *testing.T) {
	f := epoch.NewFixed(3)
	e, _ := f.CurrentEpoch(context.Background())
	assert.Equal(t, uint64(3), e)
	f.Set(9)
	e, _ = f.CurrentEpoch(context.Background())
	assert.Equal(t, uint64(9), e)
}
