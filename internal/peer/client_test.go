package peer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prosumer-p2p/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestHTTPClientRoundTrip(t *testing.T) {
	var pushed model.PeerSnapshot
	mux := http.NewServeMux()
	mux.HandleFunc(RoutePrefix+PathUpdatePeer, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&pushed))
		writeJSON(w, http.StatusOK, Ack{Ack: true})
	})
	mux.HandleFunc(RoutePrefix+PathGetPeer, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, snapshot("node-b", 1, -0.3))
	})
	mux.HandleFunc(RoutePrefix+PathHealth, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthStatus{Reachable: true, HasData: true, State: "RUNNING", NodeID: "node-b"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", quietLogger())
	ctx := context.Background()

	require.NoError(t, c.UpdatePeerData(ctx, snapshot("node-a", 0, 1.2)))
	assert.Equal(t, "node-a", pushed.NodeID)
	assert.Equal(t, 1.2, pushed.Balance)

	got, err := c.GetPeerData(ctx)
	require.NoError(t, err)
	assert.Equal(t, -0.3, got.Balance)
	assert.True(t, got.Enable)

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.True(t, h.HasData)
}

func TestHTTPClientErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": map[string]string{"code": CodeNoData, "message": "node-b has not settled a tick yet"},
		})
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, quietLogger()).GetPeerData(context.Background())
	var pe *PeerError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusNotFound, pe.StatusCode)
	assert.Equal(t, CodeNoData, pe.Code)
	assert.ErrorIs(t, err, ErrNoPeerData)
	assert.False(t, pe.Retryable())
}

func TestHTTPClientUnreachableIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	svc := NewService("node-a", NewCache(0), quietLogger())
	p, err := NewProtocol(Config{
		NodeID: "node-a",
		PeerID: "node-b",
		Retry:  RetryPolicy{MaxRetries: 3, Timeout: time.Second},
	}, NewHTTPClient(url, quietLogger()), svc, quietLogger())
	require.NoError(t, err)

	err = p.Push(context.Background(), snapshot("node-a", 0, 1))
	assert.ErrorIs(t, err, ErrPeerUnreachable)
}

func TestHTTPClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := NewHTTPClient(srv.URL, quietLogger()).UpdatePeerData(ctx, snapshot("node-a", 0, 1))
	var pe *PeerError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, CodeUnreachable, pe.Code)
	assert.True(t, pe.Retryable())
}
