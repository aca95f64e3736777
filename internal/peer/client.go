package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"prosumer-p2p/internal/model"
)

// Paths of the peer RPC surface, relative to RoutePrefix.
const (
	RoutePrefix       = "/api/v1/peer"
	PathSyncStart     = "/sync_start"
	PathUpdatePeer    = "/update_peer_data"
	PathGetPeer       = "/get_peer_data"
	PathSync          = "/sync"
	PathResynchronize = "/resynchronize"
	PathHealth        = "/health"
)

// HTTPClient talks to a peer's RPC surface over HTTP/JSON.
// Per-call deadlines come from the context (see RetryPolicy); Client carries no timeout of its own.
type HTTPClient struct {
	BaseURL string
	Client  *http.Client
	logger  *slog.Logger
}

func NewHTTPClient(baseURL string, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{},
		logger:  logger.With("component", "peer_client"),
	}
}

// errorEnvelope mirrors the API error response.
type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *HTTPClient) SyncStart(ctx context.Context, a model.StartAgreement) (Ack, error) {
	var ack Ack
	err := c.do(ctx, http.MethodPost, PathSyncStart, a, &ack)
	return ack, err
}

func (c *HTTPClient) UpdatePeerData(ctx context.Context, s model.PeerSnapshot) error {
	return c.do(ctx, http.MethodPost, PathUpdatePeer, s, &Ack{})
}

func (c *HTTPClient) GetPeerData(ctx context.Context) (model.PeerSnapshot, error) {
	var s model.PeerSnapshot
	err := c.do(ctx, http.MethodGet, PathGetPeer, nil, &s)
	return s, err
}

func (c *HTTPClient) Sync(ctx context.Context, a model.AggregateSnapshot) (model.AggregateSnapshot, error) {
	var reply model.AggregateSnapshot
	err := c.do(ctx, http.MethodPost, PathSync, a, &reply)
	return reply, err
}

func (c *HTTPClient) Resynchronize(ctx context.Context, s model.PeerSnapshot) error {
	return c.do(ctx, http.MethodPost, PathResynchronize, s, &Ack{})
}

func (c *HTTPClient) Health(ctx context.Context) (HealthStatus, error) {
	var h HealthStatus
	err := c.do(ctx, http.MethodGet, PathHealth, nil, &h)
	return h, err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(buf)
	}

	u := c.BaseURL + RoutePrefix + path
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.Client.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "path", path, "duration", duration, "error", err)
		return &PeerError{Code: CodeUnreachable, Message: err.Error()}
	}
	defer resp.Body.Close()

	c.logger.Debug("response", "method", method, "path", path, "status", resp.StatusCode, "duration", duration)

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &PeerError{StatusCode: resp.StatusCode, Code: CodeInternal, Message: fmt.Sprintf("failed to decode response: %v", err)}
	}
	return nil
}

func decodeError(resp *http.Response) error {
	pe := &PeerError{
		StatusCode: resp.StatusCode,
		Code:       "API_ERROR",
		Message:    fmt.Sprintf("peer returned status %d: %s", resp.StatusCode, resp.Status),
	}
	var env errorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && env.Error.Code != "" {
		pe.Code = env.Error.Code
		pe.Message = env.Error.Message
	} else if err != nil && !errors.Is(err, io.EOF) {
		pe.Message += " (unreadable body)"
	}
	return pe
}
