package peer

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"prosumer-p2p/internal/model"
)

// Ack acknowledges a one-way message.
type Ack struct {
	Ack         bool   `json:"ack"`
	NodeID      string `json:"node_id,omitempty"`
	AgreementID string `json:"agreement_id,omitempty"`
}

// HealthStatus is the liveness probe answer.
type HealthStatus struct {
	Reachable bool   `json:"reachable"`
	HasData   bool   `json:"has_data"`
	State     string `json:"state"`
	NodeID    string `json:"node_id"`
}

// Transport is the request/response channel to the peer node.
// Each call is a single attempt; retries are applied by Protocol.
type Transport interface {
	SyncStart(ctx context.Context, a model.StartAgreement) (Ack, error)
	UpdatePeerData(ctx context.Context, s model.PeerSnapshot) error
	GetPeerData(ctx context.Context) (model.PeerSnapshot, error)
	Sync(ctx context.Context, a model.AggregateSnapshot) (model.AggregateSnapshot, error)
	Resynchronize(ctx context.Context, s model.PeerSnapshot) error
	Health(ctx context.Context) (HealthStatus, error)
}

// LocalTransport calls a Service in the same process.
// SetDown simulates a network partition.
type LocalTransport struct {
	remote *Service
	down   atomic.Bool
}

func NewLocalTransport(remote *Service) *LocalTransport {
	return &LocalTransport{remote: remote}
}

func (t *LocalTransport) SetDown(down bool) { t.down.Store(down) }

func (t *LocalTransport) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &PeerError{Code: CodeUnreachable, Message: err.Error()}
	}
	if t.down.Load() {
		return &PeerError{Code: CodeUnreachable, Message: "connection refused"}
	}
	return nil
}

func (t *LocalTransport) SyncStart(ctx context.Context, a model.StartAgreement) (Ack, error) {
	if err := t.check(ctx); err != nil {
		return Ack{}, err
	}
	a.ParticipantIDs = append([]string(nil), a.ParticipantIDs...)
	ack, err := t.remote.SyncStart(a)
	return ack, remoteErr(err)
}

func (t *LocalTransport) UpdatePeerData(ctx context.Context, s model.PeerSnapshot) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	return remoteErr(t.remote.UpdatePeerData(s))
}

func (t *LocalTransport) GetPeerData(ctx context.Context) (model.PeerSnapshot, error) {
	if err := t.check(ctx); err != nil {
		return model.PeerSnapshot{}, err
	}
	s, err := t.remote.GetPeerData()
	return s, remoteErr(err)
}

func (t *LocalTransport) Sync(ctx context.Context, a model.AggregateSnapshot) (model.AggregateSnapshot, error) {
	if err := t.check(ctx); err != nil {
		return model.AggregateSnapshot{}, err
	}
	reply, err := t.remote.Sync(a)
	return reply, remoteErr(err)
}

func (t *LocalTransport) Resynchronize(ctx context.Context, s model.PeerSnapshot) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	return remoteErr(t.remote.Resynchronize(s))
}

func (t *LocalTransport) Health(ctx context.Context) (HealthStatus, error) {
	if err := t.check(ctx); err != nil {
		return HealthStatus{}, err
	}
	return t.remote.Health(), nil
}

// remoteErr gives service errors the shape they would have after an HTTP round trip.
func remoteErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNoPeerData):
		return &PeerError{StatusCode: http.StatusNotFound, Code: CodeNoData, Message: err.Error()}
	case errors.Is(err, ErrInvalidMessage):
		return &PeerError{StatusCode: http.StatusBadRequest, Code: CodeInvalidMessage, Message: err.Error()}
	default:
		return &PeerError{StatusCode: http.StatusInternalServerError, Code: CodeInternal, Message: err.Error()}
	}
}
