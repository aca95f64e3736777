package peer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"prosumer-p2p/internal/clock"
	"prosumer-p2p/internal/model"
)

const (
	DefaultStartOffset        = 10 * time.Second
	DefaultNegotiationTimeout = 60 * time.Second
)

type Config struct {
	NodeID      string
	PeerID      string
	Coordinator bool

	// StartOffset is how far in the future the coordinator schedules the start.
	StartOffset time.Duration
	// NegotiationTimeout bounds the whole handshake on either side.
	NegotiationTimeout time.Duration
	// ResyncLag is how far (in simulated time) the peer's view of us may trail before
	// a full sync is followed by a resynchronize.
	ResyncLag time.Duration

	Retry RetryPolicy
}

// Protocol drives the outbound side of peer synchronization for one node.
// No lock is held while a call is in flight.
type Protocol struct {
	cfg       Config
	transport Transport
	service   *Service
	logger    *slog.Logger
	now       func() time.Time
}

func NewProtocol(cfg Config, transport Transport, service *Service, logger *slog.Logger) (*Protocol, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("node id is empty")
	}
	if cfg.PeerID == "" {
		return nil, fmt.Errorf("peer id is empty")
	}
	if cfg.PeerID == cfg.NodeID {
		return nil, fmt.Errorf("peer id equals node id %q", cfg.NodeID)
	}
	if transport == nil || service == nil {
		return nil, fmt.Errorf("transport and service are required")
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.Timeout == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{
		cfg:       cfg,
		transport: transport,
		service:   service,
		logger:    logger.With("component", "peer_protocol", "peer", cfg.PeerID),
		now:       time.Now,
	}, nil
}

// WithNow overrides the wall clock (tests).
func (p *Protocol) WithNow(now func() time.Time) *Protocol {
	p.now = now
	return p
}

func (p *Protocol) PeerID() string    { return p.cfg.PeerID }
func (p *Protocol) State() State      { return p.service.State() }
func (p *Protocol) Service() *Service { return p.service }

// Start runs the coordinator or follower side of the handshake and blocks until the
// agreed start time. On success the node is RUNNING.
func (p *Protocol) Start(ctx context.Context) (model.StartAgreement, error) {
	if p.cfg.Coordinator {
		return p.Negotiate(ctx)
	}
	return p.AwaitStart(ctx)
}

// Negotiate proposes now+StartOffset to this node and to the peer.
// Any failed acknowledgment fails the negotiation.
func (p *Protocol) Negotiate(ctx context.Context) (model.StartAgreement, error) {
	a := model.StartAgreement{
		ID:             uuid.NewString(),
		StartTime:      p.now().Add(p.cfg.StartOffset),
		ParticipantIDs: []string{p.cfg.NodeID, p.cfg.PeerID},
		CoordinatorID:  p.cfg.NodeID,
	}
	if _, err := p.service.SyncStart(a); err != nil {
		return a, fmt.Errorf("%w: self ack: %w", ErrNegotiationFailed, err)
	}

	negCtx := ctx
	if p.cfg.NegotiationTimeout > 0 {
		var cancel context.CancelFunc
		negCtx, cancel = context.WithTimeout(ctx, p.cfg.NegotiationTimeout)
		defer cancel()
	}

	var ack Ack
	err := p.cfg.Retry.Do(negCtx, "sync_start", func(ctx context.Context) error {
		var err error
		ack, err = p.transport.SyncStart(ctx, a)
		return err
	})
	if err != nil {
		return a, fmt.Errorf("%w: %w", ErrNegotiationFailed, err)
	}
	if !ack.Ack || ack.AgreementID != a.ID {
		return a, fmt.Errorf("%w: peer %s did not acknowledge agreement %s", ErrNegotiationFailed, p.cfg.PeerID, a.ID)
	}

	p.logger.Info("start agreed",
		"agreement_id", a.ID,
		"start_time", a.StartTime.Format(time.RFC3339Nano))
	return a, p.waitForStart(ctx, a)
}

// AwaitStart waits for the coordinator's agreement to arrive through the Service.
func (p *Protocol) AwaitStart(ctx context.Context) (model.StartAgreement, error) {
	var timeout <-chan time.Time
	if p.cfg.NegotiationTimeout > 0 {
		t := time.NewTimer(p.cfg.NegotiationTimeout)
		defer t.Stop()
		timeout = t.C
	}

	p.logger.Info("waiting for start agreement")
	select {
	case a := <-p.service.agreements:
		return a, p.waitForStart(ctx, a)
	case <-timeout:
		return model.StartAgreement{}, fmt.Errorf("%w: no agreement within %s", ErrNegotiationFailed, p.cfg.NegotiationTimeout)
	case <-ctx.Done():
		return model.StartAgreement{}, fmt.Errorf("%w: %w", ErrNegotiationFailed, ctx.Err())
	}
}

func (p *Protocol) waitForStart(ctx context.Context, a model.StartAgreement) error {
	if late := p.now().Sub(a.StartTime); late > 0 {
		p.logger.Warn("start time already passed", "late", late)
	}
	if err := clock.SleepUntil(ctx, p.now, a.StartTime); err != nil {
		return fmt.Errorf("%w: %w", ErrNegotiationFailed, err)
	}
	p.service.setState(StateRunning)
	return nil
}

// Push sends this node's snapshot to the peer.
func (p *Protocol) Push(ctx context.Context, snap model.PeerSnapshot) error {
	return p.cfg.Retry.Do(ctx, "update_peer_data", func(ctx context.Context) error {
		return p.transport.UpdatePeerData(ctx, snap)
	})
}

// Pull fetches the peer's own latest snapshot and caches it.
func (p *Protocol) Pull(ctx context.Context) (model.PeerSnapshot, error) {
	var snap model.PeerSnapshot
	err := p.cfg.Retry.Do(ctx, "get_peer_data", func(ctx context.Context) error {
		var err error
		snap, err = p.transport.GetPeerData(ctx)
		return err
	})
	if err != nil {
		return snap, err
	}
	if snap.NodeID != p.cfg.PeerID {
		return snap, fmt.Errorf("%w: get_peer_data answered by %q", ErrInvalidMessage, snap.NodeID)
	}
	p.service.cache.Upsert(snap)
	return snap, nil
}

// FullSync exchanges aggregates with the peer. When the peer's view of this node trails
// agg.Timestamp by more than ResyncLag, the current snapshot is sent with resynchronize.
// It reports whether a resynchronize was sent.
func (p *Protocol) FullSync(ctx context.Context, agg model.AggregateSnapshot) (bool, error) {
	var reply model.AggregateSnapshot
	err := p.cfg.Retry.Do(ctx, "sync", func(ctx context.Context) error {
		var err error
		reply, err = p.transport.Sync(ctx, agg)
		return err
	})
	if err != nil {
		return false, err
	}
	p.service.cache.StoreAggregate(reply)

	if agg.Timestamp.IsZero() || agg.Timestamp.Sub(reply.PeerViewTimestamp) <= p.cfg.ResyncLag {
		return false, nil
	}
	own, ok := p.service.Own()
	if !ok {
		return false, nil
	}
	p.logger.Info("peer view lags, resynchronizing",
		"ours", agg.Timestamp.Format(time.RFC3339),
		"peer_view", reply.PeerViewTimestamp.Format(time.RFC3339))
	err = p.cfg.Retry.Do(ctx, "resynchronize", func(ctx context.Context) error {
		return p.transport.Resynchronize(ctx, own)
	})
	return err == nil, err
}

func (p *Protocol) Health(ctx context.Context) (HealthStatus, error) {
	var h HealthStatus
	err := p.cfg.Retry.Do(ctx, "health", func(ctx context.Context) error {
		var err error
		h, err = p.transport.Health(ctx)
		return err
	})
	return h, err
}

// PeerView returns the cached peer snapshot usable for settlement, or nil with the reason.
func (p *Protocol) PeerView() (*model.PeerSnapshot, error) {
	snap, err := p.service.cache.Fresh(p.cfg.PeerID)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
