package peer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"prosumer-p2p/internal/metrics"
	"prosumer-p2p/internal/model"
)

// State of a node in the start protocol.
type State int32

const (
	StateWaitingForPeers State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateWaitingForPeers:
		return "WAITING_FOR_PEERS"
	case StateRunning:
		return "RUNNING"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Service answers the peer RPC surface of one node.
// It only ever writes the peer cache; the node's own ledger is never touched by inbound messages.
type Service struct {
	nodeID string
	cache  *Cache
	logger *slog.Logger

	mu        sync.RWMutex
	state     State
	own       *model.PeerSnapshot
	aggregate model.AggregateSnapshot
	agreement *model.StartAgreement

	agreements chan model.StartAgreement
}

func NewService(nodeID string, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		nodeID:     nodeID,
		cache:      cache,
		logger:     logger.With("component", "peer_service"),
		agreements: make(chan model.StartAgreement, 1),
		aggregate:  model.AggregateSnapshot{NodeID: nodeID},
	}
}

func (s *Service) NodeID() string { return s.nodeID }
func (s *Service) Cache() *Cache  { return s.cache }

func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.logger.Info("state changed", "from", prev.String(), "to", st.String())
	}
}

// Agreement returns the accepted start agreement, if any.
func (s *Service) Agreement() (model.StartAgreement, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.agreement == nil {
		return model.StartAgreement{}, false
	}
	return *s.agreement, true
}

// Publish makes the node's latest own state available to get_peer_data and sync.
func (s *Service) Publish(snap model.PeerSnapshot, agg model.AggregateSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.own = &snap
	s.aggregate = agg
}

// Own returns the latest published snapshot.
func (s *Service) Own() (model.PeerSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.own == nil {
		return model.PeerSnapshot{}, false
	}
	return *s.own, true
}

// SyncStart accepts a start agreement proposed by the coordinator.
// The first accepted agreement wins; a repeated proposal with the same id is acknowledged again.
func (s *Service) SyncStart(a model.StartAgreement) (Ack, error) {
	metrics.RecordInbound("sync_start")
	if a.ID == "" || a.StartTime.IsZero() {
		return Ack{}, fmt.Errorf("%w: start agreement needs id and start_time", ErrInvalidMessage)
	}
	if !a.Includes(s.nodeID) {
		return Ack{}, fmt.Errorf("%w: node %s is not a participant", ErrInvalidMessage, s.nodeID)
	}

	s.mu.Lock()
	if s.agreement != nil {
		current := s.agreement.ID
		s.mu.Unlock()
		if current != a.ID {
			return Ack{}, fmt.Errorf("%w: already agreed on %s", ErrInvalidMessage, current)
		}
		return Ack{Ack: true, NodeID: s.nodeID, AgreementID: a.ID}, nil
	}
	s.agreement = &a
	s.mu.Unlock()

	select {
	case s.agreements <- a:
	default:
	}
	s.logger.Info("start agreement accepted",
		"agreement_id", a.ID,
		"coordinator", a.CoordinatorID,
		"start_time", a.StartTime.Format(time.RFC3339Nano))
	return Ack{Ack: true, NodeID: s.nodeID, AgreementID: a.ID}, nil
}

// UpdatePeerData upserts the sender's snapshot.
func (s *Service) UpdatePeerData(snap model.PeerSnapshot) error {
	metrics.RecordInbound("update_peer_data")
	if err := s.validateSender(snap.NodeID); err != nil {
		return err
	}
	s.cache.Upsert(snap)
	return nil
}

// GetPeerData returns this node's own latest snapshot.
func (s *Service) GetPeerData() (model.PeerSnapshot, error) {
	metrics.RecordInbound("get_peer_data")
	own, ok := s.Own()
	if !ok {
		return model.PeerSnapshot{}, fmt.Errorf("%s has not settled a tick yet: %w", s.nodeID, ErrNoPeerData)
	}
	return own, nil
}

// Sync stores the sender's aggregate and answers with this node's aggregate, stamped with
// the newest timestamp held for the sender so it can tell whether a resync is needed.
func (s *Service) Sync(agg model.AggregateSnapshot) (model.AggregateSnapshot, error) {
	metrics.RecordInbound("sync")
	if err := s.validateSender(agg.NodeID); err != nil {
		return model.AggregateSnapshot{}, err
	}
	s.cache.StoreAggregate(agg)

	s.mu.RLock()
	reply := s.aggregate
	s.mu.RUnlock()
	reply.NodeID = s.nodeID
	reply.PeerViewTimestamp = s.cache.LatestTimestamp(agg.NodeID)
	return reply, nil
}

// Resynchronize overwrites the cached snapshot of the sender.
func (s *Service) Resynchronize(snap model.PeerSnapshot) error {
	metrics.RecordInbound("resynchronize")
	if err := s.validateSender(snap.NodeID); err != nil {
		return err
	}
	s.cache.Upsert(snap)
	s.logger.Info("peer view resynchronized",
		"peer", snap.NodeID,
		"timestamp", snap.Timestamp.Format(time.RFC3339))
	return nil
}

func (s *Service) Health() HealthStatus {
	metrics.RecordInbound("health")
	_, hasData := s.Own()
	return HealthStatus{
		Reachable: true,
		HasData:   hasData,
		State:     s.State().String(),
		NodeID:    s.nodeID,
	}
}

func (s *Service) validateSender(nodeID string) error {
	if nodeID == "" {
		return fmt.Errorf("%w: missing node_id", ErrInvalidMessage)
	}
	if nodeID == s.nodeID {
		return fmt.Errorf("%w: message from self", ErrInvalidMessage)
	}
	return nil
}
