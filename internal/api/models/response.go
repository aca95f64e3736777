package models

import (
	"prosumer-p2p/internal/analysis"
	"prosumer-p2p/internal/driver"
	"prosumer-p2p/internal/ledger"
	"prosumer-p2p/internal/model"
	"prosumer-p2p/internal/pricing"
)

// StatusResponse is the node overview.
type StatusResponse struct {
	NodeID    string                `json:"node_id"`
	PeerID    string                `json:"peer_id"`
	State     string                `json:"state"`
	Agreement *model.StartAgreement `json:"agreement,omitempty"`
	Totals    ledger.Totals         `json:"totals"`
	Stats     driver.StatsSnapshot  `json:"stats"`
	// Peer is the last snapshot heard from the peer, fresh or not.
	Peer      *model.PeerSnapshot `json:"peer,omitempty"`
	PeerFresh bool                `json:"peer_fresh"`
}

// LedgerResponse lists settled ticks, oldest first.
type LedgerResponse struct {
	NodeID  string         `json:"node_id"`
	Total   int            `json:"total"`
	Entries []ledger.Entry `json:"entries"`
}

// SummaryResponse wraps a ledger summary.
type SummaryResponse struct {
	Summary analysis.Summary `json:"summary"`
}

// QuoteResponse is a priced hypothetical tick.
type QuoteResponse struct {
	Strategy string        `json:"strategy"`
	Quote    pricing.Quote `json:"quote"`
}

// StrategyInfo represents information about a pricing strategy
type StrategyInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ParameterInfo `json:"parameters"`
}

// ParameterInfo describes a strategy parameter
type ParameterInfo struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"` // "float", "int", "string"
	Description string      `json:"description"`
	Default     interface{} `json:"default,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewError builds an error envelope.
func NewError(code, message string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Code: code, Message: message}}
}
