package models

// QuoteRequest prices a hypothetical tick.
type QuoteRequest struct {
	Strategy      string  `form:"strategy"`
	LocalBalance  float64 `form:"local_balance"`
	PeerBalance   float64 `form:"peer_balance"`
	PeerAvailable bool    `form:"peer_available"`
	// Timestamp selects the tariff band (RFC 3339); empty means now.
	Timestamp string `form:"timestamp"`
	// PMin and PMax only apply to bounded_ratio.
	PMin float64 `form:"p_min"`
	PMax float64 `form:"p_max"`
}

// LedgerRequest limits the ledger listing.
type LedgerRequest struct {
	Limit int `form:"limit,omitempty"` // 0 = all
}
