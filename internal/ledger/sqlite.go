package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	node_id TEXT NOT NULL,
	tick INTEGER NOT NULL,
	ts DATETIME NOT NULL,
	demand_kwh REAL NOT NULL,
	generation_kwh REAL NOT NULL,
	balance_kwh REAL NOT NULL,
	charged_kwh REAL NOT NULL,
	discharged_kwh REAL NOT NULL,
	peer_sold_kwh REAL NOT NULL,
	peer_bought_kwh REAL NOT NULL,
	grid_export_kwh REAL NOT NULL,
	grid_import_kwh REAL NOT NULL,
	counterparty TEXT NOT NULL,
	action TEXT NOT NULL,
	peer_price REAL NOT NULL,
	buy_grid_price REAL NOT NULL,
	sell_grid_price REAL NOT NULL,
	sdr REAL NOT NULL,
	peer_fresh INTEGER NOT NULL,
	currency REAL NOT NULL,
	soc_start REAL NOT NULL,
	soc_end REAL NOT NULL,
	UNIQUE(node_id, ts)
);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_node_ts ON ledger_entries(node_id, ts);`

// SQLiteRecorder keeps a durable copy of a ledger in a SQLite file.
type SQLiteRecorder struct {
	db *sql.DB
}

func NewSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger tables: %w", err)
	}
	return &SQLiteRecorder{db: db}, nil
}

func (r *SQLiteRecorder) Record(nodeID string, e Entry) error {
	_, err := r.db.Exec(`
	INSERT INTO ledger_entries (
		node_id, tick, ts, demand_kwh, generation_kwh, balance_kwh,
		charged_kwh, discharged_kwh, peer_sold_kwh, peer_bought_kwh, grid_export_kwh, grid_import_kwh,
		counterparty, action, peer_price, buy_grid_price, sell_grid_price, sdr, peer_fresh,
		currency, soc_start, soc_end
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nodeID, e.Index, e.Timestamp.UTC(), e.DemandKWh, e.GenerationKWh, e.BalanceKWh,
		e.ChargedKWh, e.DischargedKWh, e.PeerSoldKWh, e.PeerBoughtKWh, e.GridExportKWh, e.GridImportKWh,
		string(e.Counterparty), string(e.Action), e.PeerPrice, e.BuyGridPrice, e.SellGridPrice, e.SDR, e.PeerFresh,
		e.Currency, e.SOCStart, e.SOCEnd,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry %d: %w", e.Index, err)
	}
	return nil
}

// Count returns how many entries were recorded for a node.
func (r *SQLiteRecorder) Count(nodeID string) (int, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM ledger_entries WHERE node_id = ?`, nodeID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// LastTimestamp returns the latest recorded timestamp for a node, zero when none.
func (r *SQLiteRecorder) LastTimestamp(nodeID string) (time.Time, error) {
	var ts time.Time
	err := r.db.QueryRow(`SELECT ts FROM ledger_entries WHERE node_id = ? ORDER BY ts DESC LIMIT 1`, nodeID).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return ts, nil
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
