/*
Package sqlite provides a SQLite-backed ledger.Gateway and ledger.Counter.

PURPOSE:

	Persists the ledger snapshot (stock + transaction history) in SQLite.
	Stock and transactions are written in ONE database transaction guarded
	by a version check, so a write is either fully applied or not at all.

COMPARE-AND-SWAP:

	ledger_meta holds a single row with the snapshot version.
	  UPDATE ledger_meta SET version = version + 1 WHERE id = 1 AND version = ?
	Zero rows affected means another writer committed first and the call
	returns ledger.ErrVersionConflict; the ledger reloads and retries.

APPEND-ONLY ENFORCEMENT:
  - WriteSnapshot never deletes transaction rows
  - Existing rows are only upserted (status, correction fields)
  - Reset() is the one exception, for demo scenario loading
  - Stock rows are replaced wholesale inside the same transaction

KEY TABLES:

	ledger_meta:  Snapshot version (single row)
	stock:        location x pallet type -> quantity
	transactions: Full record as JSON plus indexed columns for ad-hoc queries
	counters:     Document number sequences

INDEXES:
  - idx_transactions_document: Batch lookup by document number
  - idx_transactions_pending:  Pending-for-destination queries

CONCURRENCY:

	Uses sync.RWMutex for in-process safety. Writers in other processes are
	caught by the version check; Watch() polls for their commits and pushes
	them to subscribers.

USAGE:

	store, err := sqlite.New("./data/pallets.db")
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	l := ledger.New(store, catalog, ledger.Options{Counter: store})

SEE ALSO:
  - ledger/gateway.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/pallet-ledger/ledger"
)

// Store implements ledger.Gateway and ledger.Counter using SQLite.
type Store struct {
	ledger.Feed

	db *sql.DB
	mu sync.RWMutex

	// lastPublished is the version most recently pushed to subscribers.
	lastPublished int64
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: every ":memory:" connection would otherwise be its own database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Snapshot version (single row, compare-and-swap target)
	CREATE TABLE IF NOT EXISTS ledger_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);
	INSERT OR IGNORE INTO ledger_meta (id, version, updated_at) VALUES (1, 0, '');

	-- Live stock for internal locations
	CREATE TABLE IF NOT EXISTS stock (
		location_id TEXT NOT NULL,
		pallet_type_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		PRIMARY KEY (location_id, pallet_type_id)
	);

	-- Transactions (never deleted)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		document_number TEXT NOT NULL,
		category TEXT NOT NULL,
		status TEXT NOT NULL,
		source TEXT NOT NULL,
		destination TEXT NOT NULL,
		pallet_type_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		occurred_at TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_seq
		ON transactions(seq);
	CREATE INDEX IF NOT EXISTS idx_transactions_document
		ON transactions(document_number);
	CREATE INDEX IF NOT EXISTS idx_transactions_pending
		ON transactions(destination, status) WHERE status = 'PENDING';

	-- Document number sequences
	CREATE TABLE IF NOT EXISTS counters (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// GATEWAY (ledger.Gateway interface)
// =============================================================================

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Load returns the current snapshot including its version.
func (s *Store) Load(ctx context.Context) (ledger.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.readSnapshot(ctx)
}

// readSnapshot reads inside one transaction so version, stock and history
// come from the same commit even when another process is writing.
func (s *Store) readSnapshot(ctx context.Context) (ledger.Snapshot, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("failed to begin read: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	return s.load(ctx, sqlTx)
}

func (s *Store) load(ctx context.Context, q querier) (ledger.Snapshot, error) {
	snap := ledger.Snapshot{Stock: ledger.Stock{}}
	if err := q.QueryRowContext(ctx, "SELECT version FROM ledger_meta WHERE id = 1").Scan(&snap.Version); err != nil {
		return snap, fmt.Errorf("failed to read version: %w", err)
	}

	stock, err := s.loadStock(ctx, q)
	if err != nil {
		return snap, err
	}
	snap.Stock = stock

	txs, err := s.loadTransactions(ctx, q)
	if err != nil {
		return snap, err
	}
	snap.Transactions = txs
	return snap, nil
}

func (s *Store) loadStock(ctx context.Context, q querier) (ledger.Stock, error) {
	rows, err := q.QueryContext(ctx, "SELECT location_id, pallet_type_id, quantity FROM stock")
	if err != nil {
		return nil, fmt.Errorf("failed to query stock: %w", err)
	}
	defer rows.Close()

	stock := ledger.Stock{}
	for rows.Next() {
		var (
			loc, pt string
			qty     int
		)
		if err := rows.Scan(&loc, &pt, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan stock: %w", err)
		}
		stock.Set(ledger.LocationID(loc), ledger.PalletTypeID(pt), qty)
	}
	return stock, rows.Err()
}

func (s *Store) loadTransactions(ctx context.Context, q querier) ([]ledger.Transaction, error) {
	rows, err := q.QueryContext(ctx, "SELECT payload_json FROM transactions ORDER BY seq ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		var tx ledger.Transaction
		if err := json.Unmarshal([]byte(payload), &tx); err != nil {
			return nil, fmt.Errorf("failed to decode transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// WriteSnapshot stores stock and transactions atomically if snap.Version is still current.
func (s *Store) WriteSnapshot(ctx context.Context, snap ledger.Snapshot) (int64, error) {
	s.mu.Lock()
	version, err := s.writeSnapshot(ctx, snap)
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}

	s.publish(ctx, version)
	return version, nil
}

func (s *Store) writeSnapshot(ctx context.Context, snap ledger.Snapshot) (int64, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := sqlTx.ExecContext(ctx,
		"UPDATE ledger_meta SET version = version + 1, updated_at = ? WHERE id = 1 AND version = ?",
		now, snap.Version)
	if err != nil {
		return 0, fmt.Errorf("failed to bump version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("%w: base version %d", ledger.ErrVersionConflict, snap.Version)
	}

	if _, err := sqlTx.ExecContext(ctx, "DELETE FROM stock"); err != nil {
		return 0, fmt.Errorf("failed to clear stock: %w", err)
	}
	for loc, row := range snap.Stock {
		for pt, qty := range row {
			if _, err := sqlTx.ExecContext(ctx,
				"INSERT INTO stock (location_id, pallet_type_id, quantity) VALUES (?, ?, ?)",
				loc, pt, qty); err != nil {
				return 0, fmt.Errorf("failed to write stock: %w", err)
			}
		}
	}

	upsert := `
		INSERT INTO transactions
		(id, seq, document_number, category, status, source, destination,
		 pallet_type_id, quantity, occurred_at, payload_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			pallet_type_id = excluded.pallet_type_id,
			quantity = excluded.quantity,
			payload_json = excluded.payload_json,
			updated_at = excluded.updated_at
		WHERE transactions.payload_json <> excluded.payload_json
	`
	for i, tx := range snap.Transactions {
		payload, err := json.Marshal(tx)
		if err != nil {
			return 0, fmt.Errorf("failed to encode transaction %s: %w", tx.ID, err)
		}
		if _, err := sqlTx.ExecContext(ctx, upsert,
			tx.ID, i, tx.DocumentNumber, tx.Category, tx.Status, tx.Source, tx.Destination,
			tx.PalletType, tx.Quantity, tx.Timestamp.UTC().Format(time.RFC3339Nano),
			string(payload), now,
		); err != nil {
			return 0, fmt.Errorf("failed to write transaction %s: %w", tx.ID, err)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return snap.Version + 1, nil
}

// publish pushes the stored snapshot to subscribers unless that version was already pushed.
func (s *Store) publish(ctx context.Context, version int64) {
	s.mu.Lock()
	if version <= s.lastPublished {
		s.mu.Unlock()
		return
	}
	snap, err := s.readSnapshot(ctx)
	if err != nil {
		s.mu.Unlock()
		return
	}
	s.lastPublished = snap.Version
	s.mu.Unlock()

	s.Publish(snap)
}

// ReadOnce returns the JSON stored at path.
func (s *Store) ReadOnce(ctx context.Context, path string) (json.RawMessage, error) {
	snap, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	switch path {
	case ledger.PathStock:
		return json.Marshal(snap.Stock)
	case ledger.PathTransactions:
		return json.Marshal(snap.Transactions)
	case ledger.PathVersion:
		return json.Marshal(snap.Version)
	}
	return nil, fmt.Errorf("read %q: %w", path, ledger.ErrNotFound)
}

// Watch polls for commits made by other processes and pushes them to
// subscribers. It returns when ctx is done.
func (s *Store) Watch(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var version int64
			s.mu.RLock()
			err := s.db.QueryRowContext(ctx, "SELECT version FROM ledger_meta WHERE id = 1").Scan(&version)
			s.mu.RUnlock()
			if err == nil {
				s.publish(ctx, version)
			}
		}
	}
}

// =============================================================================
// COUNTER (ledger.Counter interface)
// =============================================================================

// Next increments the sequence for key, never returning a value <= floor.
func (s *Store) Next(ctx context.Context, key string, floor int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	var current int64
	err = sqlTx.QueryRowContext(ctx, "SELECT value FROM counters WHERE key = ?", key).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to read counter %s: %w", key, err)
	}
	next := max(current, floor) + 1

	if _, err := sqlTx.ExecContext(ctx,
		"INSERT INTO counters (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, next); err != nil {
		return 0, fmt.Errorf("failed to write counter %s: %w", key, err)
	}
	return next, sqlTx.Commit()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo) and pushes the empty snapshot.
// The version keeps increasing so stale writers still conflict.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	var version int64
	for _, stmt := range []string{
		"DELETE FROM stock",
		"DELETE FROM transactions",
		"DELETE FROM counters",
		"UPDATE ledger_meta SET version = version + 1 WHERE id = 1",
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	err := s.db.QueryRowContext(ctx, "SELECT version FROM ledger_meta WHERE id = 1").Scan(&version)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.publish(ctx, version)
	return nil
}

var (
	_ ledger.Gateway = (*Store)(nil)
	_ ledger.Counter = (*Store)(nil)
)
