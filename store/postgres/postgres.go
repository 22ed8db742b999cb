/*
Package postgres provides a PostgreSQL-backed ledger.Gateway and ledger.Counter.

PURPOSE:

	Same contract as store/sqlite, for deployments where several processes
	share one database. Commits are announced with pg_notify inside the
	writing transaction, so listeners only hear about committed snapshots.

COMPARE-AND-SWAP:

	UPDATE ledger_meta SET version = version + 1 WHERE id = 1 AND version = $1
	Zero rows affected -> ledger.ErrVersionConflict.

LISTEN/NOTIFY:

	Listen() holds one pooled connection in LISTEN on the commit channel and
	pushes each announced version to subscribers.

SEE ALSO:
  - store/sqlite/sqlite.go: Single-node variant with the same schema
  - ledger/gateway.go: Interface definitions
*/
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/warp/pallet-ledger/ledger"
)

// Channel is the NOTIFY channel commits are announced on.
const Channel = "pallet_ledger_commits"

// NewPool opens a connection pool and pings it.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping DB: %w", err)
	}
	return pool, nil
}

// Store implements ledger.Gateway and ledger.Counter on a pgx pool.
type Store struct {
	ledger.Feed

	pool *pgxpool.Pool
	log  zerolog.Logger

	mu            sync.Mutex
	lastPublished int64
}

func New(pool *pgxpool.Pool, logger zerolog.Logger) *Store {
	return &Store{pool: pool, log: logger.With().Str("component", "postgres_gateway").Logger()}
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS ledger_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	INSERT INTO ledger_meta (id, version) VALUES (1, 0) ON CONFLICT (id) DO NOTHING;

	CREATE TABLE IF NOT EXISTS stock (
		location_id TEXT NOT NULL,
		pallet_type_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		PRIMARY KEY (location_id, pallet_type_id)
	);

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
		occurred_at TIMESTAMPTZ NOT NULL,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_seq ON transactions(seq);
	CREATE INDEX IF NOT EXISTS idx_transactions_document ON transactions(document_number);
	CREATE INDEX IF NOT EXISTS idx_transactions_pending
		ON transactions(destination) WHERE status = 'PENDING';

	CREATE TABLE IF NOT EXISTS counters (
		key TEXT PRIMARY KEY,
		value BIGINT NOT NULL
	);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// =============================================================================
// GATEWAY
// =============================================================================

// Load reads version, stock and history in one REPEATABLE READ transaction
// so the three always belong to the same commit.
func (s *Store) Load(ctx context.Context) (ledger.Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("begin read: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	snap, err := s.load(ctx, tx)
	if err != nil {
		return snap, err
	}
	if err := tx.Commit(ctx); err != nil {
		return snap, fmt.Errorf("commit read: %w", err)
	}
	return snap, nil
}

func (s *Store) load(ctx context.Context, q pgx.Tx) (ledger.Snapshot, error) {
	snap := ledger.Snapshot{Stock: ledger.Stock{}}
	if err := q.QueryRow(ctx, "SELECT version FROM ledger_meta WHERE id = 1").Scan(&snap.Version); err != nil {
		return snap, fmt.Errorf("read version: %w", err)
	}

	rows, err := q.Query(ctx, "SELECT location_id, pallet_type_id, quantity FROM stock")
	if err != nil {
		return snap, fmt.Errorf("query stock: %w", err)
	}
	for rows.Next() {
		var (
			loc, pt string
			qty     int
		)
		if err := rows.Scan(&loc, &pt, &qty); err != nil {
			rows.Close()
			return snap, fmt.Errorf("scan stock: %w", err)
		}
		snap.Stock.Set(ledger.LocationID(loc), ledger.PalletTypeID(pt), qty)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("query stock: %w", err)
	}

	rows, err = q.Query(ctx, "SELECT payload FROM transactions ORDER BY seq ASC")
	if err != nil {
		return snap, fmt.Errorf("query transactions: %w", err)
	}
	txs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Transaction, error) {
		var payload []byte
		if err := row.Scan(&payload); err != nil {
			return ledger.Transaction{}, err
		}
		var tx ledger.Transaction
		err := json.Unmarshal(payload, &tx)
		return tx, err
	})
	if err != nil {
		return snap, fmt.Errorf("decode transactions: %w", err)
	}
	snap.Transactions = txs
	return snap, nil
}

func (s *Store) WriteSnapshot(ctx context.Context, snap ledger.Snapshot) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		"UPDATE ledger_meta SET version = version + 1, updated_at = now() WHERE id = 1 AND version = $1",
		snap.Version)
	if err != nil {
		return 0, fmt.Errorf("bump version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("%w: base version %d", ledger.ErrVersionConflict, snap.Version)
	}
	next := snap.Version + 1

	batch := &pgx.Batch{}
	batch.Queue("DELETE FROM stock")
	for loc, row := range snap.Stock {
		for pt, qty := range row {
			batch.Queue("INSERT INTO stock (location_id, pallet_type_id, quantity) VALUES ($1, $2, $3)",
				string(loc), string(pt), qty)
		}
	}
	for i, t := range snap.Transactions {
		payload, err := json.Marshal(t)
		if err != nil {
			return 0, fmt.Errorf("encode transaction %s: %w", t.ID, err)
		}
		batch.Queue(`
			INSERT INTO transactions
			(id, seq, document_number, category, status, source, destination,
			 pallet_type_id, quantity, occurred_at, payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				pallet_type_id = EXCLUDED.pallet_type_id,
				quantity = EXCLUDED.quantity,
				payload = EXCLUDED.payload,
				updated_at = now()
			WHERE transactions.payload IS DISTINCT FROM EXCLUDED.payload`,
			string(t.ID), i, t.DocumentNumber, string(t.Category), string(t.Status),
			string(t.Source), string(t.Destination), string(t.PalletType), t.Quantity,
			t.Timestamp, payload)
	}
	batch.Queue("SELECT pg_notify($1, $2)", Channel, strconv.FormatInt(next, 10))

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("write snapshot: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	s.publish(ctx, next)
	return next, nil
}

func (s *Store) publish(ctx context.Context, version int64) {
	s.mu.Lock()
	if version <= s.lastPublished {
		s.mu.Unlock()
		return
	}
	snap, err := s.Load(ctx)
	if err != nil {
		s.mu.Unlock()
		s.log.Warn().Err(err).Int64("version", version).Msg("reload for push failed")
		return
	}
	s.lastPublished = snap.Version
	s.mu.Unlock()

	s.Publish(snap)
}

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

// Reset empties stock, history and counters under a new version.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var version int64
	if _, err := tx.Exec(ctx, "TRUNCATE stock, transactions, counters"); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	err = tx.QueryRow(ctx,
		"UPDATE ledger_meta SET version = version + 1, updated_at = now() WHERE id = 1 RETURNING version").Scan(&version)
	if err != nil {
		return fmt.Errorf("reset: bump version: %w", err)
	}
	if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", Channel, strconv.FormatInt(version, 10)); err != nil {
		return fmt.Errorf("reset: notify: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.publish(ctx, version)
	return nil
}

// Listen holds a LISTEN connection and pushes announced commits until ctx ends.
func (s *Store) Listen(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", Channel, err)
	}
	s.log.Info().Str("channel", Channel).Msg("listening for ledger commits")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		version, err := strconv.ParseInt(n.Payload, 10, 64)
		if err != nil {
			s.log.Warn().Str("payload", n.Payload).Msg("ignoring malformed commit event")
			continue
		}
		s.publish(ctx, version)
	}
}

// =============================================================================
// COUNTER
// =============================================================================

func (s *Store) Next(ctx context.Context, key string, floor int64) (int64, error) {
	var v int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO counters (key, value) VALUES ($1, $2 + 1)
		ON CONFLICT (key) DO UPDATE SET value = GREATEST(counters.value, $2) + 1
		RETURNING value`, key, floor).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("counter %s: %w", key, err)
	}
	return v, nil
}

var (
	_ ledger.Gateway = (*Store)(nil)
	_ ledger.Counter = (*Store)(nil)
)
