/*
Package redisstore provides Redis-backed ledger collaborators for
multi-process deployments.

PURPOSE:
  - Gateway: snapshot persistence with WATCH/MULTI compare-and-swap and
    PUBLISH-driven subscription pushes across processes
  - Counter: document number sequences via a Lua INCR-with-floor script
  - Locker:  cluster-wide writer lock via redislock

KEYS (all under Prefix, default "pallets:"):

	version       Snapshot version (integer)
	stock         JSON stock map
	transactions  JSON transaction history
	docseq:*      Document number counters (expire after CounterTTL)
	lock:*        Writer locks

CHANNEL:

	<prefix>events carries the new version after every commit. Listen()
	reloads the snapshot on each message and pushes it to subscribers.

SEE ALSO:
  - ledger/gateway.go: Interface definitions
  - store/sqlite: Single-node alternative
*/
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/warp/pallet-ledger/ledger"
)

const DefaultPrefix = "pallets:"

// =============================================================================
// GATEWAY
// =============================================================================

// Gateway implements ledger.Gateway on a Redis client.
type Gateway struct {
	ledger.Feed

	client redis.UniversalClient
	prefix string
	log    zerolog.Logger

	mu            sync.Mutex
	lastPublished int64
}

func NewGateway(client redis.UniversalClient, prefix string, logger zerolog.Logger) *Gateway {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Gateway{
		client: client,
		prefix: prefix,
		log:    logger.With().Str("component", "redis_gateway").Logger(),
	}
}

func (g *Gateway) key(name string) string { return g.prefix + name }

func (g *Gateway) channel() string { return g.prefix + "events" }

// Load returns the current snapshot including its version.
func (g *Gateway) Load(ctx context.Context) (ledger.Snapshot, error) {
	return g.load(ctx, g.client)
}

func (g *Gateway) load(ctx context.Context, c redis.Cmdable) (ledger.Snapshot, error) {
	vals, err := c.MGet(ctx, g.key(ledger.PathVersion), g.key(ledger.PathStock), g.key(ledger.PathTransactions)).Result()
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	snap := ledger.Snapshot{Stock: ledger.Stock{}}
	if s, ok := vals[0].(string); ok {
		if snap.Version, err = strconv.ParseInt(s, 10, 64); err != nil {
			return ledger.Snapshot{}, fmt.Errorf("load snapshot: bad version %q", s)
		}
	}
	if s, ok := vals[1].(string); ok {
		if err := json.Unmarshal([]byte(s), &snap.Stock); err != nil {
			return ledger.Snapshot{}, fmt.Errorf("load snapshot: decode stock: %w", err)
		}
	}
	if s, ok := vals[2].(string); ok {
		if err := json.Unmarshal([]byte(s), &snap.Transactions); err != nil {
			return ledger.Snapshot{}, fmt.Errorf("load snapshot: decode transactions: %w", err)
		}
	}
	return snap, nil
}

// WriteSnapshot stores stock and transactions in one MULTI block, provided
// nobody bumped the version since snap was loaded.
func (g *Gateway) WriteSnapshot(ctx context.Context, snap ledger.Snapshot) (int64, error) {
	stock, err := json.Marshal(snap.Stock)
	if err != nil {
		return 0, fmt.Errorf("encode stock: %w", err)
	}
	txs, err := json.Marshal(snap.Transactions)
	if err != nil {
		return 0, fmt.Errorf("encode transactions: %w", err)
	}

	versionKey := g.key(ledger.PathVersion)
	next := snap.Version + 1
	err = g.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != snap.Version {
			return fmt.Errorf("%w: base %d, current %d", ledger.ErrVersionConflict, snap.Version, current)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, g.key(ledger.PathStock), stock, 0)
			pipe.Set(ctx, g.key(ledger.PathTransactions), txs, 0)
			pipe.Set(ctx, versionKey, next, 0)
			pipe.Publish(ctx, g.channel(), next)
			return nil
		})
		return err
	}, versionKey)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		return 0, fmt.Errorf("%w: watched version changed", ledger.ErrVersionConflict)
	case err != nil:
		return 0, err
	}

	g.publish(ctx, next)
	return next, nil
}

func (g *Gateway) publish(ctx context.Context, version int64) {
	g.mu.Lock()
	if version <= g.lastPublished {
		g.mu.Unlock()
		return
	}
	snap, err := g.Load(ctx)
	if err != nil {
		g.mu.Unlock()
		g.log.Warn().Err(err).Int64("version", version).Msg("reload for push failed")
		return
	}
	g.lastPublished = snap.Version
	g.mu.Unlock()

	g.Publish(snap)
}

// Reset deletes stock, history and counters and bumps the version.
func (g *Gateway) Reset(ctx context.Context) error {
	var counters []string
	iter := g.client.Scan(ctx, 0, g.prefix+"docseq:*", 100).Iterator()
	for iter.Next(ctx) {
		counters = append(counters, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("reset: scan counters: %w", err)
	}

	var incr *redis.IntCmd
	_, err := g.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, append(counters, g.key(ledger.PathStock), g.key(ledger.PathTransactions))...)
		incr = pipe.Incr(ctx, g.key(ledger.PathVersion))
		return nil
	})
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	version := incr.Val()
	if err := g.client.Publish(ctx, g.channel(), version).Err(); err != nil {
		g.log.Warn().Err(err).Msg("reset: publish failed")
	}

	g.publish(ctx, version)
	return nil
}

// ReadOnce returns the raw JSON stored at path.
func (g *Gateway) ReadOnce(ctx context.Context, path string) (json.RawMessage, error) {
	switch path {
	case ledger.PathStock, ledger.PathTransactions, ledger.PathVersion:
	default:
		return nil, fmt.Errorf("read %q: %w", path, ledger.ErrNotFound)
	}
	raw, err := g.client.Get(ctx, g.key(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	return raw, nil
}

// Listen pushes commits made by any process to local subscribers until ctx ends.
func (g *Gateway) Listen(ctx context.Context) error {
	sub := g.client.Subscribe(ctx, g.channel())
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", g.channel(), err)
	}
	g.log.Info().Str("channel", g.channel()).Msg("listening for ledger commits")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			version, err := strconv.ParseInt(msg.Payload, 10, 64)
			if err != nil {
				g.log.Warn().Str("payload", msg.Payload).Msg("ignoring malformed commit event")
				continue
			}
			g.publish(ctx, version)
		}
	}
}

// =============================================================================
// COUNTER
// =============================================================================

// nextWithFloor increments KEYS[1], lifts it above ARGV[1] and refreshes the TTL.
var nextWithFloor = redis.NewScript(`
local v = redis.call('INCR', KEYS[1])
local floor = tonumber(ARGV[1])
if v <= floor then
	v = floor + 1
	redis.call('SET', KEYS[1], v)
end
if tonumber(ARGV[2]) > 0 then
	redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return v
`)

// Counter implements ledger.Counter. Day-scoped keys expire after TTL.
type Counter struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewCounter(client redis.UniversalClient, prefix string, ttl time.Duration) *Counter {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Counter{client: client, prefix: prefix, ttl: ttl}
}

func (c *Counter) Next(ctx context.Context, key string, floor int64) (int64, error) {
	v, err := nextWithFloor.Run(ctx, c.client, []string{c.prefix + key}, floor, int64(c.ttl/time.Second)).Int64()
	if err != nil {
		return 0, fmt.Errorf("counter %s: %w", key, err)
	}
	return v, nil
}

// =============================================================================
// LOCKER
// =============================================================================

// Locker implements ledger.WriterLock with redislock.
type Locker struct {
	client  *redislock.Client
	prefix  string
	ttl     time.Duration
	retries int
	backoff time.Duration
}

// NewLocker builds a lock with the given TTL. Acquire retries up to
// retries times, backoff apart, before giving up.
func NewLocker(client redis.UniversalClient, prefix string, ttl time.Duration, retries int, backoff time.Duration) *Locker {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Locker{
		client:  redislock.New(client),
		prefix:  prefix,
		ttl:     ttl,
		retries: retries,
		backoff: backoff,
	}
}

func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	lock, err := l.client.Obtain(ctx, l.prefix+"lock:"+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.backoff), l.retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ledger.ErrLockNotObtained
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}, nil
}

var (
	_ ledger.Gateway    = (*Gateway)(nil)
	_ ledger.Counter    = (*Counter)(nil)
	_ ledger.WriterLock = (*Locker)(nil)
)
