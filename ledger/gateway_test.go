package ledger_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pallet-ledger/ledger"
)

func snapshotAt(version int64, qty int) ledger.Snapshot {
	return ledger.Snapshot{Version: version, Stock: ledger.Stock{branchA: {euro: qty}}}
}

func TestFeed_DropsOlderVersions(t *testing.T) {
	// GIVEN: a subscriber that already received version 6
	var feed ledger.Feed
	var got []int
	feed.SubscribeStock(func(s ledger.Stock) { got = append(got, s.Get(branchA, euro)) })
	require.True(t, feed.Publish(snapshotAt(6, 60)))

	// WHEN: a slower writer pushes version 5, then the same version 6 again
	older := feed.Publish(snapshotAt(5, 50))
	same := feed.Publish(snapshotAt(6, 60))

	// THEN: neither reaches the subscriber
	assert.False(t, older)
	assert.False(t, same)
	assert.Equal(t, []int{60}, got)
}

func TestFeed_FirstPushAtVersionZero(t *testing.T) {
	var feed ledger.Feed
	var got []int
	feed.SubscribeStock(func(s ledger.Stock) { got = append(got, s.Get(branchA, euro)) })

	assert.True(t, feed.Publish(snapshotAt(0, 1)))
	assert.True(t, feed.Publish(snapshotAt(1, 2)))
	assert.Equal(t, []int{1, 2}, got)
}

func TestFeed_ConcurrentPushesEndOnNewest(t *testing.T) {
	// GIVEN: many publishers racing with versions 1..50
	var feed ledger.Feed
	var mu sync.Mutex
	var seen []int
	feed.SubscribeStock(func(s ledger.Stock) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.Get(branchA, euro))
	})

	var wg sync.WaitGroup
	for v := 1; v <= 50; v++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			feed.Publish(snapshotAt(int64(v), v))
		}(v)
	}
	wg.Wait()

	// THEN: deliveries only move forward and the last one is the newest
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
	assert.Equal(t, 50, seen[len(seen)-1])
}
