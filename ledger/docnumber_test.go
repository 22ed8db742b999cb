package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pallet-ledger/ledger"
)

func TestDocumentNumbers_Next(t *testing.T) {
	ctx := context.Background()
	docs := ledger.DocumentNumbers{Counter: ledger.NewMemoryCounter()}

	first, err := docs.Next(ctx, ledger.CategoryOut, fixedNow, nil)
	require.NoError(t, err)
	second, err := docs.Next(ctx, ledger.CategoryOut, fixedNow, nil)
	require.NoError(t, err)
	other, err := docs.Next(ctx, ledger.CategoryIn, fixedNow, nil)
	require.NoError(t, err)
	nextDay, err := docs.Next(ctx, ledger.CategoryOut, fixedNow.Add(24*time.Hour), nil)
	require.NoError(t, err)

	assert.Equal(t, "OUT-20260310-0001", first)
	assert.Equal(t, "OUT-20260310-0002", second)
	assert.Equal(t, "IN-20260310-0001", other)
	assert.Equal(t, "OUT-20260311-0001", nextDay)
}

func TestDocumentNumbers_HistoryIsAFloor(t *testing.T) {
	// GIVEN: a fresh counter, but history already holds number 0041
	docs := ledger.DocumentNumbers{Counter: ledger.NewMemoryCounter()}
	history := []ledger.Transaction{
		{DocumentNumber: "OUT-20260310-0041"},
		{DocumentNumber: "OUT-20260309-0099"},
		{DocumentNumber: "IN-20260310-0500"},
	}

	doc, err := docs.Next(context.Background(), ledger.CategoryOut, fixedNow, history)
	require.NoError(t, err)
	assert.Equal(t, "OUT-20260310-0042", doc)
}

func TestDocumentNumbers_DayBoundaryFollowsTimezone(t *testing.T) {
	tz := time.FixedZone("UTC+3", 3*3600)
	docs := ledger.DocumentNumbers{Counter: ledger.NewMemoryCounter(), Location: tz}

	late := time.Date(2026, time.March, 10, 22, 30, 0, 0, time.UTC)
	doc, err := docs.Next(context.Background(), ledger.CategoryMaintenance, late, nil)
	require.NoError(t, err)
	assert.Equal(t, "MNT-20260311-0001", doc)
}

func TestDocumentNumbers_RequiresCounter(t *testing.T) {
	_, err := ledger.DocumentNumbers{}.Next(context.Background(), ledger.CategoryAdjust, fixedNow, nil)
	assert.Error(t, err)
}
