package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Document number prefixes per category.
var documentPrefixes = map[Category]string{
	CategoryIn:          "IN",
	CategoryOut:         "OUT",
	CategoryMaintenance: "MNT",
	CategoryAdjust:      "ADJ",
}

// DocumentNumbers derives batch identifiers of the form PREFIX-YYYYMMDD-NNNN,
// scoped by category and calendar day.
type DocumentNumbers struct {
	Counter Counter
	// Location is the timezone the day boundary is taken in. Defaults to UTC.
	Location *time.Location
}

// Next returns the next number for the category on the day of at. Numbers
// already present in history act as a floor so a reset counter never
// reissues a number.
func (d DocumentNumbers) Next(ctx context.Context, category Category, at time.Time, history []Transaction) (string, error) {
	prefix := documentPrefix(category, at, d.Location)
	floor := highestSequence(history, prefix)

	if d.Counter == nil {
		return "", fmt.Errorf("allocate document number: no counter configured")
	}
	seq, err := d.Counter.Next(ctx, "docseq:"+prefix, floor)
	if err != nil {
		return "", fmt.Errorf("allocate document number: %w", err)
	}
	return fmt.Sprintf("%s%04d", prefix, seq), nil
}

func documentPrefix(category Category, at time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	p, ok := documentPrefixes[category]
	if !ok {
		p = "DOC"
	}
	return fmt.Sprintf("%s-%s-", p, at.In(loc).Format("20060102"))
}

func highestSequence(history []Transaction, prefix string) int64 {
	var highest int64
	for _, tx := range history {
		rest, ok := strings.CutPrefix(tx.DocumentNumber, prefix)
		if !ok {
			continue
		}
		if n, err := strconv.ParseInt(rest, 10, 64); err == nil && n > highest {
			highest = n
		}
	}
	return highest
}

// =============================================================================
// MEMORY COUNTER
// =============================================================================

// MemoryCounter is a process-local Counter.
type MemoryCounter struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{values: make(map[string]int64)}
}

func (c *MemoryCounter) Next(_ context.Context, key string, floor int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.values[key] + 1
	if v <= floor {
		v = floor + 1
	}
	c.values[key] = v
	return v, nil
}
