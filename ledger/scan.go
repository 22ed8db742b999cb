package ledger

import (
	"context"
	"net/url"
	"strings"
)

// documentParams are the query keys a scanned URL may carry the number in.
var documentParams = []string{"doc", "document", "documentNumber", "docNumber", "id"}

// ParseScannedDocument extracts a document number from a decoded scan. The
// payload is either the number itself or a URL carrying it in the query string
// or as the last path segment.
func ParseScannedDocument(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	q := u.Query()
	for _, key := range documentParams {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			return v
		}
	}
	if seg := strings.Trim(u.Path, "/"); seg != "" {
		parts := strings.Split(seg, "/")
		return parts[len(parts)-1]
	}
	return ""
}

// ScanResult is a document ready to be received at a location.
type ScanResult struct {
	DocumentNumber string        `json:"documentNumber"`
	Pending        []Transaction `json:"pending"`
}

// ResolveScan maps a decoded scan to the pending transactions the location
// can receive. Unknown, already received or misrouted documents come back as
// a *ScanError with a distinct outcome.
func (l *Ledger) ResolveScan(_ context.Context, raw string, location LocationID) (ScanResult, error) {
	doc := ParseScannedDocument(raw)
	txs := l.Batch(doc)
	if doc == "" || len(txs) == 0 {
		return ScanResult{}, &ScanError{DocumentNumber: doc, Location: location, Err: ErrDocumentNotFound}
	}

	var pending []Transaction
	var elsewhere LocationID
	completed := false
	for _, tx := range txs {
		if tx.Status == StatusCompleted {
			completed = true
		}
		if tx.Status != StatusPending {
			continue
		}
		if tx.Destination != location {
			elsewhere = tx.Destination
			continue
		}
		pending = append(pending, tx)
	}
	switch {
	case len(pending) > 0:
		return ScanResult{DocumentNumber: doc, Pending: pending}, nil
	case elsewhere != "":
		return ScanResult{}, &ScanError{DocumentNumber: doc, Location: location, Destination: elsewhere, Err: ErrWrongDestination}
	case completed:
		return ScanResult{}, &ScanError{DocumentNumber: doc, Location: location, Err: ErrAlreadyCompleted}
	default:
		// every record was cancelled
		return ScanResult{}, &ScanError{DocumentNumber: doc, Location: location, Err: ErrDocumentNotFound}
	}
}
