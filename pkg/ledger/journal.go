package ledger

import (
	"context"
	"time"
)

// Record is the durable form of an Entry.
type Record struct {
	Sequence    uint64
	ContentHash string
	PrevHash    string
	AppendedAt  time.Time
	// Receipt is the receipt's JSON encoding.
	Receipt []byte
}

// Journal persists ledger records. Append must be durable before it
// returns; Load returns records in sequence order.
type Journal interface {
	Append(ctx context.Context, rec Record) error
	Load(ctx context.Context) ([]Record, error)
}
