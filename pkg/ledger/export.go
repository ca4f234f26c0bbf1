package ledger

import (
	"encoding/json"
	"time"
)

// Snapshot is the evidence document for one point in the ledger's history.
type Snapshot struct {
	Head       string    `json:"head"`
	Summary    Summary   `json:"summary"`
	Entries    []Entry   `json:"entries"`
	ExportedAt time.Time `json:"exported_at"`
}

// Export captures entries and summary under one read lock.
func (l *Ledger) Export() Snapshot {
	l.mu.RLock()
	entries := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		e.Receipt = e.Receipt.Clone()
		entries[i] = e
	}
	head := l.head
	now := l.clock().UTC()
	l.mu.RUnlock()

	s := Snapshot{Head: head, Entries: entries, ExportedAt: now}
	s.Summary = summarize(entries, head)
	return s
}

func (l *Ledger) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Export())
}
