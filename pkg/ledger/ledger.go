// Package ledger is the append-only, hash-chained record of signed test
// receipts and the governance queries over it.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Mindburn-Labs/helm/testgov/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
	"github.com/Mindburn-Labs/helm/testgov/pkg/crypto"
	"github.com/Mindburn-Labs/helm/testgov/pkg/observability"
	"github.com/Mindburn-Labs/helm/testgov/pkg/receipts"
)

// GenesisHash is the PrevHash of the first entry.
const GenesisHash = "genesis"

// Entry is one appended receipt and its place in the chain.
type Entry struct {
	Sequence    uint64            `json:"sequence"`
	Receipt     *receipts.Receipt `json:"receipt"`
	ContentHash string            `json:"content_hash"`
	PrevHash    string            `json:"prev_hash"`
	AppendedAt  time.Time         `json:"appended_at"`
}

// Ledger never edits or removes an entry. Appends are serialized; readers
// get consistent snapshots.
type Ledger struct {
	mu       sync.RWMutex
	entries  []Entry
	head     string
	verifier crypto.Verifier
	journal  Journal
	clock    func() time.Time
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithVerifier makes AddReceipt check signatures, not just their presence.
func WithVerifier(v crypto.Verifier) Option {
	return func(l *Ledger) { l.verifier = v }
}

// WithClock sets the source of AppendedAt timestamps.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// WithLogger replaces the default component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithMetrics records appends; a nil Metrics is ignored.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// New creates an empty in-memory ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		head:   GenesisHash,
		clock:  time.Now,
		logger: slog.Default().With("component", "ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open creates a ledger backed by journal, replaying and chain-checking
// every stored record first. Subsequent appends are written through.
func Open(ctx context.Context, journal Journal, opts ...Option) (*Ledger, error) {
	l := New(opts...)
	records, err := journal.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}
	for _, rec := range records {
		r, err := receipts.FromJSON(rec.Receipt)
		if err != nil {
			return nil, &CorruptError{Sequence: rec.Sequence, Reason: "undecodable receipt", Err: err}
		}
		want := uint64(len(l.entries)) + 1
		if rec.Sequence != want {
			return nil, &CorruptError{Sequence: rec.Sequence, Reason: fmt.Sprintf("expected sequence %d", want)}
		}
		if rec.PrevHash != l.head {
			return nil, &CorruptError{Sequence: rec.Sequence, Reason: "prev hash does not match chain head"}
		}
		hash, err := chainHash(rec.Sequence, rec.PrevHash, rec.AppendedAt, rec.Receipt)
		if err != nil {
			return nil, err
		}
		if hash != rec.ContentHash {
			return nil, &CorruptError{Sequence: rec.Sequence, Reason: "content hash mismatch"}
		}
		if err := l.admit(r); err != nil {
			return nil, &CorruptError{Sequence: rec.Sequence, Reason: "stored receipt rejected", Err: err}
		}
		l.entries = append(l.entries, Entry{
			Sequence:    rec.Sequence,
			Receipt:     r,
			ContentHash: rec.ContentHash,
			PrevHash:    rec.PrevHash,
			AppendedAt:  rec.AppendedAt,
		})
		l.head = rec.ContentHash
	}
	l.journal = journal
	l.logger.InfoContext(ctx, "ledger opened", "entries", len(l.entries), "head", l.head)
	return l, nil
}

type chainLink struct {
	Sequence   uint64          `json:"sequence"`
	PrevHash   string          `json:"prev_hash"`
	AppendedAt string          `json:"appended_at"`
	Receipt    json.RawMessage `json:"receipt"`
}

func chainHash(seq uint64, prev string, at time.Time, receipt []byte) (string, error) {
	canonical, err := canonicalize.JCS(chainLink{
		Sequence:   seq,
		PrevHash:   prev,
		AppendedAt: at.UTC().Format(time.RFC3339Nano),
		Receipt:    receipt,
	})
	if err != nil {
		return "", fmt.Errorf("canonicalize entry %d: %w", seq, err)
	}
	return canonicalize.ContentHash(canonical), nil
}

// admit applies the acceptance rules for a receipt.
func (l *Ledger) admit(r *receipts.Receipt) error {
	if r == nil {
		return &UnsignedReceiptError{}
	}
	if !r.IsSigned() {
		return &UnsignedReceiptError{ContractName: r.ContractName()}
	}
	if l.verifier == nil {
		return nil
	}
	ok, err := r.Verify(l.verifier)
	if err != nil || !ok {
		return &InvalidSignatureError{ContractName: r.ContractName(), KeyID: r.KeyID(), Err: err}
	}
	return nil
}

// AddReceipt appends a private copy of a signed receipt and returns its
// sequence number. The journal, when present, is written before the
// in-memory commit; if it fails nothing is appended.
func (l *Ledger) AddReceipt(ctx context.Context, r *receipts.Receipt) (uint64, error) {
	if err := l.admit(r); err != nil {
		l.logger.WarnContext(ctx, "receipt rejected", "error", err)
		return 0, err
	}
	r = r.Clone()
	payload, err := r.ToJSON()
	if err != nil {
		return 0, fmt.Errorf("encode receipt %q: %w", r.ContractName(), err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seq := uint64(len(l.entries)) + 1
	at := l.clock().UTC()
	hash, err := chainHash(seq, l.head, at, payload)
	if err != nil {
		return 0, err
	}
	entry := Entry{
		Sequence:    seq,
		Receipt:     r,
		ContentHash: hash,
		PrevHash:    l.head,
		AppendedAt:  at,
	}
	if l.journal != nil {
		rec := Record{
			Sequence:    seq,
			ContentHash: hash,
			PrevHash:    l.head,
			AppendedAt:  at,
			Receipt:     payload,
		}
		if err := l.journal.Append(ctx, rec); err != nil {
			l.logger.ErrorContext(ctx, "journal append failed", "sequence", seq, "error", err)
			return 0, fmt.Errorf("journal append %d: %w", seq, err)
		}
	}
	l.entries = append(l.entries, entry)
	l.head = hash

	l.metrics.RecordReceiptAppended(ctx, string(r.Outcome()), r.TauViolation())
	l.logger.InfoContext(ctx, "receipt appended",
		"sequence", seq,
		"contract", r.ContractName(),
		"outcome", r.Outcome(),
		"tau_violation", r.TauViolation(),
	)
	return seq, nil
}

func (l *Ledger) filter(keep func(*receipts.Receipt) bool) []*receipts.Receipt {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []*receipts.Receipt{}
	for _, e := range l.entries {
		if keep(e.Receipt) {
			out = append(out, e.Receipt.Clone())
		}
	}
	return out
}

// Receipts returns copies of every receipt in append order.
func (l *Ledger) Receipts() []*receipts.Receipt {
	return l.filter(func(*receipts.Receipt) bool { return true })
}

// TauViolations returns receipts whose timing missed the tier budget.
func (l *Ledger) TauViolations() []*receipts.Receipt {
	return l.filter((*receipts.Receipt).TauViolation)
}

// FailedReceipts returns receipts whose outcome is anything but PASS.
func (l *Ledger) FailedReceipts() []*receipts.Receipt {
	return l.filter((*receipts.Receipt).Failed)
}

// QueryByMetadata returns receipts whose metadata maps key to value.
func (l *Ledger) QueryByMetadata(key, value string) []*receipts.Receipt {
	return l.filter(func(r *receipts.Receipt) bool {
		v, ok := r.MetadataValue(key)
		return ok && v == value
	})
}

// Entries returns a snapshot of the chain with copied receipts.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		e.Receipt = e.Receipt.Clone()
		out[i] = e
	}
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Head is the content hash of the last entry, or GenesisHash.
func (l *Ledger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.head
}

// Summary is the aggregate view governance policy evaluates.
type Summary struct {
	Receipts      int    `json:"receipts"`
	TauViolations int    `json:"tau_violations"`
	Failures      int    `json:"failures"`
	Indeterminate int    `json:"indeterminate"` // subset of Failures
	Unsigned      int    `json:"unsigned"`
	Head          string `json:"head"`
}

// Summary computes counts over one consistent snapshot.
func (l *Ledger) Summary() Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return summarize(l.entries, l.head)
}

func summarize(entries []Entry, head string) Summary {
	s := Summary{Receipts: len(entries), Head: head}
	for _, e := range entries {
		r := e.Receipt
		if r.TauViolation() {
			s.TauViolations++
		}
		if r.Failed() {
			s.Failures++
		}
		if r.Outcome() == contracts.OutcomeIndeterminate {
			s.Indeterminate++
		}
		if !r.IsSigned() {
			s.Unsigned++
		}
	}
	return s
}

// CanDeploy holds when there are no tau violations, every receipt passed
// and every receipt is signed. It is advisory input to the consensus gate.
func (l *Ledger) CanDeploy() bool {
	s := l.Summary()
	return s.TauViolations == 0 && s.Failures == 0 && s.Unsigned == 0
}

// Verify recomputes the hash chain and, with a verifier, every signature.
func (l *Ledger) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	prev := GenesisHash
	for i, e := range l.entries {
		if e.Sequence != uint64(i)+1 {
			return &CorruptError{Sequence: e.Sequence, Reason: "sequence gap"}
		}
		if e.PrevHash != prev {
			return &CorruptError{Sequence: e.Sequence, Reason: "broken prev hash link"}
		}
		payload, err := e.Receipt.ToJSON()
		if err != nil {
			return &CorruptError{Sequence: e.Sequence, Reason: "unencodable receipt", Err: err}
		}
		hash, err := chainHash(e.Sequence, e.PrevHash, e.AppendedAt, payload)
		if err != nil {
			return err
		}
		if hash != e.ContentHash {
			return &CorruptError{Sequence: e.Sequence, Reason: "content hash mismatch"}
		}
		if err := l.admit(e.Receipt); err != nil {
			return &CorruptError{Sequence: e.Sequence, Reason: "receipt no longer admissible", Err: err}
		}
		prev = e.ContentHash
	}
	if prev != l.head {
		return &CorruptError{Sequence: uint64(len(l.entries)), Reason: "head does not match last entry"}
	}
	return nil
}
