package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/helm/testgov/pkg/config"
	"github.com/Mindburn-Labs/helm/testgov/pkg/crypto"
	"github.com/Mindburn-Labs/helm/testgov/pkg/ledger"
	"github.com/Mindburn-Labs/helm/testgov/pkg/store"
)

type closingJournal interface {
	ledger.Journal
	Close() error
}

// trustedKeys builds a keyring from ledger.trusted_keys, or nil when none
// are configured.
func (c *cli) trustedKeys() (*crypto.Keyring, error) {
	if len(c.cfg.Ledger.TrustedKeys) == 0 {
		return nil, nil
	}
	kr := crypto.NewKeyring()
	for id, hexKey := range c.cfg.Ledger.TrustedKeys {
		pub, err := crypto.ParsePublicKey(hexKey)
		if err != nil {
			return nil, fmt.Errorf("ledger.trusted_keys[%s]: %w", id, err)
		}
		kr.AddPublicKey(id, pub)
	}
	return kr, nil
}

func (c *cli) openJournal(ctx context.Context) (closingJournal, error) {
	lc := c.cfg.Ledger
	switch lc.Backend {
	case config.LedgerSQLite:
		return store.OpenSQLite(ctx, lc.Path)
	case config.LedgerPostgres:
		return store.OpenPostgres(ctx, lc.DSN)
	case config.LedgerBadger:
		return store.OpenBadger(store.BadgerConfig{Path: lc.Path, SyncWrites: true, Logger: c.logger})
	case config.LedgerMemory:
		return nil, errors.New("ledger.backend is memory: nothing durable to open")
	}
	return nil, fmt.Errorf("unknown ledger backend %q", lc.Backend)
}

// openLedger replays the configured journal. The returned func closes it.
func (c *cli) openLedger(ctx context.Context) (*ledger.Ledger, func(), error) {
	j, err := c.openJournal(ctx)
	if err != nil {
		return nil, nil, err
	}
	closeJournal := func() {
		if err := j.Close(); err != nil {
			c.logger.Error("close journal", "error", err)
		}
	}

	opts := []ledger.Option{
		ledger.WithLogger(c.logger.With("component", "ledger")),
		ledger.WithMetrics(c.metrics()),
	}
	kr, err := c.trustedKeys()
	if err != nil {
		closeJournal()
		return nil, nil, err
	}
	if kr != nil {
		opts = append(opts, ledger.WithVerifier(kr))
	}

	l, err := ledger.Open(ctx, j, opts...)
	if err != nil {
		closeJournal()
		return nil, nil, err
	}
	return l, closeJournal, nil
}
