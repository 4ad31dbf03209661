// Package store persists normalized records keyed by identifier so a later
// session can rebuild its index without refetching. Persistence is optional:
// every caller must work with a nil Store.
package store

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/record"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/postgres"
)

// Store saves and loads a complete record set.
type Store interface {
	// Save replaces the stored set with records.
	Save(ctx context.Context, records map[string]record.Record) error
	Load(ctx context.Context) (map[string]record.Record, error)
	Close() error
}

// Outcome reports the result of a persistence attempt. Err is nil on
// success; the host decides whether a failure matters.
type Outcome struct {
	Saved int
	Err   error
}

// OK reports whether the records were persisted.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Open returns the store selected by cfg.Store.Driver, or nil for "none".
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store.Driver {
	case "", "none":
		return nil, nil
	case "bolt":
		st, err := OpenBolt(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		client, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		st := NewPostgres(client)
		if err := st.EnsureSchema(ctx); err != nil {
			client.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
