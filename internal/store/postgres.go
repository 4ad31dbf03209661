package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/record"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/postgres"
	"github.com/lib/pq"
)

const schemaDDL = `CREATE TABLE IF NOT EXISTS metadata_records (
    id         TEXT PRIMARY KEY,
    data       JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresStore keeps one JSONB row per record in metadata_records.
type PostgresStore struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewPostgres(db *postgres.Client) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: slog.Default().With("component", "postgres-store"),
	}
}

// EnsureSchema creates the records table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if err := s.db.Migrate(ctx, schemaDDL); err != nil {
		return fmt.Errorf("creating metadata_records: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, records map[string]record.Record) error {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM metadata_records WHERE NOT (id = ANY($1))`, pq.Array(ids),
		); err != nil {
			return fmt.Errorf("pruning records: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO metadata_records (id, data, updated_at) VALUES ($1, $2, NOW())
			ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`)
		if err != nil {
			return fmt.Errorf("preparing upsert: %w", err)
		}
		defer stmt.Close()
		for _, id := range ids {
			data, err := json.Marshal(records[id])
			if err != nil {
				return fmt.Errorf("encoding record %s: %w", id, err)
			}
			if _, err := stmt.ExecContext(ctx, id, data); err != nil {
				return fmt.Errorf("upserting record %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("records saved", "count", len(ids))
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (map[string]record.Record, error) {
	rows, err := s.db.DB.QueryContext(ctx, `SELECT id, data FROM metadata_records`)
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}
	defer rows.Close()

	out := make(map[string]record.Record)
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scanning record row: %w", err)
		}
		var rec record.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("skipping corrupt record", "id", id, "error", err)
			continue
		}
		out[id] = rec
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
