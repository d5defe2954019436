package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/deskwing/deskwing/pkg/contracts"
	"github.com/deskwing/deskwing/pkg/models"
)

// PostgresStore persists conversation records in Postgres. The record
// body lives in a JSONB column; the indexed columns exist for operational
// queries, not for the read path.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ contracts.ConversationStore = (*PostgresStore)(nil)

// NewPostgresStore connects, pings, and migrates the conversations table.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("Postgres conversation store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS dw_conversations (
			id         TEXT PRIMARY KEY,
			tenant_id  TEXT NOT NULL,
			channel    TEXT NOT NULL,
			state      TEXT NOT NULL,
			record     JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_dw_conversations_tenant ON dw_conversations (tenant_id);
		CREATE INDEX IF NOT EXISTS idx_dw_conversations_state ON dw_conversations (tenant_id, state);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// Get loads a record, (nil, nil) when absent.
func (s *PostgresStore) Get(ctx context.Context, conversationID string) (*models.ConversationRecord, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT record FROM dw_conversations WHERE id = $1`, conversationID,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &models.PersistenceError{ConversationID: conversationID, Op: "get", Err: err}
	}

	var rec models.ConversationRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, &models.PersistenceError{ConversationID: conversationID, Op: "get", Err: err}
	}
	return &rec, nil
}

// Save upserts the full record.
func (s *PostgresStore) Save(ctx context.Context, record *models.ConversationRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return &models.PersistenceError{ConversationID: record.ID, Op: "save", Err: err}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO dw_conversations (id, tenant_id, channel, state, record, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			record = EXCLUDED.record,
			updated_at = EXCLUDED.updated_at`,
		record.ID, record.TenantID, string(record.Channel), string(record.State),
		body, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return &models.PersistenceError{ConversationID: record.ID, Op: "save", Err: err}
	}
	return nil
}

// Ping checks pool connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
