package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBPool is the subset of a pgx pool used by PostgresStore.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresOptions configures a Postgres-backed store.
type PostgresOptions struct {
	ConnString string
	TableName  string // Default "checkpoints"
}

// PostgresStore persists checkpoints in PostgreSQL.
type PostgresStore struct {
	pool      DBPool
	tableName string

	mu     sync.RWMutex
	closed bool
}

// NewPostgresStore connects and creates the schema if it doesn't exist.
func NewPostgresStore(ctx context.Context, opts PostgresOptions) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	s := NewPostgresStoreWithPool(pool, opts.TableName)
	if err := s.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreWithPool wraps an existing pool.
func NewPostgresStoreWithPool(pool DBPool, tableName string) *PostgresStore {
	if tableName == "" {
		tableName = "checkpoints"
	}
	return &PostgresStore{pool: pool, tableName: tableName}
}

// InitSchema creates the checkpoint table if it doesn't exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			agent_id TEXT NOT NULL,
			step_key BIGINT NOT NULL,
			id TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			data BYTEA NOT NULL,
			PRIMARY KEY (agent_id, step_key)
		)
	`, s.tableName)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, cp *Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}
	data, err := cp.Marshal()
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (agent_id, step_key, id, timestamp, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agent_id, step_key) DO NOTHING
	`, s.tableName)

	tag, err := s.pool.Exec(ctx, query, cp.AgentID, cp.Step.SortKey(), cp.ID, cp.Timestamp, data)
	if err != nil {
		return fmt.Errorf("append checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCheckpointExists
	}
	return nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, agentID string, step Step) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	query := fmt.Sprintf(`SELECT data FROM %s WHERE agent_id = $1 AND step_key = $2`, s.tableName)

	var data []byte
	err := s.pool.QueryRow(ctx, query, agentID, step.SortKey()).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return data, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, agentID string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	query := fmt.Sprintf(`
		SELECT step_key, id, timestamp, octet_length(data)
		FROM %s
		WHERE agent_id = $1
		ORDER BY step_key
	`, s.tableName)

	rows, err := s.pool.Query(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	infos := []Info{}
	for rows.Next() {
		var (
			stepKey   int64
			id        string
			timestamp time.Time
			size      int64
		)
		if err := rows.Scan(&stepKey, &id, &timestamp, &size); err != nil {
			return nil, fmt.Errorf("scan checkpoint info: %w", err)
		}
		infos = append(infos, Info{
			AgentID:   agentID,
			ID:        id,
			Step:      StepFromSortKey(stepKey),
			Timestamp: timestamp,
			Size:      size,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return infos, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.pool.Close()
	return nil
}
