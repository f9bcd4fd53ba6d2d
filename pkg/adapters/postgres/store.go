// Package postgres provides a PostgreSQL implementation of the tendril
// persistence ports and of ports.ProductCatalog, built on pgx connection pools.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements ports.Store, ports.MessageLog and ports.ProductCatalog.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

type Option func(*Store)

// WithTablePrefix prefixes every table name with prefix + "_".
func WithTablePrefix(prefix string) Option {
	return func(s *Store) {
		s.tablePrefix = prefix
	}
}

// New connects to dsn and makes sure the schema exists.
func New(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	store := NewFromPool(pool, opts...)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure tables: %w", err)
	}
	return store, nil
}

// NewFromPool wraps an existing pool. The caller is responsible for
// EnsureSchema.
func NewFromPool(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) table(name string) string {
	if s.tablePrefix != "" {
		return s.tablePrefix + "_" + name
	}
	return name
}

// EnsureSchema creates the tables and indexes used by the store.
func (s *Store) EnsureSchema(ctx context.Context) error {
	execs := s.table("executions")
	records := s.table("node_records")
	vars := s.table("variables")
	msgs := s.table("messages")
	products := s.table("products")

	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				flow_id TEXT NOT NULL,
				subscriber_id TEXT NOT NULL,
				channel_id TEXT NOT NULL DEFAULT '',
				conversation_id TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				continuation JSONB,
				error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				completed_at TIMESTAMPTZ
			)`, execs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_waiting ON %s(subscriber_id, channel_id, status)`, execs, execs),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				seq BIGSERIAL PRIMARY KEY,
				id TEXT NOT NULL,
				execution_id TEXT NOT NULL,
				node_id TEXT NOT NULL,
				node_type TEXT NOT NULL,
				status TEXT NOT NULL,
				duration_ns BIGINT NOT NULL,
				error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL
			)`, records),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_exec ON %s(execution_id, seq)`, records, records),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				execution_id TEXT NOT NULL,
				name TEXT NOT NULL,
				value TEXT NOT NULL,
				source_node_id TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL,
				PRIMARY KEY (execution_id, name)
			)`, vars),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				seq BIGSERIAL PRIMARY KEY,
				execution_id TEXT NOT NULL,
				subscriber_id TEXT NOT NULL DEFAULT '',
				node_id TEXT NOT NULL DEFAULT '',
				direction TEXT NOT NULL,
				kind TEXT NOT NULL DEFAULT '',
				text TEXT NOT NULL DEFAULT '',
				provider_message_id TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL
			)`, msgs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_exec ON %s(execution_id, seq)`, msgs, msgs),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				image_url TEXT NOT NULL DEFAULT '',
				price DOUBLE PRECISION NOT NULL DEFAULT 0,
				currency TEXT NOT NULL DEFAULT '',
				url TEXT NOT NULL DEFAULT ''
			)`, products),
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

const execColumns = `id, flow_id, subscriber_id, channel_id, conversation_id, status, continuation, error, created_at, updated_at, completed_at`

func scanExecution(row pgx.Row) (*domain.ExecutionInstance, error) {
	var (
		exec         domain.ExecutionInstance
		status       string
		continuation []byte
	)
	err := row.Scan(
		&exec.ID, &exec.FlowID, &exec.SubscriberID, &exec.ChannelID, &exec.ConversationID,
		&status, &continuation, &exec.Error, &exec.CreatedAt, &exec.UpdatedAt, &exec.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	exec.Status = domain.ExecutionStatus(status)
	if len(continuation) > 0 && string(continuation) != "null" {
		var c domain.Continuation
		if err := json.Unmarshal(continuation, &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal continuation: %w", err)
		}
		exec.Continuation = &c
	}
	return &exec, nil
}

func marshalContinuation(c *domain.Continuation) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

func (s *Store) CreateExecution(ctx context.Context, exec *domain.ExecutionInstance) error {
	cont, err := marshalContinuation(exec.Continuation)
	if err != nil {
		return err
	}
	sql := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.table("executions"), execColumns)
	_, err = s.pool.Exec(ctx, sql,
		exec.ID, exec.FlowID, exec.SubscriberID, exec.ChannelID, exec.ConversationID,
		string(exec.Status), cont, exec.Error, exec.CreatedAt, exec.UpdatedAt, exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (*domain.ExecutionInstance, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, execColumns, s.table("executions"))
	exec, err := scanExecution(s.pool.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return exec, nil
}

func (s *Store) UpdateExecution(ctx context.Context, exec *domain.ExecutionInstance) error {
	cont, err := marshalContinuation(exec.Continuation)
	if err != nil {
		return err
	}
	sql := fmt.Sprintf(`
		UPDATE %s SET status = $2, continuation = $3, error = $4, updated_at = $5, completed_at = $6
		WHERE id = $1`, s.table("executions"))
	tag, err := s.pool.Exec(ctx, sql, exec.ID, string(exec.Status), cont, exec.Error, exec.UpdatedAt, exec.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrExecutionNotFound
	}
	return nil
}

// ClaimWaiting relies on the row lock taken by the conditional UPDATE: a
// second caller re-evaluates the status predicate after the first commits
// and matches no row.
func (s *Store) ClaimWaiting(ctx context.Context, id string) (*domain.ExecutionInstance, error) {
	table := s.table("executions")
	sql := fmt.Sprintf(`
		UPDATE %[1]s AS cur
		SET status = $2, continuation = NULL, updated_at = $3
		FROM (SELECT id, continuation, status, updated_at FROM %[1]s WHERE id = $1 FOR UPDATE) AS prev
		WHERE cur.id = prev.id AND cur.status = $4
		RETURNING cur.id, cur.flow_id, cur.subscriber_id, cur.channel_id, cur.conversation_id,
			prev.status, prev.continuation, cur.error, cur.created_at, prev.updated_at, cur.completed_at`, table)

	exec, err := scanExecution(s.pool.QueryRow(ctx, sql,
		id, string(domain.StatusRunning), time.Now().UTC(), string(domain.StatusWaitingForInput)))
	if err == nil {
		return exec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to claim execution %s: %w", id, err)
	}
	if _, getErr := s.GetExecution(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, domain.ErrNotWaiting
}

func (s *Store) FindWaiting(ctx context.Context, subscriberID, channelID string) (*domain.ExecutionInstance, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE subscriber_id = $1 AND channel_id = $2 AND status = $3
		ORDER BY updated_at DESC LIMIT 1`, execColumns, s.table("executions"))
	exec, err := scanExecution(s.pool.QueryRow(ctx, sql, subscriberID, channelID, string(domain.StatusWaitingForInput)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("failed to find waiting execution: %w", err)
	}
	return exec, nil
}

// ListExecutions returns execution ids, newest first.
func (s *Store) ListExecutions(ctx context.Context) ([]string, error) {
	sql := fmt.Sprintf(`SELECT id FROM %s ORDER BY created_at DESC`, s.table("executions"))
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return ids, nil
}

func (s *Store) AppendRecord(ctx context.Context, rec *domain.NodeExecutionRecord) error {
	sql := fmt.Sprintf(`
		INSERT INTO %s (id, execution_id, node_id, node_type, status, duration_ns, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, s.table("node_records"))
	_, err := s.pool.Exec(ctx, sql,
		rec.ID, rec.ExecutionID, rec.NodeID, string(rec.NodeType), string(rec.Status),
		int64(rec.Duration), rec.Error, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

func (s *Store) ListRecords(ctx context.Context, executionID string) ([]domain.NodeExecutionRecord, error) {
	sql := fmt.Sprintf(`
		SELECT id, execution_id, node_id, node_type, status, duration_ns, error, created_at
		FROM %s WHERE execution_id = $1 ORDER BY seq`, s.table("node_records"))
	rows, err := s.pool.Query(ctx, sql, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	out := []domain.NodeExecutionRecord{}
	for rows.Next() {
		var (
			rec              domain.NodeExecutionRecord
			nodeType, status string
			duration         int64
		)
		if err := rows.Scan(&rec.ID, &rec.ExecutionID, &rec.NodeID, &nodeType, &status, &duration, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.NodeType = domain.NodeType(nodeType)
		rec.Status = domain.RecordStatus(status)
		rec.Duration = time.Duration(duration)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) SetVariable(ctx context.Context, v *domain.CollectedVariable) error {
	sql := fmt.Sprintf(`
		INSERT INTO %s (execution_id, name, value, source_node_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (execution_id, name)
		DO UPDATE SET value = EXCLUDED.value, source_node_id = EXCLUDED.source_node_id, created_at = EXCLUDED.created_at`,
		s.table("variables"))
	if _, err := s.pool.Exec(ctx, sql, v.ExecutionID, v.Name, v.Value, v.SourceNodeID, v.CreatedAt); err != nil {
		return fmt.Errorf("failed to set variable: %w", err)
	}
	return nil
}

func (s *Store) GetVariable(ctx context.Context, executionID, name string) (string, bool, error) {
	sql := fmt.Sprintf(`SELECT value FROM %s WHERE execution_id = $1 AND name = $2`, s.table("variables"))
	var value string
	err := s.pool.QueryRow(ctx, sql, executionID, name).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get variable: %w", err)
	}
	return value, true, nil
}

func (s *Store) ListVariables(ctx context.Context, executionID string) ([]domain.CollectedVariable, error) {
	sql := fmt.Sprintf(`
		SELECT execution_id, name, value, source_node_id, created_at
		FROM %s WHERE execution_id = $1 ORDER BY name`, s.table("variables"))
	rows, err := s.pool.Query(ctx, sql, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variables: %w", err)
	}
	defer rows.Close()

	out := []domain.CollectedVariable{}
	for rows.Next() {
		var v domain.CollectedVariable
		if err := rows.Scan(&v.ExecutionID, &v.Name, &v.Value, &v.SourceNodeID, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan variable: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) AppendMessage(ctx context.Context, entry *domain.MessageLogEntry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	sql := fmt.Sprintf(`
		INSERT INTO %s (execution_id, subscriber_id, node_id, direction, kind, text, provider_message_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, s.table("messages"))
	_, err := s.pool.Exec(ctx, sql,
		entry.ExecutionID, entry.SubscriberID, entry.NodeID, string(entry.Direction),
		string(entry.Kind), entry.Text, entry.ProviderMessageID, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, executionID string) ([]domain.MessageLogEntry, error) {
	sql := fmt.Sprintf(`
		SELECT execution_id, subscriber_id, node_id, direction, kind, text, provider_message_id, created_at
		FROM %s WHERE execution_id = $1 ORDER BY seq`, s.table("messages"))
	rows, err := s.pool.Query(ctx, sql, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	out := []domain.MessageLogEntry{}
	for rows.Next() {
		var (
			m               domain.MessageLogEntry
			direction, kind string
		)
		if err := rows.Scan(&m.ExecutionID, &m.SubscriberID, &m.NodeID, &direction, &kind, &m.Text, &m.ProviderMessageID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Direction = domain.MessageDirection(direction)
		m.Kind = domain.MessageKind(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
