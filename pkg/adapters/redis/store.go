package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// Store implements ports.Store and ports.MessageLog using Redis.
//
// Layout (all keys share the configured prefix):
//
//	exec:<id>                     JSON ExecutionInstance
//	records:<id>                  LIST of JSON NodeExecutionRecord
//	vars:<id>                     HASH name -> JSON CollectedVariable
//	messages:<id>                 LIST of JSON MessageLogEntry
//	waiting:<channel>:<subscriber> ZSET of waiting execution ids by update time
//	index                         ZSET of execution ids by expiry
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration for every key of an execution.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "tendril:",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Client returns the underlying client, e.g. to share it with a Locker.
func (s *Store) Client() *backend.Client {
	return s.client
}

func (s *Store) execKey(id string) string     { return s.prefix + "exec:" + id }
func (s *Store) recordsKey(id string) string  { return s.prefix + "records:" + id }
func (s *Store) varsKey(id string) string     { return s.prefix + "vars:" + id }
func (s *Store) messagesKey(id string) string { return s.prefix + "messages:" + id }
func (s *Store) indexKey() string             { return s.prefix + "index" }

func (s *Store) waitingKey(channelID, subscriberID string) string {
	return s.prefix + "waiting:" + channelID + ":" + subscriberID
}

// expiryScore is the index score of a key written now.
func (s *Store) expiryScore() float64 {
	if s.ttl == 0 {
		return 4102444800 // 2100-01-01
	}
	return float64(time.Now().Add(s.ttl).Unix())
}

// writeExecution queues the execution and its index entries on pipe.
func (s *Store) writeExecution(ctx context.Context, pipe backend.Pipeliner, exec *domain.ExecutionInstance) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}
	pipe.Set(ctx, s.execKey(exec.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: s.expiryScore(), Member: exec.ID})

	waiting := s.waitingKey(exec.ChannelID, exec.SubscriberID)
	if exec.Status == domain.StatusWaitingForInput {
		pipe.ZAdd(ctx, waiting, backend.Z{Score: float64(exec.UpdatedAt.UnixNano()), Member: exec.ID})
		if s.ttl > 0 {
			pipe.Expire(ctx, waiting, s.ttl)
		}
	} else {
		pipe.ZRem(ctx, waiting, exec.ID)
	}
	return nil
}

func (s *Store) CreateExecution(ctx context.Context, exec *domain.ExecutionInstance) error {
	_, err := s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		return s.writeExecution(ctx, pipe, exec)
	})
	if err != nil {
		return fmt.Errorf("failed to save execution to redis: %w", err)
	}
	return nil
}

func (s *Store) UpdateExecution(ctx context.Context, exec *domain.ExecutionInstance) error {
	return s.CreateExecution(ctx, exec)
}

func (s *Store) GetExecution(ctx context.Context, id string) (*domain.ExecutionInstance, error) {
	val, err := s.client.Get(ctx, s.execKey(id)).Bytes()
	if err != nil {
		if err == backend.Nil {
			return nil, domain.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("failed to get execution from redis: %w", err)
	}
	var exec domain.ExecutionInstance
	if err := json.Unmarshal(val, &exec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &exec, nil
}

// ClaimWaiting uses WATCH/MULTI so that only one client moves the execution
// out of waiting_for_input. A transaction aborted by a concurrent write is
// reported as domain.ErrNotWaiting.
func (s *Store) ClaimWaiting(ctx context.Context, id string) (*domain.ExecutionInstance, error) {
	key := s.execKey(id)
	var before *domain.ExecutionInstance

	err := s.client.Watch(ctx, func(tx *backend.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if err == backend.Nil {
				return domain.ErrExecutionNotFound
			}
			return err
		}
		var exec domain.ExecutionInstance
		if err := json.Unmarshal(val, &exec); err != nil {
			return fmt.Errorf("failed to unmarshal execution: %w", err)
		}
		if exec.Status != domain.StatusWaitingForInput {
			return domain.ErrNotWaiting
		}

		snapshot := exec
		before = &snapshot

		exec.Status = domain.StatusRunning
		exec.Continuation = nil
		exec.UpdatedAt = time.Now().UTC()
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			return s.writeExecution(ctx, pipe, &exec)
		})
		return err
	}, key)

	switch {
	case err == nil:
		return before, nil
	case errors.Is(err, backend.TxFailedErr):
		return nil, domain.ErrNotWaiting
	case errors.Is(err, domain.ErrNotWaiting), errors.Is(err, domain.ErrExecutionNotFound):
		return nil, err
	default:
		return nil, fmt.Errorf("failed to claim execution %s: %w", id, err)
	}
}

// FindWaiting returns the most recently paused execution, pruning index
// entries that are stale.
func (s *Store) FindWaiting(ctx context.Context, subscriberID, channelID string) (*domain.ExecutionInstance, error) {
	key := s.waitingKey(channelID, subscriberID)
	ids, err := s.client.ZRevRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read waiting index: %w", err)
	}
	for _, id := range ids {
		exec, err := s.GetExecution(ctx, id)
		if err != nil && !errors.Is(err, domain.ErrExecutionNotFound) {
			return nil, err
		}
		if exec != nil && exec.Status == domain.StatusWaitingForInput {
			return exec, nil
		}
		s.client.ZRem(ctx, key, id)
	}
	return nil, domain.ErrExecutionNotFound
}

// ListExecutions returns the ids of executions that have not expired.
func (s *Store) ListExecutions(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune expired executions: %w", err)
	}
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return ids, nil
}

func (s *Store) appendJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func listJSON[T any](ctx context.Context, client *backend.Client, key string) ([]T, error) {
	vals, err := client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(vals))
	for _, v := range vals {
		var item T
		if err := json.Unmarshal([]byte(v), &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *Store) AppendRecord(ctx context.Context, rec *domain.NodeExecutionRecord) error {
	if err := s.appendJSON(ctx, s.recordsKey(rec.ExecutionID), rec); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

func (s *Store) ListRecords(ctx context.Context, executionID string) ([]domain.NodeExecutionRecord, error) {
	recs, err := listJSON[domain.NodeExecutionRecord](ctx, s.client, s.recordsKey(executionID))
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return recs, nil
}

func (s *Store) SetVariable(ctx context.Context, v *domain.CollectedVariable) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	key := s.varsKey(v.ExecutionID)
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, v.Name, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set variable: %w", err)
	}
	return nil
}

func (s *Store) GetVariable(ctx context.Context, executionID, name string) (string, bool, error) {
	val, err := s.client.HGet(ctx, s.varsKey(executionID), name).Bytes()
	if err != nil {
		if err == backend.Nil {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get variable: %w", err)
	}
	var v domain.CollectedVariable
	if err := json.Unmarshal(val, &v); err != nil {
		return "", false, err
	}
	return v.Value, true, nil
}

// ListVariables returns variables sorted by name.
func (s *Store) ListVariables(ctx context.Context, executionID string) ([]domain.CollectedVariable, error) {
	all, err := s.client.HGetAll(ctx, s.varsKey(executionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list variables: %w", err)
	}
	out := make([]domain.CollectedVariable, 0, len(all))
	for _, raw := range all {
		var v domain.CollectedVariable
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) AppendMessage(ctx context.Context, entry *domain.MessageLogEntry) error {
	if err := s.appendJSON(ctx, s.messagesKey(entry.ExecutionID), entry); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, executionID string) ([]domain.MessageLogEntry, error) {
	return listJSON[domain.MessageLogEntry](ctx, s.client, s.messagesKey(executionID))
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
