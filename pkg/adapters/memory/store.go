package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/tendril/pkg/domain"
)

// Store implements ports.Store and ports.MessageLog in memory.
// Safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	executions map[string]*domain.ExecutionInstance
	records    map[string][]domain.NodeExecutionRecord
	variables  map[string]map[string]domain.CollectedVariable
	messages   map[string][]domain.MessageLogEntry
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		executions: make(map[string]*domain.ExecutionInstance),
		records:    make(map[string][]domain.NodeExecutionRecord),
		variables:  make(map[string]map[string]domain.CollectedVariable),
		messages:   make(map[string][]domain.MessageLogEntry),
	}
}

// copyExecution isolates stored instances from callers, similar to serialization.
func copyExecution(exec *domain.ExecutionInstance) *domain.ExecutionInstance {
	c := *exec
	if exec.Continuation != nil {
		cont := *exec.Continuation
		c.Continuation = &cont
	}
	if exec.CompletedAt != nil {
		t := *exec.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (s *Store) CreateExecution(ctx context.Context, exec *domain.ExecutionInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.ID] = copyExecution(exec)
	return nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (*domain.ExecutionInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, domain.ErrExecutionNotFound
	}
	return copyExecution(exec), nil
}

func (s *Store) UpdateExecution(ctx context.Context, exec *domain.ExecutionInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[exec.ID]; !ok {
		return domain.ErrExecutionNotFound
	}
	s.executions[exec.ID] = copyExecution(exec)
	return nil
}

// ClaimWaiting performs the waiting_for_input -> running transition under the write lock.
func (s *Store) ClaimWaiting(ctx context.Context, id string) (*domain.ExecutionInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, domain.ErrExecutionNotFound
	}
	if exec.Status != domain.StatusWaitingForInput {
		return nil, domain.ErrNotWaiting
	}
	before := copyExecution(exec)
	exec.Status = domain.StatusRunning
	exec.Continuation = nil
	return before, nil
}

func (s *Store) FindWaiting(ctx context.Context, subscriberID, channelID string) (*domain.ExecutionInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *domain.ExecutionInstance
	for _, exec := range s.executions {
		if exec.Status != domain.StatusWaitingForInput || exec.SubscriberID != subscriberID || exec.ChannelID != channelID {
			continue
		}
		if found == nil || exec.UpdatedAt.After(found.UpdatedAt) {
			found = exec
		}
	}
	if found == nil {
		return nil, domain.ErrExecutionNotFound
	}
	return copyExecution(found), nil
}

// ListExecutions returns execution ids, oldest first.
func (s *Store) ListExecutions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	execs := make([]*domain.ExecutionInstance, 0, len(s.executions))
	for _, e := range s.executions {
		execs = append(execs, e)
	}
	sort.Slice(execs, func(i, j int) bool {
		if execs[i].CreatedAt.Equal(execs[j].CreatedAt) {
			return execs[i].ID < execs[j].ID
		}
		return execs[i].CreatedAt.Before(execs[j].CreatedAt)
	})
	ids := make([]string, len(execs))
	for i, e := range execs {
		ids[i] = e.ID
	}
	return ids, nil
}

func (s *Store) AppendRecord(ctx context.Context, rec *domain.NodeExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ExecutionID] = append(s.records[rec.ExecutionID], *rec)
	return nil
}

func (s *Store) ListRecords(ctx context.Context, executionID string) ([]domain.NodeExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.NodeExecutionRecord{}, s.records[executionID]...), nil
}

func (s *Store) SetVariable(ctx context.Context, v *domain.CollectedVariable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.variables[v.ExecutionID] == nil {
		s.variables[v.ExecutionID] = make(map[string]domain.CollectedVariable)
	}
	s.variables[v.ExecutionID][v.Name] = *v
	return nil
}

func (s *Store) GetVariable(ctx context.Context, executionID, name string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variables[executionID][name]
	return v.Value, ok, nil
}

// ListVariables returns variables sorted by name.
func (s *Store) ListVariables(ctx context.Context, executionID string) ([]domain.CollectedVariable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CollectedVariable, 0, len(s.variables[executionID]))
	for _, v := range s.variables[executionID] {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) AppendMessage(ctx context.Context, entry *domain.MessageLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[entry.ExecutionID] = append(s.messages[entry.ExecutionID], *entry)
	return nil
}

func (s *Store) ListMessages(ctx context.Context, executionID string) ([]domain.MessageLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.MessageLogEntry{}, s.messages[executionID]...), nil
}
