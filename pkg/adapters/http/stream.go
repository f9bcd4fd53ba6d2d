package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/go-chi/chi/v5"
)

// StreamEvent is one server-sent event.
type StreamEvent struct {
	Type     domain.EventType
	Data     []byte
	Terminal bool
}

// StreamManager fans engine lifecycle events out to SSE subscribers of
// an execution.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- StreamEvent]struct{} // ExecutionID -> set of channels
	buffer      int
	logger      *slog.Logger
}

type StreamOption func(*StreamManager)

// WithStreamBuffer sets how many events a slow client may lag behind
// before events are dropped for it.
func WithStreamBuffer(n int) StreamOption {
	return func(sm *StreamManager) { sm.buffer = n }
}

func WithStreamLogger(l *slog.Logger) StreamOption {
	return func(sm *StreamManager) { sm.logger = l }
}

func NewStreamManager(opts ...StreamOption) *StreamManager {
	sm := &StreamManager{
		subscribers: make(map[string]map[chan<- StreamEvent]struct{}),
		buffer:      16,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

func (sm *StreamManager) Subscribe(executionID string) (<-chan StreamEvent, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan StreamEvent, sm.buffer)
	if _, ok := sm.subscribers[executionID]; !ok {
		sm.subscribers[executionID] = make(map[chan<- StreamEvent]struct{})
	}
	sm.subscribers[executionID][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			if subs, ok := sm.subscribers[executionID]; ok {
				delete(subs, ch)
				close(ch)
				if len(subs) == 0 {
					delete(sm.subscribers, executionID)
				}
			}
		})
	}
}

func (sm *StreamManager) Broadcast(executionID string, ev StreamEvent) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[executionID] {
		select {
		case ch <- ev:
		default:
			sm.logger.Warn("SSE: client buffer full, dropping event", "execution_id", executionID, "type", ev.Type)
		}
	}
}

// Subscribers returns the number of open streams for an execution.
func (sm *StreamManager) Subscribers(executionID string) int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers[executionID])
}

// Hooks returns lifecycle hooks that broadcast every engine event to the
// streams of its execution.
func (sm *StreamManager) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, ev *domain.NodeEvent) {
			sm.publish(ev.ExecutionID, ev.Type, ev, false)
		},
		OnNodeLeave: func(ctx context.Context, ev *domain.NodeEvent) {
			sm.publish(ev.ExecutionID, ev.Type, ev, false)
		},
		OnMessageSent: func(ctx context.Context, ev *domain.MessageEvent) {
			sm.publish(ev.ExecutionID, ev.Type, ev, false)
		},
		OnExecutionEnded: func(ctx context.Context, ev *domain.ExecutionEvent) {
			sm.publish(ev.ExecutionID, ev.Type, ev, ev.Status.Terminal())
		},
	}
}

func (sm *StreamManager) publish(executionID string, t domain.EventType, v any, terminal bool) {
	if sm.Subscribers(executionID) == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		sm.logger.Error("SSE: event encode failed", "execution_id", executionID, "err", err)
		return
	}
	sm.Broadcast(executionID, StreamEvent{Type: t, Data: data, Terminal: terminal})
}

// SubscribeEvents handles GET /v1/executions/{id}/events (SSE). The stream
// ends when the execution reaches a terminal status or the client leaves.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	id := chi.URLParam(r, "id")
	exec, err := s.Engine.GetExecution(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, "SubscribeEvents", nil, err)
		return
	}

	ch, cancel := s.Streams.Subscribe(id)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "event: ping\ndata: %s\n\n", exec.Status)
	flusher.Flush()
	s.logger.Debug("SSE: client subscribed", "execution_id", id)

	if exec.Status.Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE: client disconnected", "execution_id", id)
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.Data)
			flusher.Flush()
			if ev.Terminal {
				return
			}
		}
	}
}
