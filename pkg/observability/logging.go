package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/tendril/pkg/domain"
)

// LogHooks returns lifecycle hooks that log every event at debug level,
// and failed nodes or messages at warn level.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) {
			logger.DebugContext(ctx, "node_enter",
				"execution_id", e.ExecutionID,
				"node_id", e.NodeID,
				"type", e.NodeType,
			)
		},
		OnNodeLeave: func(ctx context.Context, e *domain.NodeEvent) {
			if e.Err != nil {
				logger.WarnContext(ctx, "node_leave",
					"execution_id", e.ExecutionID,
					"node_id", e.NodeID,
					"duration", e.Duration,
					"err", e.Err,
				)
				return
			}
			logger.DebugContext(ctx, "node_leave",
				"execution_id", e.ExecutionID,
				"node_id", e.NodeID,
				"duration", e.Duration,
			)
		},
		OnMessageSent: func(ctx context.Context, e *domain.MessageEvent) {
			level := slog.LevelDebug
			attrs := []any{"execution_id", e.ExecutionID, "node_id", e.NodeID, "kind", e.Kind}
			if e.Err != nil {
				level = slog.LevelWarn
				attrs = append(attrs, "err", e.Err)
			}
			logger.Log(ctx, level, "message_sent", attrs...)
		},
		OnExecutionEnded: func(ctx context.Context, e *domain.ExecutionEvent) {
			logger.InfoContext(ctx, "execution_ended",
				"execution_id", e.ExecutionID,
				"flow_id", e.FlowID,
				"status", e.Status,
			)
		},
	}
}
