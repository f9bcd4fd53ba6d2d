package runtime

import (
	"context"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
)

// handleMedia sends a single attachment. A node without a URL is skipped.
func handleMedia(ctx context.Context, nc *NodeContext) (Outcome, error) {
	var data domain.MediaData
	if err := nc.Node.DecodeData(&data); err != nil {
		return Outcome{}, err
	}
	url, err := nc.Interpolate(ctx, strings.TrimSpace(data.URL))
	if err != nil {
		return Outcome{}, err
	}
	if url == "" {
		nc.engine.logger.DebugContext(ctx, "skipping media node without url", "execution_id", nc.Execution.ID, "node_id", nc.Node.ID)
		return Outcome{}, nil
	}
	caption, err := nc.Interpolate(ctx, data.Caption)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{}, nc.Send(ctx, domain.NewMediaMessage(nc.Node.Type, url, caption))
}
