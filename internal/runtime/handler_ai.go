package runtime

import (
	"context"
	"fmt"

	"github.com/aretw0/tendril/pkg/domain"
)

// handleAI sends the provider's answer to the interpolated prompt and
// optionally stores it in a variable.
func handleAI(ctx context.Context, nc *NodeContext) (Outcome, error) {
	e := nc.engine
	if e.ai == nil {
		return Outcome{}, domain.ErrNoAIProvider
	}
	var data domain.AIData
	if err := nc.Node.DecodeData(&data); err != nil {
		return Outcome{}, err
	}
	prompt, err := nc.Interpolate(ctx, data.Prompt)
	if err != nil {
		return Outcome{}, err
	}
	system, err := nc.Interpolate(ctx, data.SystemPrompt)
	if err != nil {
		return Outcome{}, err
	}

	answer, err := e.ai.Complete(ctx, prompt, e.aiConfig.WithSystemPrompt(system))
	if err != nil {
		return Outcome{}, fmt.Errorf("ai completion failed: %w", err)
	}
	if err := nc.Send(ctx, domain.NewTextMessage(answer)); err != nil {
		return Outcome{}, err
	}

	if data.Variable != "" {
		if err := e.store.SetVariable(ctx, &domain.CollectedVariable{
			ExecutionID:  nc.Execution.ID,
			Name:         data.Variable,
			Value:        answer,
			SourceNodeID: nc.Node.ID,
			CreatedAt:    e.now(),
		}); err != nil {
			return Outcome{}, err
		}
	}
	return Outcome{}, nil
}
