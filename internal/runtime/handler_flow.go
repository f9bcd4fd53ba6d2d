package runtime

import (
	"context"
	"math"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
)

// handleInput sends the prompt and suspends the run.
func handleInput(ctx context.Context, nc *NodeContext) (Outcome, error) {
	var data domain.InputData
	if err := nc.Node.DecodeData(&data); err != nil {
		return Outcome{}, err
	}
	prompt, err := nc.Interpolate(ctx, data.Prompt)
	if err != nil {
		return Outcome{}, err
	}
	if prompt != "" {
		if err := nc.Send(ctx, domain.NewTextMessage(prompt)); err != nil {
			return Outcome{}, err
		}
	}
	return Outcome{Suspend: true, Variable: data.Variable}, nil
}

func handleCondition(ctx context.Context, nc *NodeContext) (Outcome, error) {
	var data domain.ConditionData
	if err := nc.Node.DecodeData(&data); err != nil {
		return Outcome{}, err
	}
	vars, err := nc.Variables(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if nc.engine.evaluator(data, vars) {
		return Outcome{Branch: domain.HandleTrue}, nil
	}
	return Outcome{Branch: domain.HandleFalse}, nil
}

// handleSequence waits for the configured number of seconds. Cancelling the
// context aborts the wait and fails the node.
func handleSequence(ctx context.Context, nc *NodeContext) (Outcome, error) {
	var data domain.SequenceData
	if err := nc.Node.DecodeData(&data); err != nil {
		return Outcome{}, err
	}
	return Outcome{}, nc.engine.sleep(ctx, delayDuration(data.Delay))
}

// delayDuration converts seconds to a Duration, clamping negative and NaN
// values to zero and saturating at the longest representable Duration.
func delayDuration(seconds float64) time.Duration {
	ns := seconds * float64(time.Second)
	switch {
	case math.IsNaN(ns) || ns <= 0:
		return 0
	case ns >= math.MaxInt64:
		return math.MaxInt64
	}
	return time.Duration(ns)
}
