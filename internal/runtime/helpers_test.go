package runtime_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/tendril/internal/runtime"
	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	Token     string
	Recipient string
	Msg       domain.OutboundMessage
}

// fakeGateway records every send. failOn makes sends whose Summary matches fail.
type fakeGateway struct {
	mu     sync.Mutex
	sent   []sentMessage
	failOn string
}

var errGatewayRejected = errors.New("gateway rejected payload")

func (g *fakeGateway) Send(ctx context.Context, token, recipient string, msg domain.OutboundMessage) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failOn != "" && msg.Summary() == g.failOn {
		return "", errGatewayRejected
	}
	g.sent = append(g.sent, sentMessage{Token: token, Recipient: recipient, Msg: msg})
	return fmt.Sprintf("mid.%d", len(g.sent)), nil
}

func (g *fakeGateway) texts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.sent))
	for i, s := range g.sent {
		out[i] = s.Msg.Summary()
	}
	return out
}

type fakeAI struct {
	answer string
	err    error
	prompt string
	cfg    domain.AIConfig
}

func (f *fakeAI) Complete(ctx context.Context, prompt string, cfg domain.AIConfig) (string, error) {
	f.prompt = prompt
	f.cfg = cfg
	return f.answer, f.err
}

type harness struct {
	engine  *runtime.Engine
	store   *memory.Store
	gateway *fakeGateway
}

func newHarness(t *testing.T, flow *domain.FlowDefinition, opts ...runtime.EngineOption) *harness {
	t.Helper()
	store := memory.NewStore()
	gw := &fakeGateway{}
	opts = append([]runtime.EngineOption{
		runtime.WithSleeper(func(ctx context.Context, d time.Duration) error { return ctx.Err() }),
	}, opts...)
	engine, err := runtime.NewEngine(memory.NewRepository(flow), store, gw, opts...)
	require.NoError(t, err)
	return &harness{engine: engine, store: store, gateway: gw}
}

func (h *harness) start(t *testing.T, flowID string) (*domain.ExecutionInstance, error) {
	t.Helper()
	return h.engine.Start(context.Background(), runtime.StartRequest{
		FlowID:       flowID,
		SubscriberID: "psid-1",
		ChannelID:    "page-1",
		AccessToken:  "token",
	})
}

func (h *harness) records(t *testing.T, execID string) []domain.NodeExecutionRecord {
	t.Helper()
	recs, err := h.store.ListRecords(context.Background(), execID)
	require.NoError(t, err)
	return recs
}
