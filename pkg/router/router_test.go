package router_test

import (
	"context"
	"sync"
	"testing"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/dsl"
	"github.com/aretw0/tendril/pkg/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	token, recipient string
	msg              domain.OutboundMessage
}

type recordingGateway struct {
	mu  sync.Mutex
	out []sent
}

func (g *recordingGateway) Send(ctx context.Context, token, recipient string, msg domain.OutboundMessage) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.out = append(g.out, sent{token, recipient, msg})
	return "m", nil
}

func (g *recordingGateway) texts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, s := range g.out {
		out = append(out, s.msg.Summary())
	}
	return out
}

func setup(t *testing.T) (*router.Dispatcher, *tendril.Engine, *recordingGateway) {
	t.Helper()
	b := dsl.New("welcome")
	b.Start("start").Go("ask")
	b.Add("ask").Question("Your name?").SaveTo("name").Go("menu")
	b.Add("menu").Text("Hi {{name}}, pick one").Attach("opt-docs").Attach("opt-more")
	b.Add("opt-docs").Button("Docs", "https://example.com/docs")
	b.Add("opt-more").Reply("More")
	b.Add("more").Text("Here is more")
	b.Add("opt-more").Go("more")
	flow, err := b.Build()
	require.NoError(t, err)

	gw := &recordingGateway{}
	channels := router.NewChannels(router.ChannelConfig{ID: "page", AccessToken: "tok", DefaultFlowID: "welcome"})
	eng, err := tendril.New(
		tendril.WithFlows(memory.NewRepository(flow)),
		tendril.WithGateway(gw),
		tendril.WithTokenSource(channels),
	)
	require.NoError(t, err)
	return router.NewDispatcher(eng, channels), eng, gw
}

func TestDispatcher_DefaultFlowThenResume(t *testing.T) {
	d, _, gw := setup(t)
	ctx := context.Background()

	res, err := d.Dispatch(ctx, domain.InboundEvent{ChannelID: "page", SubscriberID: "u1", Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, router.ActionDefault, res.Action)
	assert.Equal(t, domain.StatusWaitingForInput, res.Execution.Status)

	res, err = d.Dispatch(ctx, domain.InboundEvent{ChannelID: "page", SubscriberID: "u1", Text: "Ana"})
	require.NoError(t, err)
	assert.Equal(t, router.ActionResume, res.Action)
	assert.Equal(t, domain.StatusCompleted, res.Execution.Status)

	texts := gw.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, "Your name?", texts[0])
	assert.Equal(t, "Hi Ana, pick one", texts[1])
	assert.Equal(t, "tok", gw.out[1].token, "resume uses the channel token")
}

func TestDispatcher_ChoicePayloadStartsAtNode(t *testing.T) {
	d, _, gw := setup(t)

	payload := domain.ChoicePayload{FlowID: "welcome", NodeID: "more"}.String()
	res, err := d.Dispatch(context.Background(), domain.InboundEvent{ChannelID: "page", SubscriberID: "u2", Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, router.ActionChoice, res.Action)
	assert.Equal(t, "welcome", res.Execution.FlowID)
	assert.Equal(t, []string{"Here is more"}, gw.texts())
}

func TestDispatcher_ChoiceWithoutTargetIsIgnored(t *testing.T) {
	d, _, gw := setup(t)

	res, err := d.Dispatch(context.Background(), domain.InboundEvent{ChannelID: "page", SubscriberID: "u3", Payload: "tendril:welcome:"})
	require.NoError(t, err)
	assert.Equal(t, router.ActionIgnore, res.Action)
	assert.Empty(t, gw.texts())
}

func TestDispatcher_UnknownChannel(t *testing.T) {
	d, _, _ := setup(t)
	_, err := d.Dispatch(context.Background(), domain.InboundEvent{ChannelID: "other", SubscriberID: "u1", Text: "hi"})
	assert.ErrorIs(t, err, router.ErrUnknownChannel)
}

func TestDispatcher_NoDefaultFlowIgnores(t *testing.T) {
	_, eng, gw := setup(t)
	d := router.NewDispatcher(eng, router.NewChannels(router.ChannelConfig{ID: "page", AccessToken: "tok"}))

	res, err := d.Dispatch(context.Background(), domain.InboundEvent{ChannelID: "page", SubscriberID: "u1", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, router.ActionIgnore, res.Action)
	assert.Empty(t, gw.texts())
}

func TestDispatcher_ConcurrentRepliesResumeOnce(t *testing.T) {
	d, eng, _ := setup(t)
	ctx := context.Background()

	_, err := d.Dispatch(ctx, domain.InboundEvent{ChannelID: "page", SubscriberID: "u4", Text: "hi"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]router.Result, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = d.Dispatch(ctx, domain.InboundEvent{ChannelID: "page", SubscriberID: "u4", Text: "Ana"})
		}(i)
	}
	wg.Wait()

	counts := map[router.Action]int{}
	for _, r := range results {
		counts[r.Action]++
	}
	// Serialised: resume, default, resume, default, resume.
	assert.Equal(t, 3, counts[router.ActionResume])
	assert.Equal(t, 2, counts[router.ActionDefault])

	_, err = eng.FindWaiting(ctx, "u4", "page")
	assert.ErrorIs(t, err, domain.ErrExecutionNotFound)
}

func TestChannels_Token(t *testing.T) {
	c := router.NewChannels(router.ChannelConfig{ID: "page", AccessToken: "tok"})
	tok, err := c.Token(context.Background(), "page")
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)

	_, err = c.Token(context.Background(), "nope")
	assert.ErrorIs(t, err, router.ErrUnknownChannel)
}

func TestDispatcher_SanitizesText(t *testing.T) {
	d, eng, _ := setup(t)
	ctx := context.Background()

	_, err := d.Dispatch(ctx, domain.InboundEvent{ChannelID: "page", SubscriberID: "u5", Text: "hi"})
	require.NoError(t, err)
	res, err := d.Dispatch(ctx, domain.InboundEvent{ChannelID: "page", SubscriberID: "u5", Text: "An\x1ba"})
	require.NoError(t, err)

	vars, err := eng.ListVariables(ctx, res.Execution.ID)
	require.NoError(t, err)
	require.Len(t, vars, 1)
	assert.Equal(t, "Ana", vars[0].Value)

	long := make([]byte, router.DefaultMaxInputSize+1)
	for i := range long {
		long[i] = 'a'
	}
	res, err = d.Dispatch(ctx, domain.InboundEvent{ChannelID: "page", SubscriberID: "u5", Text: string(long)})
	assert.ErrorIs(t, err, router.ErrInputTooLarge)
	assert.Equal(t, router.ActionIgnore, res.Action)
}
