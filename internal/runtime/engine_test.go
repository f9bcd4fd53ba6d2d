package runtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aretw0/tendril/internal/runtime"
	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/dsl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func greetingFlow() *domain.FlowDefinition {
	b := dsl.New("greeting")
	b.Start("start").Go("hi")
	b.Add("hi").Text("Hi {{name}}").Go("ask")
	b.Add("ask").Question("What's your name?").SaveTo("name").Go("thanks")
	b.Add("thanks").Text("Thanks {{name}}!")
	return b.MustBuild()
}

func TestEngine_GreetingScenario(t *testing.T) {
	h := newHarness(t, greetingFlow())
	ctx := context.Background()

	exec, err := h.start(t, "greeting")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaitingForInput, exec.Status)
	assert.Equal(t, []string{"Hi {{name}}", "What's your name?"}, h.gateway.texts(),
		"the greeting is sent before name is collected")

	stored, err := h.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Continuation)
	assert.Equal(t, "ask", stored.Continuation.PausedNodeID)
	assert.Equal(t, "name", stored.Continuation.Variable)
	assert.Equal(t, "thanks", stored.Continuation.NextNodeID)

	resumed, err := h.engine.Resume(ctx, runtime.ResumeRequest{ExecutionID: exec.ID, Response: "Sam", AccessToken: "token"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, resumed.Status)
	assert.Equal(t, "Thanks Sam!", h.gateway.texts()[2])

	vars, err := h.store.ListVariables(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, vars, 1)
	assert.Equal(t, "name", vars[0].Name)
	assert.Equal(t, "Sam", vars[0].Value)
	assert.Equal(t, "ask", vars[0].SourceNodeID)

	msgs, err := h.store.ListMessages(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, domain.DirectionInbound, msgs[2].Direction)
	assert.Equal(t, "Sam", msgs[2].Text)
}

func TestEngine_ChainOrder(t *testing.T) {
	b := dsl.New("chain")
	b.Start("start").Go("a")
	b.Add("a").Text("one").Branch("message", "b")
	b.Add("b").Text("two").Go("c")
	b.Add("c").Text("three")
	h := newHarness(t, b.MustBuild())

	exec, err := h.start(t, "chain")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, exec.Status)
	assert.Equal(t, []string{"one", "two", "three"}, h.gateway.texts())

	recs := h.records(t, exec.ID)
	require.Len(t, recs, 3, "start nodes produce no record")
	for i, id := range []string{"a", "b", "c"} {
		assert.Equal(t, id, recs[i].NodeID)
		assert.Equal(t, domain.RecordSuccess, recs[i].Status)
	}
	assert.Equal(t, "token", h.gateway.sent[0].Token)
	assert.Equal(t, "psid-1", h.gateway.sent[0].Recipient)
}

func TestEngine_FailFast(t *testing.T) {
	b := dsl.New("fail")
	b.Start("start").Go("a")
	b.Add("a").Text("ok").Go("b")
	b.Add("b").Text("boom").Go("c")
	b.Add("c").Text("never")
	h := newHarness(t, b.MustBuild())
	h.gateway.failOn = "boom"

	exec, err := h.start(t, "fail")
	require.Error(t, err)

	var he *domain.HandlerError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, "b", he.NodeID)
	assert.ErrorIs(t, err, errGatewayRejected)

	assert.Equal(t, domain.StatusFailed, exec.Status)
	stored, err := h.store.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.NotEmpty(t, stored.Error)

	recs := h.records(t, exec.ID)
	require.Len(t, recs, 2)
	assert.Equal(t, domain.RecordSuccess, recs[0].Status)
	assert.Equal(t, "b", recs[1].NodeID)
	assert.Equal(t, domain.RecordError, recs[1].Status)
	assert.Equal(t, []string{"ok"}, h.gateway.texts(), "earlier sends are not rolled back")
}

func TestEngine_EmptyImageIsSkipped(t *testing.T) {
	b := dsl.New("img")
	b.Start("start").Go("pic")
	b.Add("pic").Image("")
	h := newHarness(t, b.MustBuild())

	exec, err := h.start(t, "img")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, exec.Status)
	assert.Empty(t, h.gateway.sent)

	recs := h.records(t, exec.ID)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.RecordSuccess, recs[0].Status)
}

func TestEngine_MediaAttachment(t *testing.T) {
	b := dsl.New("img")
	b.Start("start").Go("pic")
	b.Add("pic").Image("https://cdn.example.com/cat.png")
	h := newHarness(t, b.MustBuild())

	_, err := h.start(t, "img")
	require.NoError(t, err)
	require.Len(t, h.gateway.sent, 1)
	msg := h.gateway.sent[0].Msg
	assert.Equal(t, domain.KindMedia, msg.Kind)
	assert.Equal(t, domain.NodeTypeImage, msg.Attachment.Type)
}

func TestEngine_ConditionBranches(t *testing.T) {
	b := dsl.New("cond")
	b.Start("start").Go("ask")
	b.Add("ask").Question("Age?").SaveTo("age").Go("check")
	b.Add("check").If("age", "greater_or_equal", "18").Branch("true", "adult").Branch("false", "minor")
	b.Add("adult").Text("welcome")
	b.Add("minor").Text("sorry")
	flow := b.MustBuild()

	for response, want := range map[string]string{"21": "welcome", "12": "sorry", "abc": "sorry"} {
		t.Run(response, func(t *testing.T) {
			h := newHarness(t, flow)
			exec, err := h.start(t, "cond")
			require.NoError(t, err)
			_, err = h.engine.Resume(context.Background(), runtime.ResumeRequest{ExecutionID: exec.ID, Response: response})
			require.NoError(t, err)
			texts := h.gateway.texts()
			assert.Equal(t, want, texts[len(texts)-1])
		})
	}
}

func TestEngine_ConditionWithoutBranchCompletes(t *testing.T) {
	b := dsl.New("cond")
	b.Start("start").Go("check")
	b.Add("check").If("missing", "equals", "x").Branch("true", "yes")
	b.Add("yes").Text("yes")
	h := newHarness(t, b.MustBuild())

	exec, err := h.start(t, "cond")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, exec.Status)
	assert.Empty(t, h.gateway.sent)
}

func TestEngine_ResumeRejectsNonWaiting(t *testing.T) {
	h := newHarness(t, greetingFlow())
	ctx := context.Background()

	exec, err := h.start(t, "greeting")
	require.NoError(t, err)
	_, err = h.engine.Resume(ctx, runtime.ResumeRequest{ExecutionID: exec.ID, Response: "Sam"})
	require.NoError(t, err)

	_, err = h.engine.Resume(ctx, runtime.ResumeRequest{ExecutionID: exec.ID, Response: "Again"})
	assert.ErrorIs(t, err, domain.ErrNotWaiting)

	_, err = h.engine.Resume(ctx, runtime.ResumeRequest{ExecutionID: "nope", Response: "x"})
	assert.ErrorIs(t, err, domain.ErrExecutionNotFound)
}

func TestEngine_ConcurrentResumeSingleWinner(t *testing.T) {
	h := newHarness(t, greetingFlow())
	ctx := context.Background()
	exec, err := h.start(t, "greeting")
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, answer := range []string{"A", "B", "C", "D"} {
		wg.Add(1)
		go func(answer string) {
			defer wg.Done()
			if _, err := h.engine.Resume(ctx, runtime.ResumeRequest{ExecutionID: exec.ID, Response: answer}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(answer)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	vars, err := h.store.ListVariables(ctx, exec.ID)
	require.NoError(t, err)
	assert.Len(t, vars, 1)
}

func TestEngine_ResumeWithoutNextCompletes(t *testing.T) {
	b := dsl.New("last")
	b.Start("start").Go("ask")
	b.Add("ask").Question("Anything else?").SaveTo("extra")
	h := newHarness(t, b.MustBuild())

	exec, err := h.start(t, "last")
	require.NoError(t, err)
	resumed, err := h.engine.Resume(context.Background(), runtime.ResumeRequest{ExecutionID: exec.ID, Response: "no"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, resumed.Status)
	assert.NotNil(t, resumed.CompletedAt)
}

func TestEngine_DefinitionErrors(t *testing.T) {
	bad := &domain.FlowDefinition{ID: "bad", Nodes: []domain.Node{{ID: "a", Type: domain.NodeTypeText}}}
	store := memory.NewStore()
	engine, err := runtime.NewEngine(memory.NewRepository(bad, greetingFlow()), store, &fakeGateway{})
	require.NoError(t, err)

	_, err = engine.Start(context.Background(), runtime.StartRequest{FlowID: "bad"})
	var defErr *domain.DefinitionError
	assert.True(t, errors.As(err, &defErr))

	_, err = engine.Start(context.Background(), runtime.StartRequest{FlowID: "greeting", StartNodeID: "ghost"})
	assert.True(t, errors.As(err, &defErr))

	_, err = engine.Start(context.Background(), runtime.StartRequest{FlowID: "unknown"})
	assert.ErrorIs(t, err, domain.ErrFlowNotFound)
}

func TestEngine_StartFromNode(t *testing.T) {
	h := newHarness(t, greetingFlow())
	exec, err := h.engine.Start(context.Background(), runtime.StartRequest{FlowID: "greeting", SubscriberID: "s", StartNodeID: "thanks"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, exec.Status)
	assert.Equal(t, []string{"Thanks {{name}}!"}, h.gateway.texts())
}

func TestEngine_SequenceCancellationFails(t *testing.T) {
	b := dsl.New("wait")
	b.Start("start").Go("pause")
	b.Add("pause").Delay(30).Go("after")
	b.Add("after").Text("done")
	h := newHarness(t, b.MustBuild(), runtime.WithSleeper(runtime.ContextSleep))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	exec, err := h.engine.Start(ctx, runtime.StartRequest{FlowID: "wait", SubscriberID: "s"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.StatusFailed, exec.Status)
	assert.Empty(t, h.gateway.sent)
}

func TestEngine_LifecycleHooks(t *testing.T) {
	var entered, left []string
	var ended []domain.ExecutionStatus
	hooks := domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) { entered = append(entered, e.NodeID) },
		OnNodeLeave: func(ctx context.Context, e *domain.NodeEvent) { left = append(left, e.NodeID) },
		OnExecutionEnded: func(ctx context.Context, e *domain.ExecutionEvent) {
			ended = append(ended, e.Status)
		},
	}
	h := newHarness(t, greetingFlow(), runtime.WithLifecycleHooks(hooks))

	_, err := h.start(t, "greeting")
	require.NoError(t, err)
	assert.Equal(t, []string{"hi", "ask"}, entered)
	assert.Equal(t, []string{"hi", "ask"}, left)
	assert.Equal(t, []domain.ExecutionStatus{domain.StatusWaitingForInput}, ended)
}

func TestNewEngine_RequiresHandlers(t *testing.T) {
	_, err := runtime.NewEngine(memory.NewRepository(), memory.NewStore(), &fakeGateway{},
		runtime.WithHandler(domain.NodeTypeAI, nil))
	assert.Error(t, err)

	_, err = runtime.NewEngine(memory.NewRepository(), memory.NewStore(), nil)
	assert.Error(t, err)
}

func TestEngine_ResumeIntoRemovedNode(t *testing.T) {
	repo := memory.NewRepository(greetingFlow())
	engine, err := runtime.NewEngine(repo, memory.NewStore(), &fakeGateway{})
	require.NoError(t, err)
	ctx := context.Background()

	exec, err := engine.Start(ctx, runtime.StartRequest{FlowID: "greeting", SubscriberID: "s"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusWaitingForInput, exec.Status)

	edited := dsl.New("greeting")
	edited.Start("start").Go("hi")
	edited.Add("hi").Text("Hi").Go("ask")
	edited.Add("ask").Question("What's your name?").SaveTo("name")
	repo.Put(edited.MustBuild())

	resumed, err := engine.Resume(ctx, runtime.ResumeRequest{ExecutionID: exec.ID, Response: "Ana"})
	var defErr *domain.DefinitionError
	require.True(t, errors.As(err, &defErr), "expected DefinitionError, got %v", err)
	assert.Equal(t, "greeting", defErr.FlowID)
	assert.Equal(t, "thanks", defErr.NodeID)
	assert.ErrorIs(t, err, domain.ErrNodeNotFound)
	assert.Equal(t, domain.StatusFailed, resumed.Status)
}
