package http

import (
	"bufio"
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/dsl"
	"github.com/aretw0/tendril/pkg/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingGateway struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (g *recordingGateway) Send(ctx context.Context, token, recipient string, msg domain.OutboundMessage) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.sent = append(g.sent, recipient+": "+msg.Summary())
	return "mid", nil
}

func (g *recordingGateway) messages() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.sent...)
}

type fixture struct {
	handler http.Handler
	streams *StreamManager
	gateway *recordingGateway
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	b := dsl.New("greet")
	b.Start("start").Go("ask")
	b.Add("ask").Question("Your name?").SaveTo("name").Go("bye")
	b.Add("bye").Text("Bye {{name}}")

	gw := &recordingGateway{}
	streams := NewStreamManager()
	channels := router.NewChannels(router.ChannelConfig{ID: "page-1", AccessToken: "tok", DefaultFlowID: "greet"})
	eng, err := tendril.New(
		tendril.WithFlows(memory.NewRepository(b.MustBuild())),
		tendril.WithStore(memory.NewStore()),
		tendril.WithGateway(gw),
		tendril.WithTokenSource(channels),
		tendril.WithLifecycleHooks(streams.Hooks()),
	)
	require.NoError(t, err)

	opts = append([]Option{
		WithStreams(streams),
		WithDispatcher(router.NewDispatcher(eng, channels)),
	}, opts...)
	return &fixture{handler: NewHandler(eng, opts...), streams: streams, gateway: gw}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out), w.Body.String())
	return out
}

func TestExecutionLifecycle(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/flows/greet/executions", startRequest{SubscriberID: "u1", ChannelID: "page-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	exec := decode[domain.ExecutionInstance](t, w)
	assert.Equal(t, domain.StatusWaitingForInput, exec.Status)

	w = f.do(t, http.MethodPost, "/v1/executions/"+exec.ID+"/resume", resumeRequest{Text: "Ana"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.StatusCompleted, decode[domain.ExecutionInstance](t, w).Status)

	w = f.do(t, http.MethodGet, "/v1/executions/"+exec.ID+"/variables", nil)
	require.Equal(t, http.StatusOK, w.Code)
	vars := decode[[]domain.CollectedVariable](t, w)
	require.Len(t, vars, 1)
	assert.Equal(t, "Ana", vars[0].Value)

	w = f.do(t, http.MethodGet, "/v1/executions/"+exec.ID+"/records", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[[]domain.NodeExecutionRecord](t, w))

	w = f.do(t, http.MethodGet, "/v1/executions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{exec.ID}, decode[map[string][]string](t, w)["executions"])

	assert.Equal(t, []string{"u1: Your name?", "u1: Bye Ana"}, f.gateway.messages())
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/flows/missing/executions", startRequest{SubscriberID: "u1"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/v1/flows/greet/executions", startRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/v1/executions/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/v1/executions/nope/messages", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/v1/flows/greet/executions", startRequest{SubscriberID: "u1", ChannelID: "page-1"})
	exec := decode[domain.ExecutionInstance](t, w)
	f.do(t, http.MethodPost, "/v1/executions/"+exec.ID+"/resume", resumeRequest{Text: "Ana"})

	w = f.do(t, http.MethodPost, "/v1/executions/"+exec.ID+"/resume", resumeRequest{Text: "again"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/v1/executions/"+exec.ID+"/resume", resumeRequest{Text: strings.Repeat("a", router.DefaultMaxInputSize+1)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartExecution_FailedRunReturnsExecution(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = errors.New("channel down")

	w := f.do(t, http.MethodPost, "/v1/flows/greet/executions", startRequest{SubscriberID: "u1", ChannelID: "page-1"})
	require.Equal(t, http.StatusInternalServerError, w.Code)

	resp := decode[errorResponse](t, w)
	assert.Contains(t, resp.Error, "channel down")
	require.NotNil(t, resp.Execution)
	assert.Equal(t, domain.StatusFailed, resp.Execution.Status)
}

func TestValidateFlow(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/flows/greet/validate", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/v1/flows/missing/validate", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDispatchEvent(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/events", domain.InboundEvent{ChannelID: "page-1", SubscriberID: "u9", Text: "hi"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[router.Result](t, w)
	assert.Equal(t, router.ActionDefault, res.Action)

	w = f.do(t, http.MethodPost, "/v1/events", domain.InboundEvent{ChannelID: "page-1", SubscriberID: "u9", Text: "Bo"})
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[router.Result](t, w)
	assert.Equal(t, router.ActionResume, res.Action)
	assert.Equal(t, domain.StatusCompleted, res.Execution.Status)

	w = f.do(t, http.MethodPost, "/v1/events", domain.InboundEvent{ChannelID: "other", SubscriberID: "u9"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestMessengerWebhook(t *testing.T) {
	f := newFixture(t, WithMessengerVerifyToken("verify-me"), WithMessengerAppSecret("secret"))

	req := httptest.NewRequest(http.MethodGet, "/v1/webhooks/messenger?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42", nil)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "42", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/v1/webhooks/messenger?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=42", nil)
	w = httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	body := []byte(`{"object":"page","entry":[{"id":"page-1","messaging":[{"sender":{"id":"u7"},"message":{"mid":"m1","text":"hello"}}]}]}`)

	req = httptest.NewRequest(http.MethodPost, "/v1/webhooks/messenger", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("wrong", body))
	w = httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, f.gateway.messages())

	req = httptest.NewRequest(http.MethodPost, "/v1/webhooks/messenger", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("secret", body))
	w = httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"u7: Your name?"}, f.gateway.messages())
}

func TestHealthAndInfo(t *testing.T) {
	f := newFixture(t, WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	})))

	w := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])

	w = f.do(t, http.MethodGet, "/info", nil)
	assert.Equal(t, tendril.Version, decode[map[string]string](t, w)["version"])

	w = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, "# metrics", w.Body.String())

	w = f.do(t, http.MethodOptions, "/v1/executions", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSubscribeEvents_StreamsUntilTerminal(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	w := f.do(t, http.MethodPost, "/v1/flows/greet/executions", startRequest{SubscriberID: "u1", ChannelID: "page-1"})
	exec := decode[domain.ExecutionInstance](t, w)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/executions/"+exec.ID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return f.streams.Subscribers(exec.ID) == 1 }, time.Second, 10*time.Millisecond)

	w = f.do(t, http.MethodPost, "/v1/executions/"+exec.ID+"/resume", resumeRequest{Text: "Ana"})
	require.Equal(t, http.StatusOK, w.Code)

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			events = append(events, name)
		}
	}

	require.NotEmpty(t, events)
	assert.Equal(t, "ping", events[0])
	assert.Contains(t, events, string(domain.EventMessageSent))
	assert.Equal(t, string(domain.EventExecutionEnded), events[len(events)-1])
	require.Eventually(t, func() bool { return f.streams.Subscribers(exec.ID) == 0 }, time.Second, 10*time.Millisecond)
}

func TestStreamManager_DropsWhenBufferFull(t *testing.T) {
	sm := NewStreamManager(WithStreamBuffer(1))
	ch, cancel := sm.Subscribe("e1")

	sm.Broadcast("e1", StreamEvent{Type: domain.EventNodeEnter})
	sm.Broadcast("e1", StreamEvent{Type: domain.EventNodeLeave})

	ev := <-ch
	assert.Equal(t, domain.EventNodeEnter, ev.Type)
	select {
	case ev := <-ch:
		t.Fatalf("expected dropped event, got %v", ev.Type)
	default:
	}

	cancel()
	cancel()
	assert.Equal(t, 0, sm.Subscribers("e1"))
}
