package telegram_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/adapters/telegram"
	"github.com/aretw0/tendril/pkg/domain"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	method string
	form   map[string]string
}

// fakeBotAPI answers Bot API methods the way api.telegram.org does.
type fakeBotAPI struct {
	mu     sync.Mutex
	calls  []call
	nextID int
}

func (f *fakeBotAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]

		form := make(map[string]string)
		for k := range r.Form {
			form[k] = r.Form.Get(k)
		}

		f.mu.Lock()
		f.calls = append(f.calls, call{method: method, form: form})
		f.nextID++
		id := f.nextID
		f.mu.Unlock()

		var result string
		switch method {
		case "getMe":
			result = `{"id":1,"is_bot":true,"first_name":"tendril","username":"tendril_bot"}`
		default:
			result = fmt.Sprintf(`{"message_id":%d,"date":0,"chat":{"id":%s,"type":"private"}}`, id, form["chat_id"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"ok":true,"result":%s}`, result)
	})
}

func (f *fakeBotAPI) sent() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.method != "getMe" {
			out = append(out, c)
		}
	}
	return out
}

func newGateway(t *testing.T) (*telegram.Gateway, *fakeBotAPI) {
	t.Helper()
	fake := &fakeBotAPI{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	return telegram.NewGateway(telegram.WithAPIEndpoint(srv.URL+"/bot%s/%s")), fake
}

func TestGateway_SendTextWithQuickReplies(t *testing.T) {
	g, fake := newGateway(t)

	id, err := g.Send(context.Background(), "123:abc", "42", domain.NewTextMessage("Color?",
		domain.QuickReply{Title: "Red", Payload: "tendril:f:red"},
		domain.QuickReply{Title: "Blue", Payload: "tendril:f:blue"}))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	calls := fake.sent()
	require.Len(t, calls, 1)
	assert.Equal(t, "sendMessage", calls[0].method)
	assert.Equal(t, "42", calls[0].form["chat_id"])
	assert.Equal(t, "Color?", calls[0].form["text"])

	var markup tgbotapi.InlineKeyboardMarkup
	require.NoError(t, json.Unmarshal([]byte(calls[0].form["reply_markup"]), &markup))
	require.Len(t, markup.InlineKeyboard, 2)
	require.NotNil(t, markup.InlineKeyboard[1][0].CallbackData)
	assert.Equal(t, "tendril:f:blue", *markup.InlineKeyboard[1][0].CallbackData)
}

func TestGateway_SendButtonsMixesURLAndPostback(t *testing.T) {
	g, fake := newGateway(t)

	_, err := g.Send(context.Background(), "123:abc", "42", domain.NewButtonMessage("Pick",
		domain.Button{Type: domain.ButtonPostback, Title: "Go", Payload: "tendril:f:go"},
		domain.Button{Type: domain.ButtonURL, Title: "Docs", URL: "https://example.com"}))
	require.NoError(t, err)

	var markup tgbotapi.InlineKeyboardMarkup
	require.NoError(t, json.Unmarshal([]byte(fake.sent()[0].form["reply_markup"]), &markup))
	require.NotNil(t, markup.InlineKeyboard[1][0].URL)
	assert.Equal(t, "https://example.com", *markup.InlineKeyboard[1][0].URL)
}

func TestGateway_SendMedia(t *testing.T) {
	g, fake := newGateway(t)

	_, err := g.Send(context.Background(), "123:abc", "42",
		domain.NewMediaMessage(domain.NodeTypeVideo, "https://cdn/v.mp4", "clip"))
	require.NoError(t, err)

	calls := fake.sent()
	require.Len(t, calls, 1)
	assert.Equal(t, "sendVideo", calls[0].method)
	assert.Equal(t, "https://cdn/v.mp4", calls[0].form["video"])
	assert.Equal(t, "clip", calls[0].form["caption"])
}

func TestGateway_SendGenericOnePerElement(t *testing.T) {
	g, fake := newGateway(t)

	_, err := g.Send(context.Background(), "123:abc", "42", domain.NewGenericMessage(
		domain.Element{Title: "Mug", ImageURL: "https://img/mug.png"},
		domain.Element{Title: "Tee", Subtitle: "USD 10.00"}))
	require.NoError(t, err)

	calls := fake.sent()
	require.Len(t, calls, 2)
	assert.Equal(t, "sendPhoto", calls[0].method)
	assert.Equal(t, "sendMessage", calls[1].method)
	assert.Equal(t, "Tee\nUSD 10.00", calls[1].form["text"])
}

func TestGateway_BotIsCachedPerToken(t *testing.T) {
	g, fake := newGateway(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := g.Send(ctx, "123:abc", "42", domain.NewTextMessage("hi"))
		require.NoError(t, err)
	}

	getMe := 0
	for _, c := range fake.calls {
		if c.method == "getMe" {
			getMe++
		}
	}
	assert.Equal(t, 1, getMe)
}

func TestGateway_InvalidChatID(t *testing.T) {
	g, _ := newGateway(t)
	_, err := g.Send(context.Background(), "123:abc", "not-a-number", domain.NewTextMessage("hi"))
	assert.Error(t, err)
}

func TestPoller_Event(t *testing.T) {
	p := telegram.NewPoller(nil, "tg")

	ev, ok := p.Event(tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 7, Text: "Ana", Chat: &tgbotapi.Chat{ID: 42},
	}})
	require.True(t, ok)
	assert.Equal(t, domain.InboundEvent{ChannelID: "tg", SubscriberID: "42", Text: "Ana", MessageID: "7"}, ev)

	ev, ok = p.Event(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID: "cb", Data: "tendril:f:n", Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 42}},
	}})
	require.True(t, ok)
	assert.Equal(t, "tendril:f:n", ev.Payload)
	assert.Equal(t, "42", ev.SubscriberID)

	_, ok = p.Event(tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 42}}})
	assert.False(t, ok, "messages without text are ignored")
}

func TestGateway_LongPayloadsFitCallbackData(t *testing.T) {
	g, fake := newGateway(t)
	long := domain.ChoicePayload{
		FlowID: "7f1c2d9e-3b4a-4c5d-8e6f-0a1b2c3d4e5f",
		NodeID: "9a8b7c6d-5e4f-4a3b-9c2d-1e0f2a3b4c5d",
	}.String()
	require.Greater(t, len(long), telegram.MaxCallbackData)

	_, err := g.Send(context.Background(), "123:abc", "42", domain.NewButtonMessage("Pick",
		domain.Button{Type: domain.ButtonPostback, Title: "Go", Payload: long},
		domain.Button{Type: domain.ButtonPostback, Title: "Short", Payload: "tendril:f:n"}))
	require.NoError(t, err)

	calls := fake.sent()
	require.Len(t, calls, 1)
	var markup tgbotapi.InlineKeyboardMarkup
	require.NoError(t, json.Unmarshal([]byte(calls[0].form["reply_markup"]), &markup))
	data := *markup.InlineKeyboard[0][0].CallbackData
	assert.LessOrEqual(t, len(data), telegram.MaxCallbackData)
	assert.NotEqual(t, long, data)
	assert.Equal(t, "tendril:f:n", *markup.InlineKeyboard[1][0].CallbackData, "short payloads are sent verbatim")

	p := telegram.NewPoller(nil, "tg", telegram.WithPollerCallbacks(g.Callbacks()))
	ev, ok := p.Event(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID: "cb", Data: data, Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 42}},
	}})
	require.True(t, ok)
	assert.Equal(t, long, ev.Payload)
}

func TestCallbacks_UnknownDigestIsReturnedAsIs(t *testing.T) {
	c := telegram.NewCallbacks()
	assert.Equal(t, "tg:unknown", c.Resolve("tg:unknown"))
	assert.Equal(t, "tendril:f:n", c.Resolve("tendril:f:n"))

	encoded := c.Encode("tg:looks-like-a-digest")
	assert.NotEqual(t, "tg:looks-like-a-digest", encoded)
	assert.Equal(t, "tg:looks-like-a-digest", c.Resolve(encoded))
}

func TestPoller_ServesSubscribersConcurrently(t *testing.T) {
	p := telegram.NewPoller(nil, "tg")
	updates := make(chan tgbotapi.Update, 2)
	updates <- tgbotapi.Update{UpdateID: 1, Message: &tgbotapi.Message{Text: "slow", Chat: &tgbotapi.Chat{ID: 1}}}
	updates <- tgbotapi.Update{UpdateID: 2, Message: &tgbotapi.Message{Text: "fast", Chat: &tgbotapi.Chat{ID: 2}}}

	fastDone := make(chan struct{})
	var mu sync.Mutex
	var handled []string
	handle := func(ctx context.Context, ev domain.InboundEvent) error {
		if ev.SubscriberID == "1" {
			select {
			case <-fastDone:
			case <-time.After(5 * time.Second):
				return fmt.Errorf("subscriber 2 was blocked behind subscriber 1")
			}
		} else {
			defer close(fastDone)
		}
		mu.Lock()
		handled = append(handled, ev.SubscriberID)
		mu.Unlock()
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- p.Serve(context.Background(), updates, handle) }()

	select {
	case <-fastDone:
	case <-time.After(5 * time.Second):
		t.Fatal("second subscriber did not progress while the first was busy")
	}
	close(updates)
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"2", "1"}, handled, "Serve waits for running handlers before returning")
}
