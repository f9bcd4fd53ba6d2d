package telegram

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// HandlerFunc receives one inbound event.
type HandlerFunc func(ctx context.Context, ev domain.InboundEvent) error

// Poller long-polls getUpdates and forwards messages and callback queries.
type Poller struct {
	bot       *tgbotapi.BotAPI
	channelID string
	timeout   int
	logger    *slog.Logger
	callbacks *Callbacks
}

type PollerOption func(*Poller)

// WithPollTimeout sets the long-poll timeout in seconds.
func WithPollTimeout(seconds int) PollerOption {
	return func(p *Poller) { p.timeout = seconds }
}

func WithPollerLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

// WithPollerCallbacks resolves callback data with the codec the gateway
// encoded it with.
func WithPollerCallbacks(c *Callbacks) PollerOption {
	return func(p *Poller) { p.callbacks = c }
}

// NewPoller creates a poller whose events carry channelID.
func NewPoller(bot *tgbotapi.BotAPI, channelID string, opts ...PollerOption) *Poller {
	p := &Poller{
		bot:       bot,
		channelID: channelID,
		timeout:   30,
		logger:    logging.NewNop(),
		callbacks: NewCallbacks(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run long-polls the bot until ctx is done. See Serve.
func (p *Poller) Run(ctx context.Context, handle HandlerFunc) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = p.timeout
	updates := p.bot.GetUpdatesChan(u)
	defer p.bot.StopReceivingUpdates()
	return p.Serve(ctx, updates, handle)
}

// Serve hands every update to handle in its own goroutine until ctx is done
// or updates is closed, then waits for the running handlers. Ordering per
// subscriber is left to handle. Handler errors are logged and do not stop
// the loop.
func (p *Poller) Serve(ctx context.Context, updates tgbotapi.UpdatesChannel, handle HandlerFunc) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			ev, ok := p.Event(update)
			if !ok {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.dispatch(ctx, update, ev, handle)
			}()
		}
	}
}

func (p *Poller) dispatch(ctx context.Context, update tgbotapi.Update, ev domain.InboundEvent, handle HandlerFunc) {
	if update.CallbackQuery != nil && p.bot != nil {
		if _, err := p.bot.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "")); err != nil {
			p.logger.Warn("failed to answer callback query", "err", err)
		}
	}
	if err := handle(ctx, ev); err != nil {
		p.logger.Error("failed to handle telegram update", "update_id", update.UpdateID, "subscriber_id", ev.SubscriberID, "err", err)
	}
}

// Event converts an update into an inbound event. ok is false for updates
// that carry neither text nor a callback.
func (p *Poller) Event(update tgbotapi.Update) (domain.InboundEvent, bool) {
	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		ev := domain.InboundEvent{ChannelID: p.channelID, Payload: p.callbacks.Resolve(cb.Data)}
		if cb.Message != nil && cb.Message.Chat != nil {
			ev.SubscriberID = ChatID(cb.Message.Chat.ID)
		} else if cb.From != nil {
			ev.SubscriberID = ChatID(cb.From.ID)
		}
		return ev, ev.SubscriberID != ""
	case update.Message != nil && update.Message.Text != "" && update.Message.Chat != nil:
		return domain.InboundEvent{
			ChannelID:    p.channelID,
			SubscriberID: ChatID(update.Message.Chat.ID),
			Text:         update.Message.Text,
			MessageID:    ChatID(int64(update.Message.MessageID)),
		}, true
	}
	return domain.InboundEvent{}, false
}
