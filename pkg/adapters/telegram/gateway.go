// Package telegram delivers OutboundMessages through the Telegram Bot API
// and turns bot updates into inbound events for the router.
//
// The access token handed to Send is the bot token. Postback buttons and
// quick replies both become inline keyboard buttons whose callback data is
// the choice payload, shortened through Callbacks when it exceeds the
// 64-byte Bot API limit.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Gateway implements ports.MessagingGateway. One BotAPI client is kept per
// bot token.
type Gateway struct {
	endpoint  string
	client    *http.Client
	logger    *slog.Logger
	callbacks *Callbacks

	mu   sync.Mutex
	bots map[string]*tgbotapi.BotAPI
}

type Option func(*Gateway)

// WithAPIEndpoint overrides the Bot API endpoint format
// (default tgbotapi.APIEndpoint, "https://api.telegram.org/bot%s/%s").
func WithAPIEndpoint(endpoint string) Option {
	return func(g *Gateway) { g.endpoint = endpoint }
}

func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithCallbacks shares a callback codec, typically with a Poller.
func WithCallbacks(c *Callbacks) Option {
	return func(g *Gateway) { g.callbacks = c }
}

func NewGateway(opts ...Option) *Gateway {
	g := &Gateway{
		endpoint:  tgbotapi.APIEndpoint,
		client:    &http.Client{},
		logger:    logging.NewNop(),
		callbacks: NewCallbacks(),
		bots:      make(map[string]*tgbotapi.BotAPI),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Callbacks returns the codec used for callback data.
func (g *Gateway) Callbacks() *Callbacks {
	return g.callbacks
}

// Bot returns the client for token, creating it on first use.
func (g *Gateway) Bot(token string) (*tgbotapi.BotAPI, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if bot, ok := g.bots[token]; ok {
		return bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, g.endpoint, g.client)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot client: %w", err)
	}
	g.bots[token] = bot
	return bot, nil
}

// Send delivers msg to the chat identified by recipientID. Generic
// templates are sent as one message per element; the id of the first is
// returned.
func (g *Gateway) Send(ctx context.Context, accessToken, recipientID string, msg domain.OutboundMessage) (string, error) {
	chatID, err := strconv.ParseInt(recipientID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid chat_id: %w", err)
	}
	bot, err := g.Bot(accessToken)
	if err != nil {
		return "", err
	}

	chattables, err := g.toChattables(chatID, msg)
	if err != nil {
		return "", err
	}

	var first string
	for i, c := range chattables {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		sent, err := bot.Send(c)
		if err != nil {
			return first, fmt.Errorf("failed to send message: %w", err)
		}
		if i == 0 {
			first = strconv.Itoa(sent.MessageID)
		}
	}
	return first, nil
}

func (g *Gateway) toChattables(chatID int64, msg domain.OutboundMessage) ([]tgbotapi.Chattable, error) {
	switch msg.Kind {
	case domain.KindText:
		m := tgbotapi.NewMessage(chatID, msg.Text)
		if len(msg.QuickReplies) > 0 {
			var rows [][]tgbotapi.InlineKeyboardButton
			for _, qr := range msg.QuickReplies {
				rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(qr.Title, g.callbacks.Encode(qr.Payload))))
			}
			m.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
		}
		return []tgbotapi.Chattable{m}, nil

	case domain.KindButtons:
		m := tgbotapi.NewMessage(chatID, msg.Text)
		if kb, ok := g.keyboard(msg.Buttons); ok {
			m.ReplyMarkup = kb
		}
		return []tgbotapi.Chattable{m}, nil

	case domain.KindGeneric:
		out := make([]tgbotapi.Chattable, 0, len(msg.Elements))
		for _, el := range msg.Elements {
			caption := el.Title
			if el.Subtitle != "" {
				caption += "\n" + el.Subtitle
			}
			kb, hasKB := g.keyboard(el.Buttons)
			if el.ImageURL != "" {
				p := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(el.ImageURL))
				p.Caption = caption
				if hasKB {
					p.ReplyMarkup = kb
				}
				out = append(out, p)
				continue
			}
			m := tgbotapi.NewMessage(chatID, caption)
			if hasKB {
				m.ReplyMarkup = kb
			}
			out = append(out, m)
		}
		return out, nil

	case domain.KindMedia:
		a := msg.Attachment
		if a == nil {
			return nil, fmt.Errorf("telegram: media message without attachment")
		}
		file := tgbotapi.FileURL(a.URL)
		switch a.Type {
		case domain.NodeTypeImage:
			p := tgbotapi.NewPhoto(chatID, file)
			p.Caption = a.Caption
			return []tgbotapi.Chattable{p}, nil
		case domain.NodeTypeVideo:
			v := tgbotapi.NewVideo(chatID, file)
			v.Caption = a.Caption
			return []tgbotapi.Chattable{v}, nil
		case domain.NodeTypeAudio:
			au := tgbotapi.NewAudio(chatID, file)
			au.Caption = a.Caption
			return []tgbotapi.Chattable{au}, nil
		default:
			d := tgbotapi.NewDocument(chatID, file)
			d.Caption = a.Caption
			return []tgbotapi.Chattable{d}, nil
		}
	}
	return nil, fmt.Errorf("telegram: unsupported message kind %q", msg.Kind)
}

func (g *Gateway) keyboard(buttons []domain.Button) (tgbotapi.InlineKeyboardMarkup, bool) {
	if len(buttons) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, b := range buttons {
		var btn tgbotapi.InlineKeyboardButton
		if b.Type == domain.ButtonURL {
			btn = tgbotapi.NewInlineKeyboardButtonURL(b.Title, b.URL)
		} else {
			btn = tgbotapi.NewInlineKeyboardButtonData(b.Title, g.callbacks.Encode(b.Payload))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(btn))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}

// ChatID formats a Telegram chat id as a subscriber id.
func ChatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
