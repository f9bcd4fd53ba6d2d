// Package messenger implements ports.MessagingGateway on top of the
// Messenger Send API and parses Messenger webhook deliveries.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
)

const DefaultBaseURL = "https://graph.facebook.com/v19.0"

// Gateway sends OutboundMessages through the Send API.
type Gateway struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

type Option func(*Gateway)

// WithBaseURL overrides the Graph API base URL.
func WithBaseURL(u string) Option {
	return func(g *Gateway) { g.baseURL = u }
}

// WithHTTPClient sets the client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

func NewGateway(opts ...Option) *Gateway {
	g := &Gateway{
		baseURL: DefaultBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type recipient struct {
	ID string `json:"id"`
}

type sendRequest struct {
	Recipient     recipient `json:"recipient"`
	MessagingType string    `json:"messaging_type"`
	Message       message   `json:"message"`
}

type message struct {
	Text         string       `json:"text,omitempty"`
	QuickReplies []quickReply `json:"quick_replies,omitempty"`
	Attachment   *attachment  `json:"attachment,omitempty"`
}

type quickReply struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
	Payload     string `json:"payload"`
}

type attachment struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type templatePayload struct {
	TemplateType string           `json:"template_type"`
	Text         string           `json:"text,omitempty"`
	Buttons      []domain.Button  `json:"buttons,omitempty"`
	Elements     []domain.Element `json:"elements,omitempty"`
}

type mediaPayload struct {
	URL        string `json:"url"`
	IsReusable bool   `json:"is_reusable"`
}

type sendResponse struct {
	RecipientID string    `json:"recipient_id"`
	MessageID   string    `json:"message_id"`
	Error       *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// APIError is returned when the Send API rejects a request.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("messenger: send failed (status %d, code %d): %s", e.StatusCode, e.Code, e.Message)
}

// Send delivers msg. Media captions are sent as a follow-up text message,
// since attachments cannot carry text.
func (g *Gateway) Send(ctx context.Context, accessToken, recipientID string, msg domain.OutboundMessage) (string, error) {
	body, err := toMessage(msg)
	if err != nil {
		return "", err
	}
	id, err := g.post(ctx, accessToken, recipientID, body)
	if err != nil {
		return "", err
	}
	if msg.Kind == domain.KindMedia && msg.Attachment != nil && msg.Attachment.Caption != "" {
		if _, err := g.post(ctx, accessToken, recipientID, message{Text: msg.Attachment.Caption}); err != nil {
			return id, fmt.Errorf("messenger: caption: %w", err)
		}
	}
	return id, nil
}

func toMessage(msg domain.OutboundMessage) (message, error) {
	switch msg.Kind {
	case domain.KindText:
		out := message{Text: msg.Text}
		for _, qr := range msg.QuickReplies {
			out.QuickReplies = append(out.QuickReplies, quickReply{ContentType: "text", Title: qr.Title, Payload: qr.Payload})
		}
		return out, nil
	case domain.KindButtons:
		return message{Attachment: &attachment{
			Type:    "template",
			Payload: templatePayload{TemplateType: "button", Text: msg.Text, Buttons: msg.Buttons},
		}}, nil
	case domain.KindGeneric:
		return message{Attachment: &attachment{
			Type:    "template",
			Payload: templatePayload{TemplateType: "generic", Elements: msg.Elements},
		}}, nil
	case domain.KindMedia:
		if msg.Attachment == nil {
			return message{}, fmt.Errorf("messenger: media message without attachment")
		}
		return message{Attachment: &attachment{
			Type:    string(msg.Attachment.Type),
			Payload: mediaPayload{URL: msg.Attachment.URL, IsReusable: true},
		}}, nil
	}
	return message{}, fmt.Errorf("messenger: unsupported message kind %q", msg.Kind)
}

func (g *Gateway) post(ctx context.Context, token, recipientID string, m message) (string, error) {
	payload, err := json.Marshal(sendRequest{
		Recipient:     recipient{ID: recipientID},
		MessagingType: "RESPONSE",
		Message:       m,
	})
	if err != nil {
		return "", err
	}

	endpoint := g.baseURL + "/me/messages?access_token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("messenger: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("messenger: read response: %w", err)
	}
	var out sendResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode >= 300 || out.Error != nil {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(raw)}
		if out.Error != nil {
			apiErr.Code = out.Error.Code
			apiErr.Message = out.Error.Message
		}
		g.logger.Warn("messenger send rejected", "recipient", recipientID, "status", resp.StatusCode, "err", apiErr)
		return "", apiErr
	}
	return out.MessageID, nil
}
