package messenger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
)

type webhookBody struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string `json:"id"`
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Message *struct {
				MID        string `json:"mid"`
				Text       string `json:"text"`
				IsEcho     bool   `json:"is_echo"`
				QuickReply *struct {
					Payload string `json:"payload"`
				} `json:"quick_reply"`
			} `json:"message"`
			Postback *struct {
				MID     string `json:"mid"`
				Title   string `json:"title"`
				Payload string `json:"payload"`
			} `json:"postback"`
		} `json:"messaging"`
	} `json:"entry"`
}

// ParseWebhook extracts inbound events from a webhook delivery. Echoes of
// our own messages and deliveries with neither text nor payload are
// dropped. The page id of each entry becomes the event's ChannelID.
func ParseWebhook(body []byte) ([]domain.InboundEvent, error) {
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, fmt.Errorf("messenger: invalid webhook body: %w", err)
	}
	if wb.Object != "page" {
		return nil, fmt.Errorf("messenger: unexpected object %q", wb.Object)
	}

	var events []domain.InboundEvent
	for _, entry := range wb.Entry {
		for _, m := range entry.Messaging {
			ev := domain.InboundEvent{ChannelID: entry.ID, SubscriberID: m.Sender.ID}
			switch {
			case m.Postback != nil:
				ev.Text = m.Postback.Title
				ev.Payload = m.Postback.Payload
				ev.MessageID = m.Postback.MID
			case m.Message != nil && !m.Message.IsEcho:
				ev.Text = m.Message.Text
				ev.MessageID = m.Message.MID
				if m.Message.QuickReply != nil {
					ev.Payload = m.Message.QuickReply.Payload
				}
			default:
				continue
			}
			if ev.Text == "" && ev.Payload == "" {
				continue
			}
			events = append(events, ev)
		}
	}
	return events, nil
}

// VerifySignature checks the X-Hub-Signature-256 header against body.
func VerifySignature(appSecret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
