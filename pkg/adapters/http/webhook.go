package http

import (
	"io"
	"net/http"

	"github.com/aretw0/tendril/pkg/adapters/messenger"
)

const maxWebhookBody = 1 << 20

// VerifyMessengerWebhook answers the hub.challenge handshake Messenger
// performs when the webhook is subscribed.
func (s *Server) VerifyMessengerWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || s.verifyToken == "" || q.Get("hub.verify_token") != s.verifyToken {
		s.logger.Warn("messenger webhook verification rejected", "mode", q.Get("hub.mode"))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, q.Get("hub.challenge"))
}

// ReceiveMessengerWebhook dispatches every messaging event of a delivery.
// Dispatch failures are logged and still acknowledged with 200, otherwise
// Messenger keeps redelivering the batch.
func (s *Server) ReceiveMessengerWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if s.appSecret != "" && !messenger.VerifySignature(s.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		s.logger.Warn("messenger webhook signature mismatch")
		s.writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	events, err := messenger.ParseWebhook(body)
	if err != nil {
		s.logger.Warn("messenger webhook rejected", "err", err)
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	for _, ev := range events {
		res, err := s.Dispatcher.Dispatch(r.Context(), ev)
		if err != nil {
			s.logger.Error("messenger event dispatch failed",
				"channel_id", ev.ChannelID,
				"subscriber_id", ev.SubscriberID,
				"err", err,
			)
			continue
		}
		s.logger.Debug("messenger event dispatched",
			"channel_id", ev.ChannelID,
			"subscriber_id", ev.SubscriberID,
			"action", res.Action,
		)
	}
	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, "EVENT_RECEIVED")
}
