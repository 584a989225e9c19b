package slack

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/iago/technoshare-commentator/internal/domain"
)

const (
	EnvelopeURLVerification = "url_verification"
	EnvelopeEventCallback   = "event_callback"
)

var ignoredSubtypes = map[string]struct{}{
	"bot_message":     {},
	"message_changed": {},
	"message_deleted": {},
}

// Envelope is the outer body of an Events API request.
type Envelope struct {
	Type      string       `json:"type"`
	Challenge string       `json:"challenge,omitempty"`
	TeamID    string       `json:"team_id,omitempty"`
	EventID   string       `json:"event_id,omitempty"`
	Event     MessageEvent `json:"event"`
}

type MessageEvent struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype,omitempty"`
	Channel  string `json:"channel"`
	User     string `json:"user,omitempty"`
	BotID    string `json:"bot_id,omitempty"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

func ParseEnvelope(body []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("decode event envelope: %w", err)
	}
	return envelope, nil
}

// MessageFromEvent applies the channel allow-list and the bot, edit and
// empty-text filters. ok is false when the event should be acknowledged and dropped.
func MessageFromEvent(event MessageEvent, channelID string, receivedAt time.Time) (domain.Message, bool) {
	if event.Type != "" && event.Type != "message" {
		return domain.Message{}, false
	}
	if channelID == "" || event.Channel != channelID {
		return domain.Message{}, false
	}
	if _, skip := ignoredSubtypes[event.Subtype]; skip {
		return domain.Message{}, false
	}
	if event.BotID != "" {
		return domain.Message{}, false
	}
	if strings.TrimSpace(event.Text) == "" || event.TS == "" {
		return domain.Message{}, false
	}

	return domain.Message{
		ChannelID:  event.Channel,
		TS:         event.TS,
		ThreadTS:   event.ThreadTS,
		UserID:     event.User,
		Text:       event.Text,
		ReceivedAt: receivedAt.UTC(),
		Status:     domain.MessageStatusReceived,
	}, true
}
