package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iago/technoshare-commentator/internal/domain"
	"github.com/iago/technoshare-commentator/internal/logger"
	"github.com/iago/technoshare-commentator/internal/queue"
	"github.com/iago/technoshare-commentator/internal/retrieval"
	"github.com/iago/technoshare-commentator/internal/slack"
)

var ErrMalformedEvent = errors.New("malformed event payload")

type IngestOutcome string

const (
	OutcomeChallenge IngestOutcome = "challenge"
	OutcomeIgnored   IngestOutcome = "ignored"
	OutcomeDuplicate IngestOutcome = "duplicate"
	OutcomeAccepted  IngestOutcome = "accepted"
)

type IngestResult struct {
	Outcome   IngestOutcome
	Challenge string
}

// MessageSaver is the one store operation the gateway performs.
type MessageSaver interface {
	SaveMessage(ctx context.Context, message domain.Message) (bool, error)
}

type IngestDependencies struct {
	Messages  MessageSaver
	Verifier  *slack.Verifier
	Notifier  queue.Notifier
	ChannelID string
	MaxLinks  int
	Logger    *logger.Logger
}

// IngestService authenticates inbound events and records new messages. It
// never fetches or analyzes anything; workers do that.
type IngestService struct {
	messages  MessageSaver
	verifier  *slack.Verifier
	notifier  queue.Notifier
	channelID string
	maxLinks  int
	logger    *logger.Logger
	now       func() time.Time
}

func NewIngestService(deps IngestDependencies) *IngestService {
	if deps.MaxLinks <= 0 {
		deps.MaxLinks = retrieval.DefaultMaxLinks
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	return &IngestService{
		messages:  deps.Messages,
		verifier:  deps.Verifier,
		notifier:  deps.Notifier,
		channelID: deps.ChannelID,
		maxLinks:  deps.MaxLinks,
		logger:    deps.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// HandleEvent verifies the signature, answers the handshake and stores
// messages that carry at least one URL. Redelivered events are a silent no-op.
func (s *IngestService) HandleEvent(ctx context.Context, timestamp, signature string, body []byte) (IngestResult, error) {
	if err := s.verifier.Verify(timestamp, signature, body); err != nil {
		return IngestResult{}, err
	}

	envelope, err := slack.ParseEnvelope(body)
	if err != nil {
		return IngestResult{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch envelope.Type {
	case slack.EnvelopeURLVerification:
		return IngestResult{Outcome: OutcomeChallenge, Challenge: envelope.Challenge}, nil
	case slack.EnvelopeEventCallback:
	default:
		return IngestResult{Outcome: OutcomeIgnored}, nil
	}

	message, ok := slack.MessageFromEvent(envelope.Event, s.channelID, s.now())
	if !ok {
		return IngestResult{Outcome: OutcomeIgnored}, nil
	}
	if len(retrieval.ExtractURLs(message.Text, s.maxLinks)) == 0 {
		return IngestResult{Outcome: OutcomeIgnored}, nil
	}

	created, err := s.messages.SaveMessage(ctx, message)
	if err != nil {
		return IngestResult{}, fmt.Errorf("save message: %w", err)
	}
	if !created {
		s.logger.Debug("duplicate event ignored", "channel_id", message.ChannelID, "message_ts", message.TS)
		return IngestResult{Outcome: OutcomeDuplicate}, nil
	}

	s.logger.Info("message queued", "channel_id", message.ChannelID, "message_ts", message.TS, "event_id", envelope.EventID)
	if s.notifier != nil {
		s.notifier.Notify(ctx)
	}
	return IngestResult{Outcome: OutcomeAccepted}, nil
}
