package service

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iago/technoshare-commentator/internal/domain"
	"github.com/iago/technoshare-commentator/internal/repository"
	"github.com/iago/technoshare-commentator/internal/slack"
)

const testSecret = "8f742231b10e8888abcd99yyyzzz85a5"

type countingNotifier struct {
	calls int32
}

func (n *countingNotifier) Notify(context.Context) {
	atomic.AddInt32(&n.calls, 1)
}

type failingSaver struct{}

func (failingSaver) SaveMessage(context.Context, domain.Message) (bool, error) {
	return false, errors.New("database is locked")
}

func newIngest(t *testing.T) (*IngestService, *repository.SQLiteJobsRepository, *countingNotifier) {
	t.Helper()
	repo, err := repository.OpenSQLiteJobsRepository(context.Background(), filepath.Join(t.TempDir(), "ingest.sqlite"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	notifier := &countingNotifier{}
	svc := NewIngestService(IngestDependencies{
		Messages:  repo,
		Verifier:  slack.NewVerifier(testSecret, 300*time.Second),
		Notifier:  notifier,
		ChannelID: "C1",
		MaxLinks:  3,
	})
	return svc, repo, notifier
}

func signed(body string) (string, string, []byte) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	return ts, slack.Sign([]byte(testSecret), ts, []byte(body)), []byte(body)
}

func messageEvent(channel, ts, text string) string {
	return `{"type":"event_callback","event_id":"Ev1","event":{"type":"message","channel":"` + channel +
		`","user":"U1","ts":"` + ts + `","text":"` + text + `"}}`
}

func TestHandleEventStoresMessageWithURL(t *testing.T) {
	svc, repo, notifier := newIngest(t)
	ts, sig, body := signed(messageEvent("C1", "1700000000.000100", "see https://example.com/x"))

	result, err := svc.HandleEvent(context.Background(), ts, sig, body)
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if result.Outcome != OutcomeAccepted {
		t.Fatalf("expected accepted, got %s", result.Outcome)
	}
	counts, _ := repo.CountByStatus(context.Background())
	if counts[domain.JobStatusPending] != 1 {
		t.Fatalf("expected one pending job, got %v", counts)
	}
	if atomic.LoadInt32(&notifier.calls) != 1 {
		t.Fatalf("expected one notification, got %d", notifier.calls)
	}
}

func TestHandleEventRedeliveryIsNoop(t *testing.T) {
	svc, repo, notifier := newIngest(t)
	ts, sig, body := signed(messageEvent("C1", "1700000000.000100", "see https://example.com/x"))

	for i := 0; i < 3; i++ {
		if _, err := svc.HandleEvent(context.Background(), ts, sig, body); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	counts, _ := repo.CountByStatus(context.Background())
	if counts[domain.JobStatusPending] != 1 {
		t.Fatalf("expected exactly one job, got %v", counts)
	}
	if atomic.LoadInt32(&notifier.calls) != 1 {
		t.Fatalf("expected duplicates not to notify, got %d", notifier.calls)
	}
}

func TestHandleEventIgnoresFilteredEvents(t *testing.T) {
	cases := map[string]string{
		"other channel": messageEvent("C2", "1.1", "https://example.com"),
		"no url":        messageEvent("C1", "1.2", "just chatting"),
		"bot":           `{"type":"event_callback","event":{"type":"message","subtype":"bot_message","channel":"C1","ts":"1.3","text":"https://example.com"}}`,
		"edit":          `{"type":"event_callback","event":{"type":"message","subtype":"message_changed","channel":"C1","ts":"1.4","text":"https://example.com"}}`,
		"other type":    `{"type":"app_rate_limited"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			svc, repo, _ := newIngest(t)
			ts, sig, body := signed(payload)
			result, err := svc.HandleEvent(context.Background(), ts, sig, body)
			if err != nil {
				t.Fatalf("handle event: %v", err)
			}
			if result.Outcome != OutcomeIgnored {
				t.Fatalf("expected ignored, got %s", result.Outcome)
			}
			counts, _ := repo.CountByStatus(context.Background())
			if counts[domain.JobStatusPending] != 0 {
				t.Fatalf("expected no job, got %v", counts)
			}
		})
	}
}

func TestHandleEventAnswersChallenge(t *testing.T) {
	svc, _, _ := newIngest(t)
	ts, sig, body := signed(`{"type":"url_verification","challenge":"abc123"}`)
	result, err := svc.HandleEvent(context.Background(), ts, sig, body)
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if result.Outcome != OutcomeChallenge || result.Challenge != "abc123" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestHandleEventRejectsBadSignatureBeforeStore(t *testing.T) {
	svc := NewIngestService(IngestDependencies{
		Messages:  failingSaver{},
		Verifier:  slack.NewVerifier(testSecret, 300*time.Second),
		ChannelID: "C1",
	})
	ts, _, body := signed(messageEvent("C1", "1.1", "https://example.com"))
	_, err := svc.HandleEvent(context.Background(), ts, "v0=deadbeef", body)
	if !errors.Is(err, slack.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestHandleEventMalformedBody(t *testing.T) {
	svc, _, _ := newIngest(t)
	ts, sig, body := signed(`{not json`)
	if _, err := svc.HandleEvent(context.Background(), ts, sig, body); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent, got %v", err)
	}
}

func TestHandleEventSurfacesStoreErrors(t *testing.T) {
	svc := NewIngestService(IngestDependencies{
		Messages:  failingSaver{},
		Verifier:  slack.NewVerifier(testSecret, 300*time.Second),
		ChannelID: "C1",
	})
	ts, sig, body := signed(messageEvent("C1", "1.1", "https://example.com"))
	_, err := svc.HandleEvent(context.Background(), ts, sig, body)
	if err == nil || errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected store error, got %v", err)
	}
}
