package nats

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/hookrelay/internal/domain/hookevent"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T, subject string) *Publisher {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	p, err := Connect(context.Background(), url, subject)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := p.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return p
}

func TestSubjectFor(t *testing.T) {
	p := &Publisher{subject: "hookrelay.events"}
	if got := p.SubjectFor(hookevent.KindPreToolUse); got != "hookrelay.events.pre_tool_use" {
		t.Fatalf("unexpected subject %q", got)
	}
	if got := p.Name(); got != "nats:hookrelay.events" {
		t.Fatalf("unexpected name %q", got)
	}
}

func TestPublisher_SendIsConsumable(t *testing.T) {
	p := testConnect(t, "hookrelay.events")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ev := hookevent.Event{
		ID:            "nats-test-" + time.Now().Format("150405.000000000"),
		SchemaVersion: hookevent.SchemaVersion,
		Kind:          hookevent.KindStop,
		SessionID:     "s-nats",
		Timestamp:     time.Now().UTC(),
		Payload:       &hookevent.StopPayload{Reason: "done"},
	}
	if err := p.Send(ctx, []hookevent.Event{ev}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	cons, err := p.JetStream().OrderedConsumer(ctx, streamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{p.SubjectFor(hookevent.KindStop)},
		DeliverPolicy:  jetstream.DeliverLastPerSubjectPolicy,
	})
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	msg, err := cons.Next(jetstream.FetchMaxWait(5 * time.Second))
	if err != nil {
		t.Fatalf("next: %v", err)
	}

	var got hookevent.Event
	if err := json.Unmarshal(msg.Data(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != ev.ID || got.SessionID != "s-nats" {
		t.Fatalf("unexpected event %+v", got)
	}
}
