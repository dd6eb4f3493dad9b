// Package nats mirrors the normalized event stream onto a NATS JetStream
// subject and provides the key/value buckets used by other adapters.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/hookrelay/internal/domain/hookevent"
)

const streamName = "HOOKRELAY"

// Publisher implements transport.Sink by publishing each event to
// "<subject>.<kind>". The event id doubles as the JetStream dedup id.
type Publisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
}

// Connect establishes a connection to NATS and ensures the JetStream stream
// for subject exists.
func Connect(ctx context.Context, url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("hookrelay"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subject + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName, "subject", subject)
	return &Publisher{nc: nc, js: js, subject: subject}, nil
}

// Name identifies the mirror in pool stats.
func (p *Publisher) Name() string { return "nats:" + p.subject }

// Send publishes every event in the batch. It stops at the first failure.
func (p *Publisher) Send(ctx context.Context, events []hookevent.Event) error {
	for i := range events {
		data, err := json.Marshal(&events[i])
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", events[i].ID, err)
		}
		msg := nats.NewMsg(p.SubjectFor(events[i].Kind))
		msg.Data = data
		msg.Header.Set(nats.MsgIdHdr, events[i].ID)
		if _, err := p.js.PublishMsg(ctx, msg); err != nil {
			return fmt.Errorf("nats publish %s: %w", msg.Subject, err)
		}
	}
	return nil
}

// SubjectFor returns the subject an event of kind is published on.
func (p *Publisher) SubjectFor(kind hookevent.Kind) string {
	return p.subject + "." + strings.ReplaceAll(string(kind), ".", "_")
}

// KeyValue returns the named bucket, creating it if needed.
func (p *Publisher) KeyValue(ctx context.Context, bucket string) (jetstream.KeyValue, error) {
	kv, err := p.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "hookrelay processed task-list ids",
	})
	if err != nil {
		return nil, fmt.Errorf("nats kv %s: %w", bucket, err)
	}
	return kv, nil
}

// JetStream exposes the underlying JetStream context.
func (p *Publisher) JetStream() jetstream.JetStream { return p.js }

// IsConnected reports whether the NATS connection is up.
func (p *Publisher) IsConnected() bool { return p.nc.IsConnected() }

// Close drains the NATS connection.
func (p *Publisher) Close() error {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}
