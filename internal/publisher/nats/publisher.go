// Package natspublisher publishes avatar events to a NATS JetStream stream.
package natspublisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Config describes the NATS connection and the stream capturing the events.
type Config struct {
	URL     string
	Stream  string
	Subject string
}

type streamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher publishes JSON payloads with JetStream acknowledgements.
type Publisher struct {
	js   streamPublisher
	conn *nats.Conn
}

// New wraps an existing JetStream handle.
func New(js streamPublisher) *Publisher {
	return &Publisher{js: js}
}

// Connect dials NATS and makes sure the event stream captures cfg.Subject.
func Connect(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats.url is required")
	}
	conn, err := nats.Connect(cfg.URL, nats.Name("avatar-ingest"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream: %w", err)
	}
	if cfg.Stream != "" && cfg.Subject != "" {
		if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{cfg.Subject},
		}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
		}
	}
	return &Publisher{js: js, conn: conn}, nil
}

// Publish marshals the payload and returns "<stream>:<sequence>" from the ack.
func (p *Publisher) Publish(ctx context.Context, subject string, payload any) (string, error) {
	if p.js == nil {
		return "", fmt.Errorf("nats publisher is not configured")
	}
	if subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	ack, err := p.js.Publish(ctx, subject, data)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", subject, err)
	}
	return ack.Stream + ":" + strconv.FormatUint(ack.Sequence, 10), nil
}

// Close drains the connection when the publisher owns it.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
