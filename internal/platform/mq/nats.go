package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close()
}

type natsPublisher struct {
	conn *nats.Conn
}

func NewPublisher(url string) (Publisher, error) {
	conn, err := nats.Connect(url, nats.Name("farmrealm-server"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &natsPublisher{conn: conn}, nil
}

func (n *natsPublisher) Publish(_ context.Context, subject string, data []byte) error {
	return n.conn.Publish(subject, data)
}

func (n *natsPublisher) Close() {
	if n.conn != nil {
		_ = n.conn.Drain()
		n.conn.Close()
	}
}

type noopPublisher struct{}

func NewNoopPublisher() Publisher {
	return noopPublisher{}
}

func (noopPublisher) Publish(context.Context, string, []byte) error { return nil }
func (noopPublisher) Close()                                        {}

// RoomSubject is the subject room lifecycle events are published on.
func RoomSubject(roomID, event string) string {
	return "rooms." + roomID + "." + event
}

// PublishJSON marshals payload and publishes it; a nil publisher is a no-op.
func PublishJSON(ctx context.Context, pub Publisher, subject string, payload any) error {
	if pub == nil {
		return nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	return pub.Publish(ctx, subject, b)
}
