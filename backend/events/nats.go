package events

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"

	"github.com/quantwell/optioncore/backend/logging"
)

// NATSPublisher publishes event payloads as JSON onto NATS subjects.
// cmd/server does not construct one; it wires MemoryPublisher.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to url and returns a ready Publisher.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("optioncore"))
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: conn}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(subject, data); err != nil {
		logging.Error("events: nats publish failed", err, logging.String("subject", subject))
		return err
	}
	return nil
}

// Close drains and closes the underlying connection.
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		p.conn.Drain()
	}
}
