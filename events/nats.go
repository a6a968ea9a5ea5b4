package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher is the subset of *nats.Conn used by NATSSink.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes events as JSON on a core NATS subject.
type NATSSink struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
}

// NewNATSSink connects to url. The connection reconnects forever.
func NewNATSSink(url, subject, name string) (*NATSSink, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if name == "" {
		name = "betpilot-events"
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	s := NewNATSSinkWithPublisher(nc, subject)
	s.conn = nc
	return s, nil
}

// NewNATSSinkWithPublisher wraps an existing publisher.
func NewNATSSinkWithPublisher(pub Publisher, subject string) *NATSSink {
	if subject == "" {
		subject = "betpilot.events"
	}
	return &NATSSink{pub: pub, subject: subject}
}

// Publish sends evt on "<subject>.<type>".
func (s *NATSSink) Publish(_ context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return s.pub.Publish(s.subject+"."+evt.Type, data)
}

// Close drains the connection when the sink owns it.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
