// Package events publishes domain events for other processes (search
// indexing, mail digests) to consume. Delivery is best effort.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectRelationshipToggled = "relationship.toggled"
	SubjectMemorialCreated     = "memorial.created"
	SubjectPostDeleted         = "post.deleted"
)

type RelationshipToggled struct {
	Kind     string    `json:"kind"`
	ActorID  uint      `json:"actor_id"`
	TargetID uint      `json:"target_id"`
	Applied  bool      `json:"applied"`
	Count    int64     `json:"count"`
	At       time.Time `json:"at"`
}

type MemorialCreated struct {
	ID        uint      `json:"id"`
	Slug      string    `json:"slug"`
	CreatorID uint      `json:"creator_id"`
	At        time.Time `json:"at"`
}

type PostDeleted struct {
	ID     uint      `json:"id"`
	UserID uint      `json:"user_id"`
	At     time.Time `json:"at"`
}

// Publisher sends an event on a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, event any) error
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }

// NatsPublisher publishes JSON-encoded events to "<prefix>.<subject>".
type NatsPublisher struct {
	nc     *nats.Conn
	prefix string
	log    *slog.Logger
}

// Connect dials url and returns a publisher. An empty url yields Nop.
func Connect(url, prefix string, log *slog.Logger) (Publisher, func(), error) {
	if url == "" {
		return Nop{}, func() {}, nil
	}
	nc, err := nats.Connect(url,
		nats.Name("memoria"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}
	return NewNatsPublisher(nc, prefix, log), func() { nc.Drain() }, nil
}

func NewNatsPublisher(nc *nats.Conn, prefix string, log *slog.Logger) *NatsPublisher {
	return &NatsPublisher{nc: nc, prefix: prefix, log: log}
}

func (p *NatsPublisher) Publish(ctx context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &nats.Msg{
		Subject: Subject(p.prefix, subject),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("Content-Type", "application/json")

	p.log.Debug("publishing event", "subject", msg.Subject)
	return p.nc.PublishMsg(msg)
}

// Subject joins prefix and subject.
func Subject(prefix, subject string) string {
	if prefix == "" {
		return subject
	}
	return prefix + "." + subject
}
