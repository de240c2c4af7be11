package feed

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ernie/teamwatch/internal/domain"
)

// Publisher writes feed messages in the wire format the Subscriber reads
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// NewPublisher creates a publisher for a subject prefix
func NewPublisher(nc *nats.Conn, prefix string) *Publisher {
	return &Publisher{nc: nc, prefix: prefix}
}

// PublishSnapshot sends a team snapshot stamped with at
func (p *Publisher) PublishSnapshot(snap domain.Snapshot, at time.Time) error {
	data, err := encodeSnapshot(snap, at)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return p.nc.Publish(Subject(p.prefix, KindSnapshot, snap.TenantID), data)
}

// PublishChat sends one chat line
func (p *Publisher) PublishChat(m domain.ChatMessage) error {
	data, err := encodeChat(m)
	if err != nil {
		return fmt.Errorf("encoding chat: %w", err)
	}
	return p.nc.Publish(Subject(p.prefix, KindChat, m.TenantID), data)
}

// PublishCommand sends one issued command
func (p *Publisher) PublishCommand(c domain.CommandRecord) error {
	data, err := encodeCommand(c)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}
	return p.nc.Publish(Subject(p.prefix, KindCommand, c.TenantID), data)
}

// PublishOffline marks a tenant's feed as down
func (p *Publisher) PublishOffline(tenantID string) error {
	return p.nc.Publish(Subject(p.prefix, KindOffline, tenantID), nil)
}

// Flush waits until the server has processed everything published so far
func (p *Publisher) Flush() error {
	return p.nc.Flush()
}
