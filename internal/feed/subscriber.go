// Package feed receives live team snapshots, chat and commands from NATS and exposes
// the latest snapshot of every operational tenant to the tracker.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ernie/teamwatch/internal/config"
	"github.com/ernie/teamwatch/internal/domain"
	"github.com/ernie/teamwatch/internal/observability"
)

// Subject kinds under the configured prefix
const (
	KindSnapshot = "snapshot"
	KindChat     = "chat"
	KindOffline  = "offline"
	KindCommand  = "command"
)

// Sink stores incoming chat lines and commands. *tracker.Service satisfies it.
type Sink interface {
	RecordChat(ctx context.Context, m domain.ChatMessage) (bool, error)
	RecordCommand(ctx context.Context, c domain.CommandRecord) error
}

type tenantFeed struct {
	snap     domain.Snapshot
	sentAt   *time.Time
	received time.Time
	offline  bool
}

// Subscriber keeps the latest snapshot per tenant. A tenant is operational
// while its last snapshot is younger than stale_after and no offline marker
// followed it.
type Subscriber struct {
	nc         *nats.Conn
	prefix     string
	staleAfter time.Duration
	sink       Sink
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.RWMutex
	tenants map[string]*tenantFeed
	subs    []*nats.Subscription
}

// NewSubscriber creates a subscriber on an established connection. sink may
// be nil to drop chat and command messages.
func NewSubscriber(nc *nats.Conn, cfg *config.Config, sink Sink, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		nc:         nc,
		prefix:     cfg.Feed.SubjectPrefix,
		staleAfter: cfg.Tracking.StaleAfter,
		sink:       sink,
		logger:     logger.With("component", "feed"),
		now:        func() time.Time { return time.Now().UTC() },
		tenants:    make(map[string]*tenantFeed),
	}
}

// Connect dials the NATS server with reconnects enabled
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("teamwatch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("feed disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("feed reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return nc, nil
}

// Subject returns the subject for a kind and tenant
func Subject(prefix, kind, tenantID string) string {
	return prefix + "." + kind + "." + tenantID
}

// Start subscribes to the snapshot, chat, command and offline subjects of all
// tenants
func (s *Subscriber) Start(ctx context.Context) error {
	handlers := map[string]nats.MsgHandler{
		KindSnapshot: s.handleSnapshot,
		KindChat:     func(m *nats.Msg) { s.handleChat(ctx, m) },
		KindOffline:  s.handleOffline,
		KindCommand:  func(m *nats.Msg) { s.handleCommand(ctx, m) },
	}
	kinds := []string{KindSnapshot, KindChat, KindOffline, KindCommand}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kind := range kinds {
		sub, err := s.nc.Subscribe(Subject(s.prefix, kind, "*"), handlers[kind])
		if err != nil {
			for _, existing := range s.subs {
				existing.Unsubscribe()
			}
			s.subs = nil
			return fmt.Errorf("subscribing to %s: %w", kind, err)
		}
		s.subs = append(s.subs, sub)
	}
	if err := s.nc.Flush(); err != nil {
		return fmt.Errorf("flushing subscriptions: %w", err)
	}
	s.logger.Info("feed subscribed", "prefix", s.prefix)
	return nil
}

// Stop removes all subscriptions
func (s *Subscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Debug("unsubscribe", "subject", sub.Subject, "error", err)
		}
	}
	s.subs = nil
}

// tenantFromSubject extracts the last token of <prefix>.<kind>.<tenant>
func (s *Subscriber) tenantFromSubject(subject string) string {
	i := strings.LastIndexByte(subject, '.')
	if i < 0 || i == len(subject)-1 {
		return ""
	}
	return subject[i+1:]
}

func (s *Subscriber) handleSnapshot(m *nats.Msg) {
	ctx := context.Background()
	tenantID := s.tenantFromSubject(m.Subject)
	snap, sentAt, err := decodeSnapshot(tenantID, m.Data)
	if err != nil || tenantID == "" {
		s.logger.Warn("dropping malformed snapshot", "subject", m.Subject, "error", err)
		observability.RecordFeedMessage(ctx, "malformed")
		return
	}
	now := s.now()
	snap.ReceivedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tenants[tenantID]
	if ok && sentAt != nil && cur.sentAt != nil && sentAt.Before(*cur.sentAt) {
		observability.RecordFeedMessage(ctx, "out_of_order")
		return
	}
	if !ok || cur.offline {
		s.logger.Info("tenant feed online", "tenant", tenantID, "server", snap.ServerID)
	}
	s.tenants[tenantID] = &tenantFeed{snap: snap, sentAt: sentAt, received: now}
	observability.RecordFeedMessage(ctx, KindSnapshot)
}

func (s *Subscriber) handleOffline(m *nats.Msg) {
	tenantID := s.tenantFromSubject(m.Subject)
	if tenantID == "" {
		return
	}
	s.mu.Lock()
	if cur, ok := s.tenants[tenantID]; ok {
		cur.offline = true
	}
	s.mu.Unlock()
	s.logger.Info("tenant feed offline", "tenant", tenantID)
	observability.RecordFeedMessage(context.Background(), KindOffline)
}

func (s *Subscriber) handleChat(ctx context.Context, m *nats.Msg) {
	tenantID := s.tenantFromSubject(m.Subject)
	msg, err := decodeChat(tenantID, m.Data)
	if err != nil || tenantID == "" {
		s.logger.Warn("dropping malformed chat", "subject", m.Subject, "error", err)
		observability.RecordFeedMessage(ctx, "malformed")
		return
	}
	if s.sink == nil {
		return
	}
	if _, err := s.sink.RecordChat(ctx, msg); err != nil {
		s.logger.Error("recording chat", "tenant", tenantID, "error", err)
		return
	}
	observability.RecordFeedMessage(ctx, KindChat)
}

func (s *Subscriber) handleCommand(ctx context.Context, m *nats.Msg) {
	tenantID := s.tenantFromSubject(m.Subject)
	cmd, err := decodeCommand(tenantID, m.Data)
	if err != nil || tenantID == "" {
		s.logger.Warn("dropping malformed command", "subject", m.Subject, "error", err)
		observability.RecordFeedMessage(ctx, "malformed")
		return
	}
	if s.sink == nil {
		return
	}
	if err := s.sink.RecordCommand(ctx, cmd); err != nil {
		s.logger.Error("recording command", "tenant", tenantID, "error", err)
		return
	}
	observability.RecordFeedMessage(ctx, KindCommand)
}

func (s *Subscriber) operational(f *tenantFeed, now time.Time) bool {
	return !f.offline && now.Sub(f.received) <= s.staleAfter
}

// Tenants lists operational tenants in ID order
func (s *Subscriber) Tenants() []string {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.tenants))
	for id, f := range s.tenants {
		if s.operational(f, now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Latest returns the newest snapshot of an operational tenant
func (s *Subscriber) Latest(tenantID string) (domain.Snapshot, bool) {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.tenants[tenantID]
	if !ok || !s.operational(f, now) {
		return domain.Snapshot{}, false
	}
	return f.snap, true
}
