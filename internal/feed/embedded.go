package feed

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/ernie/teamwatch/internal/config"
)

// StartEmbedded runs an in-process NATS server for single-host deployments.
// A port of 0 picks a random free port.
func StartEmbedded(cfg config.FeedConfig) (*server.Server, error) {
	port := cfg.EmbeddedPort
	if port == 0 {
		port = server.RANDOM_PORT
	}
	ns, err := server.NewServer(&server.Options{
		Host:   cfg.EmbeddedHost,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedded nats server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded nats server not ready")
	}
	return ns, nil
}
