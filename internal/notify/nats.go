// Package notify fans live raid events out over NATS.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/ernie/raidkeeper/internal/domain"
)

const serverReadyTimeout = 5 * time.Second

// Publisher publishes events as JSON on a NATS subject. Event types are
// appended to the subject, e.g. raidkeeper.events.kill.
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

// Connect dials a NATS server
func Connect(url, subject string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(url,
		nats.Name("raidkeeper"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	logger.Info("Publishing events to NATS", zap.String("url", url), zap.String("subject", subject))
	return &Publisher{conn: conn, subject: subject, logger: logger}, nil
}

// Subject returns the subject an event type is published on
func (p *Publisher) Subject(eventType string) string {
	return p.subject + "." + eventType
}

// Publish sends one event
func (p *Publisher) Publish(event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event.Type, err)
	}
	if err := p.conn.Publish(p.Subject(event.Type), data); err != nil {
		return fmt.Errorf("publishing %s event: %w", event.Type, err)
	}
	return nil
}

// Close drains pending messages and closes the connection
func (p *Publisher) Close() error {
	return p.conn.Drain()
}

// EmbeddedServer is an in-process NATS server for overlays on the officer's machine
type EmbeddedServer struct {
	srv *server.Server
}

// StartServer runs a NATS server on host:port; port -1 picks a free port
func StartServer(host string, port int) (*EmbeddedServer, error) {
	srv, err := server.NewServer(&server.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating nats server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(serverReadyTimeout) {
		srv.Shutdown()
		return nil, fmt.Errorf("nats server on %s:%d not ready after %s", host, port, serverReadyTimeout)
	}
	return &EmbeddedServer{srv: srv}, nil
}

// URL returns the client URL of the server
func (e *EmbeddedServer) URL() string {
	return e.srv.ClientURL()
}

// Shutdown stops the server
func (e *EmbeddedServer) Shutdown() {
	e.srv.Shutdown()
	e.srv.WaitForShutdown()
}
