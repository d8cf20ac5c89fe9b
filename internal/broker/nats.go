// Package broker relays hub events onto NATS so other station tools can
// follow the pileup without holding a WebSocket.
package broker

import (
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// NATSConfig configures the relay connection.
type NATSConfig struct {
	URL           string
	Name          string
	SubjectPrefix string
}

// NATSBroker forwards broadcast events to NATS, one subject per event type.
// It satisfies hub.Relay.
type NATSBroker struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSBroker connects to the NATS server.
func NewNATSBroker(cfg NATSConfig, logger *slog.Logger) (*NATSBroker, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "pileup.events"
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSBroker{nc: nc, prefix: cfg.SubjectPrefix, logger: logger}, nil
}

// Relay publishes one event envelope. Publish errors are logged and dropped.
func (b *NATSBroker) Relay(eventType string, envelope []byte) {
	subject := b.prefix + "." + eventType
	if err := b.nc.Publish(subject, envelope); err != nil {
		b.logger.Warn("NATS publish failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
	}
}

// Close closes the connection, flushing pending publishes.
func (b *NATSBroker) Close() {
	b.nc.Close()
}
