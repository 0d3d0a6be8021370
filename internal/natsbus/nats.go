// Package natsbus connects the service to a NATS server for inbound requests
// and outbound messages.
package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// HandlerTimeout bounds a single subscription callback.
const HandlerTimeout = 30 * time.Second

// Client wraps a NATS connection.
type Client struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// Connect dials url and keeps reconnecting forever once connected.
func Connect(url, name string, logger *zap.Logger) (*Client, error) {
	if url == "" {
		return nil, errors.New("nats url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("nats")
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Client{nc: nc, logger: logger}, nil
}

// Close drains subscriptions and pending publishes.
func (c *Client) Close() {
	if c != nil && c.nc != nil {
		_ = c.nc.Drain()
	}
}

// Publish marshals payload to JSON and publishes it on subject. NATS has no
// message ids, so the subject is returned.
func (c *Client) Publish(ctx context.Context, subject string, payload any) (string, error) {
	if c == nil || c.nc == nil {
		return "", errors.New("nats client is not connected")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	if err := c.nc.Publish(subject, b); err != nil {
		return "", fmt.Errorf("publish %s: %w", subject, err)
	}
	return subject, nil
}

// Subscribe registers handler for subject. Each callback gets its own bounded
// context.
func (c *Client) Subscribe(subject string, handler func(ctx context.Context, data []byte)) (*nats.Subscription, error) {
	if c == nil || c.nc == nil {
		return nil, errors.New("nats client is not connected")
	}
	sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), HandlerTimeout)
		defer cancel()
		handler(ctx, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}
