// Package nats connects the collector host to NATS for the JetStream
// checkpoint bucket and the event sink.
package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Config holds connection settings.
type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
	Token         string
	Username      string
	Password      string

	// Bucket is the JetStream key/value bucket holding checkpoints.
	Bucket string

	// Subject receives events written by std_output.
	Subject string
}

// DefaultConfig returns settings for url.
func DefaultConfig(url string) *Config {
	return &Config{
		URL:           url,
		Name:          "courier",
		MaxReconnects: 10,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
		Bucket:        "courier_checkpoints",
		Subject:       "courier.events",
	}
}

func (c *Config) options(logger *zap.Logger) []nats.Option {
	opts := []nats.Option{
		nats.Name(c.Name),
		nats.MaxReconnects(c.MaxReconnects),
		nats.ReconnectWait(c.ReconnectWait),
		nats.Timeout(c.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Debug("NATS connection closed")
		}),
	}
	switch {
	case c.Token != "":
		opts = append(opts, nats.Token(c.Token))
	case c.Username != "" && c.Password != "":
		opts = append(opts, nats.UserInfo(c.Username, c.Password))
	}
	return opts
}

// Connect dials NATS, giving up when ctx is done.
func Connect(ctx context.Context, cfg *Config, logger *zap.Logger) (*nats.Conn, error) {
	if cfg == nil {
		return nil, errors.New("nats config is nil")
	}
	if cfg.URL == "" {
		return nil, errors.New("nats url is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	type result struct {
		conn *nats.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(cfg.URL, cfg.options(logger)...)
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, fmt.Errorf("connect to nats: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("connect to nats: %w", r.err)
		}
		return r.conn, nil
	}
}

// Close drains conn, falling back to a hard close.
func Close(conn *nats.Conn) error {
	if conn == nil {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}
