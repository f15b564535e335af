package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"statement-relay/pkg/config"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrUpstreamUnavailable = errors.New("analysis service unavailable")
	ErrUpstreamTimeout     = errors.New("analysis request timed out")
)

// UpstreamConn is one connection to the analysis service.
// *websocket.Conn implements it.
type UpstreamConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

type UpstreamDialer interface {
	Dial(ctx context.Context) (UpstreamConn, error)
}

// WebSocketDialer opens upstream connections with bounded retries.
type WebSocketDialer struct {
	url      string
	dialer   *websocket.Dialer
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
}

func NewWebSocketDialer(cfg *config.AnalysisConfig, logger *zap.Logger) *WebSocketDialer {
	return &WebSocketDialer{
		url: cfg.URL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
		attempts: cfg.DialAttempts,
		backoff:  cfg.DialBackoff,
		logger:   logger,
	}
}

func (d *WebSocketDialer) Dial(ctx context.Context) (UpstreamConn, error) {
	var conn *websocket.Conn
	err := retry(ctx, d.attempts, d.backoff, d.logger, "dial_analysis", func(attempt int) error {
		c, resp, err := d.dialer.DialContext(ctx, d.url, nil)
		if err != nil {
			if resp != nil {
				resp.Body.Close()
				// The service answered and refused the upgrade; retrying will not help.
				if resp.StatusCode >= 400 && resp.StatusCode < 500 {
					return permanent(fmt.Errorf("handshake rejected with status %d: %w", resp.StatusCode, err))
				}
			}
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	d.logger.Debug("Connected to analysis service", zap.String("url", d.url))
	return conn, nil
}
