// Package feed ingests the exchange L2 market-data stream and keeps the
// per-symbol order books current. It also provides a synthetic generator for
// running the full pipeline without exchange connectivity.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfold/tradecost/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// UpdateHandler consumes one parsed book update. Returning an error wrapping
// domain.ErrStaleSequence forces a reconnect so the stream restarts from a
// fresh snapshot.
type UpdateHandler func(ctx context.Context, update domain.BookUpdate) error

// wireMessage is the exchange's L2 stream format: levels arrive as
// [price, size] pairs, size 0 deleting the level in deltas.
type wireMessage struct {
	Type     string       `json:"type"` // "snapshot" or "delta"
	Symbol   string       `json:"symbol"`
	Sequence uint64       `json:"seq"`
	Bids     [][2]float64 `json:"bids"`
	Asks     [][2]float64 `json:"asks"`
	TsMillis int64        `json:"ts"`
}

// subscribeCommand is sent once per connection to select symbols.
type subscribeCommand struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// WSClient maintains the L2 stream subscription for a set of symbols and
// dispatches each message to the handler. It reconnects with exponential
// backoff; every reconnect re-subscribes, which yields a fresh snapshot and
// a new sequence baseline.
type WSClient struct {
	url      string
	symbols  []string
	onUpdate UpdateHandler
	logger   *slog.Logger

	backoff    time.Duration
	maxBackoff time.Duration
}

// NewWSClient creates a client for the given stream endpoint and symbols.
func NewWSClient(url string, symbols []string, backoff, maxBackoff time.Duration, onUpdate UpdateHandler, logger *slog.Logger) *WSClient {
	return &WSClient{
		url:        url,
		symbols:    symbols,
		onUpdate:   onUpdate,
		logger:     logger.With(slog.String("component", "ws_feed")),
		backoff:    backoff,
		maxBackoff: maxBackoff,
	}
}

// Run connects and consumes the stream until ctx is canceled, reconnecting
// on any error.
func (c *WSClient) Run(ctx context.Context) error {
	delay := c.backoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.maxBackoff {
			delay = c.maxBackoff
		}
	}
}

// runConnection dials, subscribes, and reads until the connection breaks or
// the handler demands a resync.
func (c *WSClient) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	cmd := subscribeCommand{Op: "subscribe", Args: c.symbols}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	c.logger.Info("stream subscribed", slog.Int("symbols", len(c.symbols)))

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		update, err := parseWireMessage(data)
		if err != nil {
			c.logger.Debug("dropping unparseable message",
				slog.String("error", err.Error()),
				slog.Int("payload_len", len(data)),
			)
			continue
		}
		if err := c.onUpdate(ctx, update); err != nil {
			if errors.Is(err, domain.ErrStaleSequence) {
				return fmt.Errorf("feed: sequence gap, resyncing: %w", err)
			}
			c.logger.Warn("update rejected",
				slog.String("symbol", update.Symbol),
				slog.Uint64("seq", update.Sequence),
				slog.String("error", err.Error()),
			)
		}
	}
}

// parseWireMessage converts one stream payload into a domain update.
func parseWireMessage(data []byte) (domain.BookUpdate, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.BookUpdate{}, fmt.Errorf("feed: decode: %w", err)
	}

	var kind domain.BookUpdateKind
	switch msg.Type {
	case "snapshot":
		kind = domain.BookUpdateSnapshot
	case "delta":
		kind = domain.BookUpdateDelta
	default:
		return domain.BookUpdate{}, fmt.Errorf("feed: %w: message type %q", domain.ErrInvalidBookUpdate, msg.Type)
	}
	if msg.Symbol == "" {
		return domain.BookUpdate{}, fmt.Errorf("feed: %w: missing symbol", domain.ErrInvalidBookUpdate)
	}

	observedAt := time.Now()
	if msg.TsMillis > 0 {
		observedAt = time.UnixMilli(msg.TsMillis)
	}
	return domain.BookUpdate{
		Kind:       kind,
		Symbol:     msg.Symbol,
		Sequence:   msg.Sequence,
		Bids:       toLevels(msg.Bids),
		Asks:       toLevels(msg.Asks),
		ObservedAt: observedAt,
	}, nil
}

func toLevels(pairs [][2]float64) []domain.PriceLevel {
	if len(pairs) == 0 {
		return nil
	}
	out := make([]domain.PriceLevel, len(pairs))
	for i, p := range pairs {
		out[i] = domain.PriceLevel{Price: p[0], Size: p[1]}
	}
	return out
}
