// Package feed connects the engine to sources of L2 order book snapshots.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/costsim/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next message or pong.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	defaultReconnectDelay    = 2 * time.Second
	defaultMaxReconnectDelay = 60 * time.Second
)

// DefaultURL is the public OKX BTC-USDT-SWAP L2 stream.
const DefaultURL = "wss://ws.gomarket-cpp.goquant.io/ws/l2-orderbook/okx/BTC-USDT-SWAP"

// SnapshotHandler receives every decoded snapshot. It must not block for
// long; the engine mailbox satisfies this.
type SnapshotHandler func(domain.RawSnapshot)

// ResyncHandler is called before every reconnect, after the previous
// connection is gone. lastSeq is the last sequence handed to the
// SnapshotHandler; every later snapshot has a greater one.
type ResyncHandler func(lastSeq uint64)

// L2Config configures an L2Feed.
type L2Config struct {
	URL               string
	Instrument        string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	HandshakeTimeout  time.Duration
}

// L2Feed streams full-book L2 messages over a websocket and reconnects with
// exponential backoff on disconnect.
type L2Feed struct {
	cfg      L2Config
	onSnap   SnapshotHandler
	onResync ResyncHandler
	logger   *slog.Logger

	seq        atomic.Uint64
	decodeErrs atomic.Uint64
	connected  atomic.Bool

	closeOnce sync.Once
	done      chan struct{}
}

// NewL2Feed creates a feed. onResync may be nil.
func NewL2Feed(cfg L2Config, onSnap SnapshotHandler, onResync ResyncHandler, logger *slog.Logger) *L2Feed {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = defaultMaxReconnectDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	return &L2Feed{
		cfg:      cfg,
		onSnap:   onSnap,
		onResync: onResync,
		logger:   logger.With(slog.String("component", "l2_feed"), slog.String("url", cfg.URL)),
		done:     make(chan struct{}),
	}
}

// Run connects and streams until ctx is cancelled or Close is called.
func (f *L2Feed) Run(ctx context.Context) error {
	delay := f.cfg.ReconnectDelay
	first := true

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		if !first && f.onResync != nil {
			f.onResync(f.seq.Load())
		}
		first = false

		received, err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-f.done:
			return nil
		default:
		}
		if received > 0 {
			delay = f.cfg.ReconnectDelay
		}
		f.logger.Warn("l2 feed disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Int("messages", received),
			slog.Duration("backoff", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > f.cfg.MaxReconnectDelay {
			delay = f.cfg.MaxReconnectDelay
		}
	}
}

// Connected reports whether a connection is currently open.
func (f *L2Feed) Connected() bool {
	return f.connected.Load()
}

// DecodeErrors returns how many messages could not be decoded.
func (f *L2Feed) DecodeErrors() uint64 {
	return f.decodeErrs.Load()
}

// Close stops the feed.
func (f *L2Feed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// runConnection dials once and reads until the connection fails. It returns
// the number of messages handled.
func (f *L2Feed) runConnection(ctx context.Context) (int, error) {
	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("feed: connect: %w", err)
	}
	f.connected.Store(true)
	f.logger.Info("l2 feed connected")

	connDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.pingLoop(conn, connDone)
	}()
	defer func() {
		f.connected.Store(false)
		close(connDone)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
		wg.Wait()
	}()

	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	go func() {
		select {
		case <-f.done:
			conn.Close()
		case <-connDone:
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	received := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return received, fmt.Errorf("feed: read: %w: %w", domain.ErrWSDisconnect, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		received++
		f.handleMessage(data)
	}
}

func (f *L2Feed) handleMessage(data []byte) {
	msg, err := DecodeMessage(data)
	if err != nil {
		f.decodeErrs.Add(1)
		f.logger.Debug("l2 message dropped",
			slog.String("error", err.Error()),
			slog.Int("payload_len", len(data)),
		)
		return
	}
	if f.onSnap == nil {
		return
	}
	f.onSnap(msg.ToRawSnapshot(f.cfg.Instrument, f.seq.Add(1), time.Now()))
}

func (f *L2Feed) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
