package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// BookChannel is the pub/sub channel carrying raw L2 messages for an
// instrument when another process owns the venue connection.
func BookChannel(instrument string) string {
	return "ch:book:" + instrument
}

// ErrSubscriptionClosed is returned by BusFeeder.Run when the bus closes the
// subscription while the feeder is still running.
var ErrSubscriptionClosed = errors.New("feed: bus subscription closed")

// BusFeeder reads L2 messages relayed over the signal bus and hands them to
// the engine, for deployments where the websocket lives elsewhere.
type BusFeeder struct {
	bus        domain.SignalBus
	instrument string
	onSnap     SnapshotHandler
	logger     *slog.Logger
	seq        atomic.Uint64
}

// NewBusFeeder creates a BusFeeder for instrument.
func NewBusFeeder(bus domain.SignalBus, instrument string, onSnap SnapshotHandler, logger *slog.Logger) *BusFeeder {
	return &BusFeeder{
		bus:        bus,
		instrument: instrument,
		onSnap:     onSnap,
		logger:     logger.With(slog.String("component", "bus_feeder")),
	}
}

// Run subscribes to the instrument's book channel and forwards every message
// until ctx is done. A subscription closed by the bus is an error so the
// caller's errgroup shuts down instead of leaving the engine starved.
func (f *BusFeeder) Run(ctx context.Context) error {
	channel := BookChannel(f.instrument)
	ch, err := f.bus.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("feed: subscribe %s: %w", channel, err)
	}
	f.logger.Info("bus feeder started", slog.String("channel", channel))
	defer f.logger.Info("bus feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%w: %s", ErrSubscriptionClosed, channel)
			}
			msg, err := DecodeMessage(data)
			if err != nil {
				f.logger.Debug("bus feeder handle message failed",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
				continue
			}
			f.onSnap(msg.ToRawSnapshot(f.instrument, f.seq.Add(1), time.Now()))
		}
	}
}
