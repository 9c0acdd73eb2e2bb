package feed

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/costsim/internal/domain"
)

type chanBus struct {
	subscribed string
	ch         chan []byte
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.subscribed = channel
	return b.ch, nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestBusFeederForwardsSnapshots(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 4)}
	var got []domain.RawSnapshot
	f := NewBusFeeder(bus, "BTC-USDT-SWAP", func(s domain.RawSnapshot) {
		got = append(got, s)
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	bus.ch <- []byte(`{"asks":[["100","1"]],"bids":[["99","2"]]}`)
	bus.ch <- []byte(`garbage`)
	bus.ch <- []byte(`{"asks":[["101","1"]],"bids":[]}`)
	close(bus.ch)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.ErrorIs(t, f.Run(ctx), ErrSubscriptionClosed)

	assert.Equal(t, "ch:book:BTC-USDT-SWAP", bus.subscribed)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Sequence)
	assert.Equal(t, uint64(2), got[1].Sequence)
	assert.Equal(t, "101", got[1].Asks[0].Price)
}

func TestBusFeederRunExit(t *testing.T) {
	tests := []struct {
		name    string
		cancel  bool
		closeCh bool
		wantErr error
	}{
		{"subscription closed", false, true, ErrSubscriptionClosed},
		{"context cancelled", true, false, context.Canceled},
		{"cancelled then closed", true, true, context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := &chanBus{ch: make(chan []byte)}
			f := NewBusFeeder(bus, "BTC-USDT-SWAP", func(domain.RawSnapshot) {},
				slog.New(slog.NewTextHandler(io.Discard, nil)))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.cancel {
				cancel()
			}
			if tt.closeCh {
				close(bus.ch)
			}
			assert.ErrorIs(t, f.Run(ctx), tt.wantErr)
		})
	}
}
