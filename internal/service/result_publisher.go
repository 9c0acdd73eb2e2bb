package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// FailureChannel carries every TickFailure across instruments.
const FailureChannel = "ch:sim:failures"

// ResultChannel is the pub/sub channel for instrument's results.
func ResultChannel(instrument string) string { return "ch:sim:" + instrument }

// ResultStream is the durable stream for instrument's results.
func ResultStream(instrument string) string { return "stream:sim:" + instrument }

// SinkErrorCounter counts failed publications per sink.
type SinkErrorCounter interface {
	SinkFailed(sink string)
}

// ResultPublisher fans each tick outcome out to Redis pub/sub, the Redis
// result stream, the latest-book cache and the batched Postgres writer.
// Every destination is optional.
type ResultPublisher struct {
	bus    domain.SignalBus
	books  domain.OrderbookCache
	writer *BatchWriter
	errs   SinkErrorCounter
	logger *slog.Logger
}

// PublisherOption configures a ResultPublisher.
type PublisherOption func(*ResultPublisher)

// WithBus publishes results and failures on the signal bus.
func WithBus(bus domain.SignalBus) PublisherOption {
	return func(p *ResultPublisher) { p.bus = bus }
}

// WithBookCache stores the book behind every result.
func WithBookCache(c domain.OrderbookCache) PublisherOption {
	return func(p *ResultPublisher) { p.books = c }
}

// WithBatchWriter queues results and training samples for Postgres.
func WithBatchWriter(w *BatchWriter) PublisherOption {
	return func(p *ResultPublisher) { p.writer = w }
}

// WithSinkErrors counts failed publications.
func WithSinkErrors(c SinkErrorCounter) PublisherOption {
	return func(p *ResultPublisher) { p.errs = c }
}

// NewResultPublisher creates a ResultPublisher.
func NewResultPublisher(logger *slog.Logger, opts ...PublisherOption) *ResultPublisher {
	p := &ResultPublisher{logger: logger.With(slog.String("component", "result_publisher"))}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishResult sends res to every configured sink. All sinks are attempted;
// the returned error joins the individual failures.
func (p *ResultPublisher) PublishResult(ctx context.Context, res domain.SimulationResult, book domain.OrderbookSnapshot) error {
	var errs []error

	if p.bus != nil {
		payload, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("result_publisher: marshal result %s: %w", res.ID, err)
		}
		if err := p.bus.Publish(ctx, ResultChannel(res.Instrument), payload); err != nil {
			errs = append(errs, p.failed("pubsub", err))
		}
		if err := p.bus.StreamAppend(ctx, ResultStream(res.Instrument), payload); err != nil {
			errs = append(errs, p.failed("stream", err))
		}
	}

	if p.books != nil {
		if err := p.books.SetSnapshot(ctx, res.Instrument, book); err != nil {
			errs = append(errs, p.failed("book_cache", err))
		}
	}

	if p.writer != nil {
		p.writer.Add(res)
	}

	return errors.Join(errs...)
}

// PublishFailure announces a failed tick on FailureChannel.
func (p *ResultPublisher) PublishFailure(ctx context.Context, f domain.TickFailure) error {
	if p.bus == nil {
		return nil
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("result_publisher: marshal failure: %w", err)
	}
	if err := p.bus.Publish(ctx, FailureChannel, payload); err != nil {
		return p.failed("pubsub", err)
	}
	return nil
}

func (p *ResultPublisher) failed(sink string, err error) error {
	if p.errs != nil {
		p.errs.SinkFailed(sink)
	}
	return fmt.Errorf("result_publisher: %s: %w", sink, err)
}
