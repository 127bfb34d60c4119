// Package pipeline wires producers, the bounded queue and the single consumer
// into one run, supervised from start to join.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/order-pipeline/internal/model"
	"github.com/fairyhunter13/order-pipeline/internal/obs"
	"github.com/fairyhunter13/order-pipeline/internal/queue"
)

// OrderSource is a finite, lazily read sequence of orders. Next returns
// io.EOF once exhausted.
type OrderSource interface {
	Next() (model.Order, error)
	Close() error
}

// SourceOpener opens the order source of one producer.
type SourceOpener interface {
	Open(sourceID int) (OrderSource, error)
}

// OpenerFunc adapts a function to SourceOpener.
type OpenerFunc func(sourceID int) (OrderSource, error)

// Open calls f.
func (f OpenerFunc) Open(sourceID int) (OrderSource, error) { return f(sourceID) }

// SourceOpenError reports a producer whose source could not be opened.
type SourceOpenError struct {
	SourceID int
	Err      error
}

func (e *SourceOpenError) Error() string {
	return fmt.Sprintf("producer %d could not open its source: %v", e.SourceID, e.Err)
}

func (e *SourceOpenError) Unwrap() error { return e.Err }

// ProducerState tracks a producer through NotStarted, Running, optionally
// Failed, and Finished.
type ProducerState int32

const (
	NotStarted ProducerState = iota
	Running
	Failed
	Finished
)

func (s ProducerState) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Failed:
		return "failed"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Producer moves the orders of one source onto the queue and then signals
// its completion with an EndOfStream marker.
type Producer struct {
	id     int
	opener SourceOpener
	q      *queue.BoundedQueue[model.Item]

	state    atomic.Int32
	failed   atomic.Bool
	produced atomic.Uint64
}

// NewProducer creates the producer for sourceID.
func NewProducer(sourceID int, opener SourceOpener, q *queue.BoundedQueue[model.Item]) *Producer {
	return &Producer{id: sourceID, opener: opener, q: q}
}

// ID returns the source id.
func (p *Producer) ID() int { return p.id }

// State returns the current lifecycle state.
func (p *Producer) State() ProducerState { return ProducerState(p.state.Load()) }

// Produced returns the number of orders enqueued so far.
func (p *Producer) Produced() uint64 { return p.produced.Load() }

// Run enqueues every order of the source followed by the marker. The marker
// is enqueued on every path, including a failed open.
func (p *Producer) Run(ctx context.Context) (err error) {
	_, span := obs.Tracer().Start(ctx, "producer.run",
		trace.WithAttributes(attribute.Int("producer.source_id", p.id)))
	defer span.End()

	p.state.Store(int32(Running))
	defer func() {
		p.q.Put(model.EndOfStream{SourceID: p.id})
		p.state.Store(int32(Finished))
		span.SetAttributes(attribute.Int64("producer.orders", int64(p.produced.Load())))
		obs.Logger.Info("producer_finished", "source_id", p.id, "orders", p.produced.Load(), "failed", p.failed.Load())
	}()

	src, err := p.opener.Open(p.id)
	if err != nil {
		p.failed.Store(true)
		p.state.Store(int32(Failed))
		openErr := &SourceOpenError{SourceID: p.id, Err: err}
		obs.Logger.Error("producer_open_failed", "source_id", p.id, "error", err)
		span.RecordError(openErr)
		span.SetStatus(codes.Error, "source open failed")
		return openErr
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			obs.Logger.Warn("producer_close_failed", "source_id", p.id, "error", cerr)
		}
	}()

	obs.Logger.Debug("producer_started", "source_id", p.id)
	for {
		o, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			obs.Logger.Warn("producer_source_truncated", "source_id", p.id, "error", err)
			break
		}
		o.SourceID = p.id
		p.q.Put(o)
		p.produced.Add(1)
	}
	return nil
}
