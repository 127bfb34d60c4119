package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/order-pipeline/internal/model"
	"github.com/fairyhunter13/order-pipeline/internal/obs"
	"github.com/fairyhunter13/order-pipeline/internal/queue"
	"github.com/fairyhunter13/order-pipeline/internal/store"
)

// Recorder receives one record per resolved order.
type Recorder interface {
	Record(model.TransactionRecord)
}

// Stats summarises what the consumer has resolved.
type Stats struct {
	Processed uint64          `json:"processed"`
	Filled    uint64          `json:"filled"`
	Rejected  uint64          `json:"rejected"`
	Unknown   uint64          `json:"unknown_product"`
	Markers   int             `json:"markers"`
	Revenue   decimal.Decimal `json:"revenue"`
}

// Consumer drains the queue, resolves orders against the inventory and
// stops after one marker from each of the expected producers.
type Consumer struct {
	q        *queue.BoundedQueue[model.Item]
	inv      *store.Store
	rec      Recorder
	seq      *queue.Sequencer
	expected int

	// finished is only touched by the goroutine running Run or Drain.
	finished int

	mu    sync.Mutex
	stats Stats
}

// NewConsumer creates a consumer that waits for expected markers.
func NewConsumer(q *queue.BoundedQueue[model.Item], inv *store.Store, rec Recorder, expected int) *Consumer {
	return &Consumer{q: q, inv: inv, rec: rec, seq: &queue.Sequencer{}, expected: expected}
}

// Expected returns the number of markers the consumer waits for.
func (c *Consumer) Expected() int { return c.expected }

// Stats returns a copy of the running totals.
func (c *Consumer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Run resolves orders until every expected producer has finished. If
// resolving an order panics, Run discards the rest of the queue up to the
// remaining markers, so producers are never left blocked, and returns the
// panic as an error.
func (c *Consumer) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consumer: %v", r)
			obs.Logger.Error("consumer_failed", "error", err, "markers_seen", c.finished, "expected", c.expected)
			c.Drain()
		}
	}()

	for c.finished < c.expected {
		switch it := c.q.Take().(type) {
		case model.EndOfStream:
			c.markFinished(it)
		case model.Order:
			c.resolve(ctx, it)
		default:
			obs.Logger.Warn("consumer_unexpected_item", "type", fmt.Sprintf("%T", it))
		}
	}
	st := c.Stats()
	obs.Logger.Info("consumer_finished",
		"processed", st.Processed, "filled", st.Filled, "rejected", st.Rejected, "revenue", st.Revenue.StringFixed(2))
	return nil
}

// Drain takes and discards items until the remaining markers have arrived.
func (c *Consumer) Drain() {
	dropped := 0
	for c.finished < c.expected {
		if eos, ok := c.q.Take().(model.EndOfStream); ok {
			c.markFinished(eos)
			continue
		}
		dropped++
	}
	if dropped > 0 {
		obs.Logger.Warn("consumer_drained", "dropped_orders", dropped)
	}
}

func (c *Consumer) markFinished(eos model.EndOfStream) {
	c.finished++
	c.mu.Lock()
	c.stats.Markers = c.finished
	c.mu.Unlock()
	obs.Logger.Debug("producer_marker_received", "source_id", eos.SourceID, "finished", c.finished, "expected", c.expected)
}

func (c *Consumer) resolve(ctx context.Context, o model.Order) {
	_, span := obs.Tracer().Start(ctx, "consumer.resolve_order", trace.WithAttributes(
		attribute.Int("order.source_id", o.SourceID),
		attribute.Int64("order.product_id", int64(o.ProductID)),
		attribute.Int64("order.quantity", int64(o.Quantity)),
	))
	defer span.End()

	rec := model.TransactionRecord{
		Seq:        c.seq.Next(),
		SourceID:   o.SourceID,
		CustomerID: o.CustomerID,
		ProductID:  o.ProductID,
		Quantity:   o.Quantity,
		Amount:     decimal.Zero,
	}

	before, err := c.inv.TryDebit(o.ProductID, o.Quantity)
	switch {
	case err == nil:
		rec.Description = before.Description
		rec.Amount = before.Price.Mul(decimal.NewFromBigInt(new(big.Int).SetUint64(o.Quantity), 0))
		rec.Filled = true
	case errors.Is(err, store.ErrUnknownProduct):
		rec.Description = model.UnknownProductDescription
	case errors.Is(err, store.ErrInsufficientStock):
		rec.Description = before.Description
	default:
		panic(err)
	}

	if rec.Filled {
		// A panicking recorder must not leave stock debited without a log line.
		recorded := false
		defer func() {
			if !recorded {
				_ = c.inv.Credit(o.ProductID, o.Quantity)
				obs.Logger.Warn("consumer_debit_reverted", "product_id", o.ProductID, "quantity", o.Quantity)
			}
		}()
		c.rec.Record(rec)
		recorded = true
	} else {
		c.rec.Record(rec)
	}
	c.count(rec, errors.Is(err, store.ErrUnknownProduct))
	span.SetAttributes(attribute.Bool("order.filled", rec.Filled))
}

func (c *Consumer) count(rec model.TransactionRecord, unknown bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Processed++
	if rec.Filled {
		c.stats.Filled++
		c.stats.Revenue = c.stats.Revenue.Add(rec.Amount)
		return
	}
	c.stats.Rejected++
	if unknown {
		c.stats.Unknown++
	}
}
