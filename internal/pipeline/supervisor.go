package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/order-pipeline/internal/model"
	"github.com/fairyhunter13/order-pipeline/internal/obs"
	"github.com/fairyhunter13/order-pipeline/internal/queue"
	"github.com/fairyhunter13/order-pipeline/internal/store"
)

var (
	ErrConfiguration = errors.New("invalid pipeline configuration")
	ErrSpawn         = errors.New("worker could not be started")
)

const (
	DefaultMaxProducers      = 9
	DefaultMaxBufferCapacity = 30
)

// InventoryRepository loads the inventory before a run and saves it after.
type InventoryRepository interface {
	Load() (map[uint64]model.InventoryItem, error)
	Save([]model.InventoryItem) error
}

// Spawner starts task concurrently. A non-nil error means task will never run.
type Spawner func(task func()) error

// GoSpawner runs task on a new goroutine.
func GoSpawner(task func()) error {
	go task()
	return nil
}

// Options sizes a run. Zero limits mean the defaults of 9 producers and a
// capacity of 30.
type Options struct {
	Producers         int
	BufferCapacity    int
	MaxProducers      int
	MaxBufferCapacity int
}

func (o Options) validate() error {
	maxP, maxB := o.MaxProducers, o.MaxBufferCapacity
	if maxP <= 0 {
		maxP = DefaultMaxProducers
	}
	if maxB <= 0 {
		maxB = DefaultMaxBufferCapacity
	}
	if o.Producers < 1 || o.Producers > maxP {
		return fmt.Errorf("%w: producers must be between 1 and %d, got %d", ErrConfiguration, maxP, o.Producers)
	}
	if o.BufferCapacity < 1 || o.BufferCapacity > maxB {
		return fmt.Errorf("%w: buffer capacity must be between 1 and %d, got %d", ErrConfiguration, maxB, o.BufferCapacity)
	}
	return nil
}

// Phase is the coarse progress of a run.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseRunning Phase = "running"
	PhaseSaving  Phase = "saving"
	PhaseDone    Phase = "done"
)

// Option customises a Supervisor.
type Option func(*Supervisor)

// WithSpawner replaces GoSpawner.
func WithSpawner(sp Spawner) Option {
	return func(s *Supervisor) { s.spawn = sp }
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id uuid.UUID) Option {
	return func(s *Supervisor) { s.runID = id }
}

// Supervisor owns the lifecycle of one run: it loads the inventory, starts
// the producers and the consumer, joins them and saves the inventory.
type Supervisor struct {
	opts   Options
	repo   InventoryRepository
	opener SourceOpener
	rec    Recorder
	spawn  Spawner
	runID  uuid.UUID

	mu        sync.RWMutex
	phase     Phase
	inv       *store.Store
	q         *queue.BoundedQueue[model.Item]
	producers []*Producer
	consumer  *Consumer
}

// NewSupervisor creates a Supervisor. If rec implements io.Closer it is
// closed once the consumer has finished.
func NewSupervisor(opts Options, repo InventoryRepository, opener SourceOpener, rec Recorder, options ...Option) *Supervisor {
	s := &Supervisor{
		opts:   opts,
		repo:   repo,
		opener: opener,
		rec:    rec,
		spawn:  GoSpawner,
		runID:  uuid.New(),
		phase:  PhaseIdle,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// RunID identifies the run in logs and traces.
func (s *Supervisor) RunID() uuid.UUID { return s.runID }

// task is the joinable handle of a spawned worker.
type task struct {
	id   int
	done chan error
}

func (t task) wait() error { return <-t.done }

// start spawns fn, converting a panic into an error on the task's channel.
func (s *Supervisor) start(id int, name string, fn func() error) (task, error) {
	t := task{id: id, done: make(chan error, 1)}
	err := s.spawn(func() {
		t.done <- guard(name, fn)
	})
	if err != nil {
		return task{}, fmt.Errorf("%w: %s: %v", ErrSpawn, name, err)
	}
	return t, nil
}

func guard(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", name, r)
		}
	}()
	return fn()
}

// Run executes the whole pipeline. The returned error is non-nil only for an
// invalid configuration, in which case no worker was started; every other
// failure is reported through RunResult.Err.
func (s *Supervisor) Run(ctx context.Context) (RunResult, error) {
	if err := s.opts.validate(); err != nil {
		return RunResult{}, err
	}

	begin := time.Now()
	log := obs.Logger.With("run_id", s.runID.String())
	ctx, span := obs.Tracer().Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", s.runID.String()),
		attribute.Int("run.producers", s.opts.Producers),
		attribute.Int("run.buffer_capacity", s.opts.BufferCapacity),
	))
	defer span.End()

	res := RunResult{RunID: s.runID, ProducerErrors: make(map[int]error)}

	s.setPhase(PhaseLoading)
	items, err := s.repo.Load()
	if err != nil {
		res.InventoryLoadErr = err
		log.Error("inventory_load_failed", "error", err, "products", len(items))
	}
	inv := store.New(items)
	q, err := queue.New[model.Item](s.opts.BufferCapacity)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	s.mu.Lock()
	s.inv, s.q = inv, q
	s.mu.Unlock()
	log.Info("run_started", "products", inv.Len(), "producers", s.opts.Producers, "buffer_capacity", q.Cap())

	s.setPhase(PhaseRunning)
	var producers []task
	for id := 1; id <= s.opts.Producers; id++ {
		p := NewProducer(id, s.opener, q)
		t, err := s.start(id, fmt.Sprintf("producer %d", id), func() error { return p.Run(ctx) })
		if err != nil {
			// The consumer must only wait for producers that actually run.
			res.StartErrors = append(res.StartErrors, err)
			log.Error("producer_start_failed", "source_id", id, "error", err, "expected", len(producers))
			break
		}
		s.mu.Lock()
		s.producers = append(s.producers, p)
		s.mu.Unlock()
		producers = append(producers, t)
	}
	res.Expected = len(producers)

	consumer := NewConsumer(q, inv, s.rec, res.Expected)
	s.mu.Lock()
	s.consumer = consumer
	s.mu.Unlock()
	ct, err := s.start(0, "consumer", func() error { return consumer.Run(ctx) })
	consumerStarted := err == nil
	if !consumerStarted {
		res.ConsumerErr = err
		log.Error("consumer_start_failed", "error", err)
		consumer.Drain()
	}

	for _, t := range producers {
		if err := t.wait(); err != nil {
			res.ProducerErrors[t.id] = err
		}
	}
	if consumerStarted {
		if err := ct.wait(); err != nil {
			res.ConsumerErr = err
		}
	}
	res.Stats = consumer.Stats()

	if c, ok := s.rec.(io.Closer); ok {
		if err := c.Close(); err != nil {
			res.LogErr = err
			log.Error("transaction_log_close_failed", "error", err)
		}
	}

	s.setPhase(PhaseSaving)
	if err := s.repo.Save(inv.Snapshot()); err != nil {
		res.SaveErr = fmt.Errorf("save inventory: %w", err)
		log.Error("inventory_save_failed", "error", err)
	} else {
		log.Info("inventory_saved", "products", inv.Len())
	}
	s.setPhase(PhaseDone)
	res.Duration = time.Since(begin)

	if err := res.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
		log.Warn("run_finished_with_errors", "error", err, "failed_sources", res.FailedSources(), "duration_ms", res.Duration.Milliseconds())
	} else {
		span.SetStatus(codes.Ok, "")
		log.Info("run_finished", "processed", res.Stats.Processed, "filled", res.Stats.Filled, "rejected", res.Stats.Rejected, "duration_ms", res.Duration.Milliseconds())
	}
	return res, nil
}

func (s *Supervisor) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// Inventory returns the live inventory, or nil before it has been loaded.
func (s *Supervisor) Inventory() *store.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inv
}

// ProducerStatus is the externally visible state of one producer.
type ProducerStatus struct {
	SourceID int    `json:"source_id"`
	State    string `json:"state"`
	Orders   uint64 `json:"orders"`
}

// QueueStatus mirrors BoundedQueue.Metrics.
type QueueStatus struct {
	Capacity  int    `json:"capacity"`
	Depth     int    `json:"depth"`
	HighWater int    `json:"high_water"`
	Puts      uint64 `json:"puts"`
	Takes     uint64 `json:"takes"`
}

// Progress is a point-in-time view of a run.
type Progress struct {
	RunID     string           `json:"run_id"`
	Phase     Phase            `json:"phase"`
	Expected  int              `json:"expected_producers"`
	Producers []ProducerStatus `json:"producers"`
	Queue     QueueStatus      `json:"queue"`
	Stats     Stats            `json:"stats"`
}

// Progress reports the current state of the run. It is safe to call from
// any goroutine at any time.
func (s *Supervisor) Progress() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pr := Progress{RunID: s.runID.String(), Phase: s.phase, Producers: []ProducerStatus{}}
	for _, p := range s.producers {
		pr.Producers = append(pr.Producers, ProducerStatus{SourceID: p.ID(), State: p.State().String(), Orders: p.Produced()})
	}
	if s.q != nil {
		puts, takes, depth, hw := s.q.Metrics()
		pr.Queue = QueueStatus{Capacity: s.q.Cap(), Depth: depth, HighWater: hw, Puts: puts, Takes: takes}
	}
	if s.consumer != nil {
		pr.Expected = s.consumer.Expected()
		pr.Stats = s.consumer.Stats()
	}
	return pr
}
