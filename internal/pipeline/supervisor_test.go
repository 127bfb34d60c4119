package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/order-pipeline/internal/model"
)

func TestRunFillsThenRejectsInsufficientStock(t *testing.T) {
	repo := &memRepo{items: map[uint64]model.InventoryItem{100: item(100, "2.50", 10, "Northern Red Oak")}}
	opener := newMemOpener(map[int][]model.Order{1: {order(1, 100, 5), order(2, 100, 10)}})
	rec := &memRecorder{}

	res, err := NewSupervisor(Options{Producers: 1, BufferCapacity: 10}, repo, opener, rec).Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.True(t, res.OK())

	recs := rec.all()
	require.Len(t, recs, 2)
	assert.True(t, recs[0].Filled)
	assert.True(t, recs[0].Amount.Equal(decimal.RequireFromString("12.50")), "amount %s", recs[0].Amount)
	assert.Equal(t, "Northern Red Oak", recs[0].Description)
	assert.False(t, recs[1].Filled)
	assert.True(t, recs[1].Amount.IsZero())
	assert.Equal(t, uint64(10), recs[1].Quantity)
	assert.Equal(t, "Northern Red Oak", recs[1].Description)

	assert.Equal(t, 1, repo.saves)
	assert.Equal(t, uint64(5), repo.savedByID()[100].Stock)
	assert.True(t, rec.closed.Load())
	assert.Equal(t, uint64(1), res.Stats.Filled)
	assert.Equal(t, uint64(1), res.Stats.Rejected)
	assert.True(t, res.Stats.Revenue.Equal(decimal.RequireFromString("12.5")))
}

func TestRunUnknownProduct(t *testing.T) {
	repo := &memRepo{items: map[uint64]model.InventoryItem{100: item(100, "2.50", 10, "Oak")}}
	opener := newMemOpener(map[int][]model.Order{1: {order(7, 999, 3)}})
	rec := &memRecorder{}

	res, err := NewSupervisor(Options{Producers: 1, BufferCapacity: 1}, repo, opener, rec).Run(context.Background())
	require.NoError(t, err)
	require.True(t, res.OK())

	recs := rec.all()
	require.Len(t, recs, 1)
	assert.Equal(t, model.UnknownProductDescription, recs[0].Description)
	assert.Equal(t, uint64(3), recs[0].Quantity)
	assert.True(t, recs[0].Amount.IsZero())
	assert.False(t, recs[0].Filled)
	_, added := repo.savedByID()[999]
	assert.False(t, added)
	assert.Equal(t, uint64(10), repo.savedByID()[100].Stock)
	assert.Equal(t, uint64(1), res.Stats.Unknown)
}

func TestRunSourceOpenFailureStillFinishes(t *testing.T) {
	repo := &memRepo{items: map[uint64]model.InventoryItem{1: item(1, "1.00", 100, "Ash")}}
	opener := newMemOpener(map[int][]model.Order{
		1: {order(1, 1, 1), order(1, 1, 2)},
		3: {order(3, 1, 3)},
	})
	rec := &memRecorder{}

	res, err := NewSupervisor(Options{Producers: 3, BufferCapacity: 2}, repo, opener, rec).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, res.OK())
	assert.Equal(t, 3, res.Expected)
	assert.Equal(t, 3, res.Stats.Markers)
	assert.Equal(t, []int{2}, res.FailedSources())

	var openErr *SourceOpenError
	require.True(t, errors.As(res.Err(), &openErr))
	assert.Equal(t, 2, openErr.SourceID)
	assert.ErrorIs(t, res.Err(), errNoSuchSource)

	assert.Len(t, rec.all(), 3)
	assert.Equal(t, uint64(94), repo.savedByID()[1].Stock)
	assert.Equal(t, 1, repo.saves)
}

func TestRunProducerSpawnFailureShrinksExpected(t *testing.T) {
	repo := &memRepo{items: map[uint64]model.InventoryItem{1: item(1, "1.00", 100, "Ash")}}
	opener := newMemOpener(map[int][]model.Order{
		1: {order(1, 1, 1)},
		2: {order(2, 1, 1)},
		3: {order(3, 1, 1)},
		4: {order(4, 1, 1)},
	})
	rec := &memRecorder{}

	// Third spawn is producer 3; the fourth spawn is the consumer.
	sup := NewSupervisor(Options{Producers: 4, BufferCapacity: 1}, repo, opener, rec, WithSpawner(failingSpawner(3)))
	res, err := sup.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Expected)
	assert.Equal(t, 2, res.Stats.Markers)
	require.Len(t, res.StartErrors, 1)
	assert.ErrorIs(t, res.StartErrors[0], ErrSpawn)
	assert.False(t, res.OK())
	assert.Len(t, rec.all(), 2)
	assert.Equal(t, uint64(98), repo.savedByID()[1].Stock)
	assert.Len(t, sup.Progress().Producers, 2)
}

func TestRunFirstProducerSpawnFailure(t *testing.T) {
	repo := &memRepo{}
	opener := newMemOpener(map[int][]model.Order{1: {order(1, 1, 1)}})
	res, err := NewSupervisor(Options{Producers: 1, BufferCapacity: 1}, repo, opener, &memRecorder{},
		WithSpawner(failingSpawner(1))).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Expected)
	assert.Len(t, res.StartErrors, 1)
	assert.Equal(t, 1, repo.saves)
}

func TestRunConsumerSpawnFailureDrains(t *testing.T) {
	repo := &memRepo{items: map[uint64]model.InventoryItem{1: item(1, "1.00", 100, "Ash")}}
	orders := make([]model.Order, 50)
	for i := range orders {
		orders[i] = order(uint64(i), 1, 1)
	}
	opener := newMemOpener(map[int][]model.Order{1: orders, 2: orders})
	rec := &memRecorder{}

	res, err := NewSupervisor(Options{Producers: 2, BufferCapacity: 1}, repo, opener, rec,
		WithSpawner(failingSpawner(3))).Run(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, res.ConsumerErr, ErrSpawn)
	assert.Empty(t, res.ProducerErrors)
	assert.Empty(t, rec.all())
	assert.Equal(t, uint64(100), repo.savedByID()[1].Stock)
	assert.Equal(t, 1, repo.saves)
}

func TestRunRejectsInvalidOptions(t *testing.T) {
	cases := []Options{
		{Producers: 0, BufferCapacity: 5},
		{Producers: 10, BufferCapacity: 5},
		{Producers: 1, BufferCapacity: 0},
		{Producers: 1, BufferCapacity: 31},
		{Producers: -1, BufferCapacity: -1},
	}
	for _, opts := range cases {
		repo := &memRepo{}
		_, err := NewSupervisor(opts, repo, newMemOpener(nil), &memRecorder{}).Run(context.Background())
		assert.ErrorIs(t, err, ErrConfiguration, "%+v", opts)
		assert.Zero(t, repo.loads, "inventory loaded for %+v", opts)
		assert.Zero(t, repo.saves)
	}
}

func TestRunRelaxedLimits(t *testing.T) {
	sources := map[int][]model.Order{}
	for i := 1; i <= 12; i++ {
		sources[i] = []model.Order{order(uint64(i), 1, 1)}
	}
	repo := &memRepo{items: map[uint64]model.InventoryItem{1: item(1, "0.10", 100, "Twig")}}
	res, err := NewSupervisor(Options{Producers: 12, BufferCapacity: 64, MaxProducers: 16, MaxBufferCapacity: 64},
		repo, newMemOpener(sources), &memRecorder{}).Run(context.Background())
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, 12, res.Stats.Markers)
	assert.True(t, res.Stats.Revenue.Equal(decimal.RequireFromString("1.2")))
}

func TestRunInventoryLoadFailureIsDiagnostic(t *testing.T) {
	repo := &memRepo{loadErr: errors.New("permission denied")}
	opener := newMemOpener(map[int][]model.Order{1: {order(1, 5, 1)}})
	rec := &memRecorder{}
	res, err := NewSupervisor(Options{Producers: 1, BufferCapacity: 3}, repo, opener, rec).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Error(t, res.InventoryLoadErr)
	require.Len(t, rec.all(), 1)
	assert.Equal(t, model.UnknownProductDescription, rec.all()[0].Description)
}

func TestRunSaveAndLogFailuresFailRun(t *testing.T) {
	repo := &memRepo{saveErr: errors.New("read-only file system")}
	rec := &memRecorder{closeErr: errors.New("flush failed")}
	res, err := NewSupervisor(Options{Producers: 1, BufferCapacity: 3}, repo,
		newMemOpener(map[int][]model.Order{1: nil}), rec).Run(context.Background())
	require.NoError(t, err)
	assert.Error(t, res.SaveErr)
	assert.Error(t, res.LogErr)
	assert.False(t, res.OK())
}

func TestRunProducerPanicStillDeliversMarker(t *testing.T) {
	repo := &memRepo{items: map[uint64]model.InventoryItem{1: item(1, "1.00", 10, "Ash")}}
	opener := newMemOpener(map[int][]model.Order{
		1: {order(1, 1, 1), order(1, 1, 1), order(1, 1, 1)},
		2: {order(2, 1, 1)},
	})
	opener.panicAt[1] = 2
	rec := &memRecorder{}

	res, err := NewSupervisor(Options{Producers: 2, BufferCapacity: 1}, repo, opener, rec).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.FailedSources())
	assert.Contains(t, res.ProducerErrors[1].Error(), "panicked")
	assert.Equal(t, 2, res.Stats.Markers)
	assert.Len(t, rec.all(), 2)
	assert.True(t, opener.opened[1].closed)
}

func TestRunConsumerPanicDrainsAndFails(t *testing.T) {
	repo := &memRepo{items: map[uint64]model.InventoryItem{1: item(1, "1.00", 10, "Ash"), 13: item(13, "1.00", 10, "Elm")}}
	orders := []model.Order{order(1, 1, 1), order(1, 13, 4)}
	for i := 0; i < 20; i++ {
		orders = append(orders, order(1, 1, 1))
	}
	rec := &memRecorder{panicOn: 13}

	res, err := NewSupervisor(Options{Producers: 1, BufferCapacity: 2}, repo,
		newMemOpener(map[int][]model.Order{1: orders}), rec).Run(context.Background())
	require.NoError(t, err)
	require.Error(t, res.ConsumerErr)
	assert.Contains(t, res.ConsumerErr.Error(), "log unavailable")
	assert.Equal(t, 1, repo.saves)
	assert.Len(t, rec.all(), 1)
	saved := repo.savedByID()
	assert.Equal(t, uint64(10), saved[13].Stock, "unrecorded debit was saved")
	assert.Equal(t, uint64(9), saved[1].Stock)
}

// Every order of every source is recorded exactly once, each source keeps its
// own order, and stock is conserved.
func TestRunManyProducersConservesStock(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	items := map[uint64]model.InventoryItem{}
	for id := uint64(1); id <= 5; id++ {
		items[id] = item(id, "1.25", uint64(r.Intn(200)), "Wood")
	}
	repo := &memRepo{items: items}

	sources := map[int][]model.Order{}
	total := 0
	for src := 1; src <= 9; src++ {
		n := 50 + r.Intn(50)
		for i := 0; i < n; i++ {
			sources[src] = append(sources[src], order(uint64(i), uint64(1+r.Intn(6)), uint64(1+r.Intn(10))))
		}
		total += n
	}
	rec := &memRecorder{}

	res, err := NewSupervisor(Options{Producers: 9, BufferCapacity: 3}, repo, newMemOpener(sources), rec).Run(context.Background())
	require.NoError(t, err)
	require.True(t, res.OK())

	recs := rec.all()
	require.Len(t, recs, total)
	last := map[int]int64{}
	filledQty := map[uint64]uint64{}
	for _, rc := range recs {
		prev, seen := last[rc.SourceID]
		if seen {
			assert.Greater(t, int64(rc.CustomerID), prev, "source %d out of order", rc.SourceID)
		}
		last[rc.SourceID] = int64(rc.CustomerID)
		if rc.Filled {
			filledQty[rc.ProductID] += rc.Quantity
		}
	}
	saved := repo.savedByID()
	for id, it := range items {
		assert.Equal(t, it.Stock-filledQty[id], saved[id].Stock, "product %d", id)
	}
	assert.Equal(t, uint64(total), res.Stats.Processed)
}

func TestProgressAfterRun(t *testing.T) {
	repo := &memRepo{items: map[uint64]model.InventoryItem{1: item(1, "1.00", 10, "Ash")}}
	sup := NewSupervisor(Options{Producers: 2, BufferCapacity: 4}, repo,
		newMemOpener(map[int][]model.Order{1: {order(1, 1, 1)}, 2: {order(2, 1, 1)}}), &memRecorder{})

	before := sup.Progress()
	assert.Equal(t, PhaseIdle, before.Phase)
	assert.Nil(t, sup.Inventory())

	_, err := sup.Run(context.Background())
	require.NoError(t, err)

	p := sup.Progress()
	assert.Equal(t, PhaseDone, p.Phase)
	assert.Equal(t, sup.RunID().String(), p.RunID)
	assert.Equal(t, 2, p.Expected)
	assert.Equal(t, 4, p.Queue.Capacity)
	assert.Equal(t, uint64(4), p.Queue.Puts)
	assert.Equal(t, uint64(4), p.Queue.Takes)
	require.Len(t, p.Producers, 2)
	for _, ps := range p.Producers {
		assert.Equal(t, "finished", ps.State)
		assert.Equal(t, uint64(1), ps.Orders)
	}
	require.NotNil(t, sup.Inventory())
}
