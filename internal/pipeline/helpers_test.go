package pipeline

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/order-pipeline/internal/model"
)

var errNoSuchSource = errors.New("no such source")

type sliceSource struct {
	orders []model.Order
	i      int
	closed bool
	panicAt int
}

func (s *sliceSource) Next() (model.Order, error) {
	if s.panicAt > 0 && s.i+1 == s.panicAt {
		panic("corrupt source")
	}
	if s.i >= len(s.orders) {
		return model.Order{}, io.EOF
	}
	o := s.orders[s.i]
	s.i++
	return o, nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

// memOpener serves orders per source id; ids without an entry fail to open.
type memOpener struct {
	mu      sync.Mutex
	sources map[int][]model.Order
	panicAt map[int]int
	opened  map[int]*sliceSource
}

func newMemOpener(sources map[int][]model.Order) *memOpener {
	return &memOpener{sources: sources, panicAt: map[int]int{}, opened: map[int]*sliceSource{}}
}

func (m *memOpener) Open(sourceID int) (OrderSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	orders, ok := m.sources[sourceID]
	if !ok {
		return nil, fmt.Errorf("orders%d: %w", sourceID, errNoSuchSource)
	}
	src := &sliceSource{orders: orders, panicAt: m.panicAt[sourceID]}
	m.opened[sourceID] = src
	return src, nil
}

type memRepo struct {
	mu      sync.Mutex
	items   map[uint64]model.InventoryItem
	loadErr error
	saveErr error
	loads   int
	saves   int
	saved   []model.InventoryItem
}

func (r *memRepo) Load() (map[uint64]model.InventoryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	out := make(map[uint64]model.InventoryItem, len(r.items))
	for k, v := range r.items {
		out[k] = v
	}
	return out, r.loadErr
}

func (r *memRepo) Save(items []model.InventoryItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	r.saved = items
	return r.saveErr
}

func (r *memRepo) savedByID() map[uint64]model.InventoryItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uint64]model.InventoryItem, len(r.saved))
	for _, it := range r.saved {
		out[it.ProductID] = it
	}
	return out
}

type memRecorder struct {
	mu       sync.Mutex
	records  []model.TransactionRecord
	closeErr error
	closed   atomic.Bool
	panicOn  uint64
}

func (m *memRecorder) Record(rec model.TransactionRecord) {
	if m.panicOn != 0 && rec.ProductID == m.panicOn {
		panic("log unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

func (m *memRecorder) Close() error {
	m.closed.Store(true)
	return m.closeErr
}

func (m *memRecorder) all() []model.TransactionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.TransactionRecord, len(m.records))
	copy(out, m.records)
	return out
}

func item(id uint64, price string, stock uint64, desc string) model.InventoryItem {
	return model.InventoryItem{ProductID: id, Price: decimal.RequireFromString(price), Stock: stock, Description: desc}
}

func order(customer, product, qty uint64) model.Order {
	return model.Order{CustomerID: customer, ProductID: product, Quantity: qty}
}

// failingSpawner fails the calls whose 1-based index is in fail.
func failingSpawner(fail ...int) Spawner {
	var n atomic.Int32
	bad := map[int]bool{}
	for _, f := range fail {
		bad[f] = true
	}
	return func(task func()) error {
		if bad[int(n.Add(1))] {
			return errors.New("resource temporarily unavailable")
		}
		go task()
		return nil
	}
}
