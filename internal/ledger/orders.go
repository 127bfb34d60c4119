package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fairyhunter13/order-pipeline/internal/model"
)

// ErrMalformedOrder marks input that is not a sequence of
// "<customer> <product> <quantity>" triples.
var ErrMalformedOrder = errors.New("malformed order")

// OrderFile lazily reads orders from one producer's file. The file is a
// stream of whitespace-separated tokens taken three at a time, so line
// breaks carry no meaning.
type OrderFile struct {
	c        io.Closer
	sc       *bufio.Scanner
	sourceID int
	n        int
}

// OpenOrders opens path as the order source for sourceID.
func OpenOrders(path string, sourceID int) (*OrderFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	return NewOrderReader(f, sourceID), nil
}

// NewOrderReader reads orders from rc.
func NewOrderReader(rc io.ReadCloser, sourceID int) *OrderFile {
	sc := bufio.NewScanner(rc)
	sc.Split(bufio.ScanWords)
	return &OrderFile{c: rc, sc: sc, sourceID: sourceID}
}

// Next returns the next order, or io.EOF once the file is exhausted. A
// trailing incomplete order is reported as ErrMalformedOrder.
func (o *OrderFile) Next() (model.Order, error) {
	var vals [3]uint64
	for i := range vals {
		if !o.sc.Scan() {
			if err := o.sc.Err(); err != nil {
				return model.Order{}, fmt.Errorf("read orders: %w", err)
			}
			if i == 0 {
				return model.Order{}, io.EOF
			}
			return model.Order{}, fmt.Errorf("%w: order %d is truncated after %d fields", ErrMalformedOrder, o.n+1, i)
		}
		v, err := strconv.ParseUint(o.sc.Text(), 10, 64)
		if err != nil {
			return model.Order{}, fmt.Errorf("%w: order %d: %v", ErrMalformedOrder, o.n+1, err)
		}
		vals[i] = v
	}
	o.n++
	return model.Order{CustomerID: vals[0], ProductID: vals[1], Quantity: vals[2], SourceID: o.sourceID}, nil
}

// Close releases the underlying file.
func (o *OrderFile) Close() error { return o.c.Close() }

// FileOpener maps a source id n to the file <Dir>/<Prefix><n>.
type FileOpener struct {
	Dir    string
	Prefix string
}

// Path returns the order file path for sourceID.
func (f FileOpener) Path(sourceID int) string {
	return filepath.Join(f.Dir, f.Prefix+strconv.Itoa(sourceID))
}

// Open opens the order file for sourceID.
func (f FileOpener) Open(sourceID int) (*OrderFile, error) {
	return OpenOrders(f.Path(sourceID), sourceID)
}
