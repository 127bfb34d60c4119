package ledger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fairyhunter13/order-pipeline/internal/model"
)

// TransactionLog appends one fixed-width line per transaction.
//
// Record never fails; the first write error is kept and reported by Err and
// Close.
type TransactionLog struct {
	mu  sync.Mutex
	c   io.Closer
	w   *bufio.Writer
	err error
	n   int
}

// OpenTransactionLog opens path for appending, creating it if needed.
func OpenTransactionLog(path string) (*TransactionLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transaction log: %w", err)
	}
	return NewTransactionLog(f), nil
}

// NewTransactionLog writes transactions to wc.
func NewTransactionLog(wc io.WriteCloser) *TransactionLog {
	return &TransactionLog{c: wc, w: bufio.NewWriter(wc)}
}

// FormatTransaction renders rec as a log line without the trailing newline.
func FormatTransaction(rec model.TransactionRecord) string {
	result := "rejected"
	if rec.Filled {
		result = "filled"
	}
	return fmt.Sprintf("%07d %6d %-30s %5d  $%-9s %s",
		rec.CustomerID, rec.ProductID, rec.Description, rec.Quantity, rec.Amount.StringFixed(2), result)
}

// Record appends rec to the log.
func (l *TransactionLog) Record(rec model.TransactionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return
	}
	if _, err := l.w.WriteString(FormatTransaction(rec) + "\n"); err != nil {
		l.err = fmt.Errorf("write transaction %d: %w", rec.Seq, err)
		return
	}
	l.n++
}

// Count returns the number of lines written.
func (l *TransactionLog) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

// Err returns the first write error, if any.
func (l *TransactionLog) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close flushes buffered lines and closes the file.
func (l *TransactionLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil && l.err == nil {
		l.err = fmt.Errorf("flush transaction log: %w", err)
	}
	if err := l.c.Close(); err != nil && l.err == nil {
		l.err = fmt.Errorf("close transaction log: %w", err)
	}
	return l.err
}
