// Package ledger reads and writes the on-disk files of a run: the inventory
// snapshot, per-producer order files and the transaction log.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/order-pipeline/internal/model"
)

// ErrMalformedInventory marks a line that is not "<id> <price> <stock> <description>".
var ErrMalformedInventory = errors.New("malformed inventory line")

// LoadInventory reads an inventory file. On a malformed line it stops and
// returns the items read so far together with the error.
func LoadInventory(path string) (map[uint64]model.InventoryItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return map[uint64]model.InventoryItem{}, fmt.Errorf("open inventory: %w", err)
	}
	defer f.Close()
	return ReadInventory(f)
}

// ReadInventory parses inventory lines from r.
func ReadInventory(r io.Reader) (map[uint64]model.InventoryItem, error) {
	items := make(map[uint64]model.InventoryItem)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSuffix(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		it, err := parseInventoryLine(text)
		if err != nil {
			return items, fmt.Errorf("%w at line %d: %v", ErrMalformedInventory, line, err)
		}
		items[it.ProductID] = it
	}
	if err := sc.Err(); err != nil {
		return items, fmt.Errorf("read inventory: %w", err)
	}
	return items, nil
}

// cutField splits the first whitespace-separated field off s.
func cutField(s string) (field, rest string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	if i := strings.IndexFunc(s, unicode.IsSpace); i >= 0 {
		return s[:i], s[i:]
	}
	return s, ""
}

// parseInventoryLine reads "<id> <price> <stock> <description>". The
// description is the rest of the line with its inner whitespace intact.
func parseInventoryLine(text string) (model.InventoryItem, error) {
	var fields [3]string
	rest := text
	for i := range fields {
		fields[i], rest = cutField(rest)
		if fields[i] == "" {
			return model.InventoryItem{}, fmt.Errorf("expected at least 3 fields, got %d", i)
		}
	}
	id, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return model.InventoryItem{}, fmt.Errorf("product id: %w", err)
	}
	price, err := decimal.NewFromString(fields[1])
	if err != nil {
		return model.InventoryItem{}, fmt.Errorf("price: %w", err)
	}
	if price.IsNegative() {
		return model.InventoryItem{}, fmt.Errorf("price %s is negative", fields[1])
	}
	stock, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return model.InventoryItem{}, fmt.Errorf("stock: %w", err)
	}
	return model.InventoryItem{
		ProductID:   id,
		Price:       price,
		Stock:       stock,
		Description: strings.TrimLeftFunc(rest, unicode.IsSpace),
	}, nil
}

// SaveInventory writes items to path ordered by product id. The file is
// written next to path and renamed into place.
func SaveInventory(path string, items []model.InventoryItem) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create inventory: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteInventory(tmp, items); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close inventory: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename inventory: %w", err)
	}
	return nil
}

// WriteInventory formats items to w ordered by product id.
func WriteInventory(w io.Writer, items []model.InventoryItem) error {
	sorted := make([]model.InventoryItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	bw := bufio.NewWriter(w)
	for _, it := range sorted {
		if _, err := fmt.Fprintf(bw, "%6d %5s %5d %s\n", it.ProductID, it.Price.StringFixed(2), it.Stock, it.Description); err != nil {
			return fmt.Errorf("write inventory: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write inventory: %w", err)
	}
	return nil
}

// InventoryFiles loads the inventory from In and saves it to Out.
type InventoryFiles struct {
	In  string
	Out string
}

// Load reads In.
func (f InventoryFiles) Load() (map[uint64]model.InventoryItem, error) {
	return LoadInventory(f.In)
}

// Save writes Out.
func (f InventoryFiles) Save(items []model.InventoryItem) error {
	return SaveInventory(f.Out, items)
}
