package keyValStore

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

const (
	tablePrefix = "table/"
	cellPrefix  = "cell/"
)

var ErrInvalidName = errors.New("keyValStore: invalid table or cell name")

// Table is an ordered map living under its own key prefix. Keys of one
// table can never collide with keys of another.
type Table struct {
	name   string
	prefix []byte
}

// Cell is a single persistent value.
type Cell struct {
	name string
	key  []byte
}

func validateName(name string) error {
	if name == "" || strings.ContainsRune(name, '/') {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func NewTable(name string) (Table, error) { // A
	if err := validateName(name); err != nil {
		return Table{}, err
	}
	return Table{name: name, prefix: []byte(tablePrefix + name + "/")}, nil
}

func NewCell(name string) (Cell, error) { // A
	if err := validateName(name); err != nil {
		return Cell{}, err
	}
	return Cell{name: name, key: []byte(cellPrefix + name)}, nil
}

func (t Table) Name() string { return t.name }

func (c Cell) Name() string { return c.name }

func (t Table) key(k []byte) []byte {
	out := make([]byte, 0, len(t.prefix)+len(k))
	out = append(out, t.prefix...)
	return append(out, k...)
}

// Range selects the keys of a table starting with Prefix. Iteration starts
// at From (inclusive) or at Prefix when From is nil, and moves forward until
// the first key that no longer has Prefix.
type Range struct {
	Prefix []byte
	From   []byte
}

// Txn is a transaction handed out by Update or View.
type Txn struct {
	store    *KeyValStore
	txn      *badger.Txn
	writable bool
}

// Get returns a copy of the value stored under key.
func (t *Txn) Get(table Table, key []byte) ([]byte, bool, error) { // A
	atomic.AddUint64(&t.store.readCounter, 1)
	item, err := t.txn.Get(table.key(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", table.name, err)
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, fmt.Errorf("read %s value: %w", table.name, err)
	}
	return value, true, nil
}

func (t *Txn) Set(table Table, key, value []byte) error { // A
	atomic.AddUint64(&t.store.writeCounter, 1)
	if err := t.txn.Set(table.key(key), value); err != nil {
		return fmt.Errorf("set %s: %w", table.name, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (t *Txn) Delete(table Table, key []byte) error { // A
	atomic.AddUint64(&t.store.writeCounter, 1)
	if err := t.txn.Delete(table.key(key)); err != nil {
		return fmt.Errorf("delete %s: %w", table.name, err)
	}
	return nil
}

// Scan calls fn for every entry in r, in ascending key order, until fn
// returns false. Keys passed to fn have the table prefix stripped. fn must
// not write through t.
func (t *Txn) Scan(
	table Table,
	r Range,
	fn func(key, value []byte) (bool, error),
) error { // A
	return t.iterate(table, r, true, func(item *badger.Item, key []byte) (bool, error) {
		value, err := item.ValueCopy(nil)
		if err != nil {
			return false, fmt.Errorf("read %s value: %w", table.name, err)
		}
		return fn(key, value)
	})
}

// ScanKeys is Scan without fetching values.
func (t *Txn) ScanKeys(
	table Table,
	r Range,
	fn func(key []byte) (bool, error),
) error { // A
	return t.iterate(table, r, false, func(_ *badger.Item, key []byte) (bool, error) {
		return fn(key)
	})
}

func (t *Txn) iterate(
	table Table,
	r Range,
	prefetch bool,
	fn func(item *badger.Item, key []byte) (bool, error),
) error {
	atomic.AddUint64(&t.store.readCounter, 1)

	prefix := table.key(r.Prefix)
	start := prefix
	if r.From != nil {
		start = table.key(r.From)
		if bytes.Compare(start, prefix) < 0 {
			start = prefix
		}
	}

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = prefetch
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)[len(table.prefix):]
		more, err := fn(item, key)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// GetCell returns the value of c.
func (t *Txn) GetCell(c Cell) ([]byte, bool, error) { // A
	atomic.AddUint64(&t.store.readCounter, 1)
	item, err := t.txn.Get(c.key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cell %s: %w", c.name, err)
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, fmt.Errorf("read cell %s: %w", c.name, err)
	}
	return value, true, nil
}

// InitCell stores value in c unless c already holds a value. It returns
// the value c holds afterwards and whether this call wrote it.
func (t *Txn) InitCell(c Cell, value []byte) ([]byte, bool, error) { // A
	existing, ok, err := t.GetCell(c)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return existing, false, nil
	}
	atomic.AddUint64(&t.store.writeCounter, 1)
	if err := t.txn.Set(c.key, value); err != nil {
		return nil, false, fmt.Errorf("init cell %s: %w", c.name, err)
	}
	return append([]byte(nil), value...), true, nil
}

func (t *Txn) Writable() bool {
	return t.writable
}
