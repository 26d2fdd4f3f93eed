package cache

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/faithflow/commsync/pkg/chat"
)

// ErrNotFound is returned by a Backend when a key does not exist.
var ErrNotFound = errors.New("cache: not found")

// Backend holds encoded pages. Implementations must be safe for concurrent
// use; the Cache serializes compound operations itself.
type Backend interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Set stores value under key, overwriting any existing value.
	Set(key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// Close releases any resources held by the backend.
	Close() error
}

// Engine names a Backend implementation.
type Engine string

const (
	EngineMemory Engine = "memory"
	EngineBadger Engine = "badger"
)

// OpenBackend returns a Backend for engine. The empty engine selects memory.
func OpenBackend(engine Engine, logger *slog.Logger) (Backend, error) {
	switch engine {
	case "", EngineMemory:
		return NewMemory(), nil
	case EngineBadger:
		return NewBadger(logger)
	}
	return nil, fmt.Errorf("cache: unknown engine %q", engine)
}

// Memory is a map-backed Backend.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(key string) ([]byte, error) {
	m.mu.RLock()
	v, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (m *Memory) Set(key string, value []byte) error {
	cp := bytes.Clone(value)
	m.mu.Lock()
	m.data[key] = cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error {
	return nil
}

// Badger is a Backend on BadgerDB running in in-memory mode. Nothing is
// written to disk.
type Badger struct {
	db *badger.DB
}

// NewBadger opens an in-memory BadgerDB. Badger's own logging is routed to
// logger at debug level for info messages.
func NewBadger(logger *slog.Logger) (*Badger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(badgerLogger{logger.With("component", "badger")})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cache: open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Get(key string) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return val, err
}

func (b *Badger) Set(key string, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (b *Badger) Delete(key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (b *Badger) Close() error {
	return b.db.Close()
}

type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(f string, v ...any)   { b.l.Error(strings.TrimSpace(fmt.Sprintf(f, v...))) }
func (b badgerLogger) Warningf(f string, v ...any) { b.l.Warn(strings.TrimSpace(fmt.Sprintf(f, v...))) }
func (b badgerLogger) Infof(f string, v ...any)    { b.l.Debug(strings.TrimSpace(fmt.Sprintf(f, v...))) }
func (b badgerLogger) Debugf(string, ...any)       {}

// pageKey encodes a timeline key for the backend, e.g. "page:c1:general:".
func pageKey(k chat.Key) string {
	return strings.Join([]string{"page", k.Community, string(k.Channel), k.Subgroup}, ":")
}

func encodePage(p chat.Page) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("cache: encode page: %w", err)
	}
	return buf.Bytes(), nil
}

func decodePage(b []byte) (chat.Page, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	var p chat.Page
	if err := dec.Decode(&p); err != nil {
		return chat.Page{}, fmt.Errorf("cache: decode page: %w", err)
	}
	return p, nil
}
