// Package checkpoint persists per-layer resume state: the last page token a
// failed ingestion can restart from. Tokens are read at run start, written
// on resumable failure, and cleared when a layer completes.
package checkpoint

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Store persists resume tokens keyed by layer name.
type Store interface {
	// Token returns the saved resume token for a layer ("" if none).
	Token(layer string) (string, error)

	// Save records the token a later run should resume from.
	Save(layer, token string) error

	// Clear removes the layer's checkpoint after a successful run.
	Clear(layer string) error

	Close() error
}

// Badger is the durable checkpoint store.
type Badger struct {
	db *badger.DB
}

// Config holds checkpoint store configuration.
type Config struct {
	Path     string
	InMemory bool
}

// NewBadger opens a Badger-backed checkpoint store.
func NewBadger(cfg Config) (*Badger, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	return &Badger{db: db}, nil
}

func checkpointKey(layer string) []byte { return []byte("checkpoint!" + layer) }

// Token returns the saved resume token for a layer.
func (b *Badger) Token(layer string) (string, error) {
	var token string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey(layer))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			token = string(val)
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("failed to read checkpoint for %q: %w", layer, err)
	}
	return token, nil
}

// Save records the resume token for a layer.
func (b *Badger) Save(layer, token string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(checkpointKey(layer), []byte(token))
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for %q: %w", layer, err)
	}
	return nil
}

// Clear removes the layer's checkpoint.
func (b *Badger) Clear(layer string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(checkpointKey(layer))
	})
	if err != nil {
		return fmt.Errorf("failed to clear checkpoint for %q: %w", layer, err)
	}
	return nil
}

// Close shuts the store down cleanly.
func (b *Badger) Close() error { return b.db.Close() }

// Memory keeps checkpoints in memory. Useful for tests and one-shot runs
// where resumability across process restarts is not needed.
type Memory struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewMemory creates an in-memory checkpoint store.
func NewMemory() *Memory {
	return &Memory{tokens: make(map[string]string)}
}

func (m *Memory) Token(layer string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens[layer], nil
}

func (m *Memory) Save(layer, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[layer] = token
	return nil
}

func (m *Memory) Clear(layer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, layer)
	return nil
}

func (m *Memory) Close() error { return nil }

var (
	_ Store = (*Badger)(nil)
	_ Store = (*Memory)(nil)
)
