package publish

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Store implements FeatureService on BadgerDB, giving the pipeline a durable
// local feature cache (offline development, or a staging copy of remote
// layers).
//
// Replace atomicity uses a generation pointer: new contents are written
// under the next generation's key prefix (invisible to readers), then a
// single transaction flips the pointer. Stale generations are cleaned up
// afterwards, best effort.
type Store struct {
	db *badger.DB
}

// StoreConfig holds BadgerDB configuration.
type StoreConfig struct {
	// Path to the database files
	Path string

	// InMemory mode (for testing)
	InMemory bool
}

// NewStore opens a Badger-backed feature store.
func NewStore(cfg StoreConfig) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithLogger(nil)

	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close shuts the store down cleanly.
func (s *Store) Close() error { return s.db.Close() }

// RunGC runs one round of value log garbage collection. Badger returns an
// error when no rewrite was needed; callers treat that as a no-op.
func (s *Store) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Key layout:
//
//	meta!<layer>!gen        -> current generation (uvarint)
//	meta!<layer>!schema     -> attribute key set (JSON)
//	feat!<layer>!<gen>!<id> -> Feature (JSON)
func genKey(layer string) []byte    { return []byte("meta!" + layer + "!gen") }
func schemaKey(layer string) []byte { return []byte("meta!" + layer + "!schema") }

func featPrefix(layer string, gen uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], gen)
	return append([]byte("feat!"+layer+"!"), append(buf[:n], '!')...)
}

func featKey(layer string, gen uint64, id string) []byte {
	return append(featPrefix(layer, gen), []byte(id)...)
}

// TruncateAndLoad atomically replaces the layer's contents.
func (s *Store) TruncateAndLoad(ctx context.Context, layer string, features []Feature) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := validLayer(layer); err != nil {
		return 0, err
	}

	current, err := s.generation(layer)
	if err != nil {
		return 0, err
	}

	schema := attributeSchema(features)
	if current > 0 {
		existing, err := s.schema(layer)
		if err != nil {
			return 0, err
		}
		if len(existing) > 0 && len(features) > 0 && !schemaEqual(existing, schema) {
			return 0, fmt.Errorf("layer %q: %w", layer, ErrSchemaMismatch)
		}
	}

	// Stage under the next generation; readers still resolve the old one.
	staged := current + 1
	batch := s.db.NewWriteBatch()
	defer batch.Cancel()
	for _, f := range features {
		if f.ID == "" {
			return 0, fmt.Errorf("layer %q: feature has empty identifier", layer)
		}
		raw, err := json.Marshal(f)
		if err != nil {
			return 0, fmt.Errorf("failed to encode feature %q: %w", f.ID, err)
		}
		if err := batch.Set(featKey(layer, staged, f.ID), raw); err != nil {
			return 0, fmt.Errorf("failed to stage feature %q: %w", f.ID, err)
		}
	}
	if err := batch.Flush(); err != nil {
		return 0, fmt.Errorf("failed to stage layer %q: %w", layer, err)
	}

	// Swap: one transaction flips the generation pointer and schema.
	err = s.db.Update(func(txn *badger.Txn) error {
		var buf [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(buf[:], staged)
		if err := txn.Set(genKey(layer), buf[:n]); err != nil {
			return err
		}
		rawSchema, err := json.Marshal(schema)
		if err != nil {
			return err
		}
		return txn.Set(schemaKey(layer), rawSchema)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to commit layer %q: %w", layer, err)
	}

	// Old generation is now unreachable; drop it in the background path.
	if current > 0 {
		if err := s.db.DropPrefix(featPrefix(layer, current)); err != nil {
			// Leaked stale keys cost disk, not correctness.
			return len(features), nil
		}
	}

	return len(features), nil
}

// Append adds features to the layer's current generation.
func (s *Store) Append(ctx context.Context, layer string, features []Feature) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	gen, err := s.generation(layer)
	if err != nil {
		return 0, err
	}
	if gen == 0 {
		// First write to the layer establishes generation 1 and its schema.
		if _, err := s.TruncateAndLoad(ctx, layer, features); err != nil {
			return 0, err
		}
		return len(features), nil
	}

	existing, err := s.schema(layer)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 && len(features) > 0 && !schemaEqual(existing, attributeSchema(features)) {
		return 0, fmt.Errorf("layer %q: %w", layer, ErrSchemaMismatch)
	}

	batch := s.db.NewWriteBatch()
	defer batch.Cancel()
	for _, f := range features {
		raw, err := json.Marshal(f)
		if err != nil {
			return 0, fmt.Errorf("failed to encode feature %q: %w", f.ID, err)
		}
		if err := batch.Set(featKey(layer, gen, f.ID), raw); err != nil {
			return 0, fmt.Errorf("failed to append feature %q: %w", f.ID, err)
		}
	}
	if err := batch.Flush(); err != nil {
		return 0, fmt.Errorf("failed to append to layer %q: %w", layer, err)
	}
	return len(features), nil
}

// ExistingIDs returns the identifiers in the layer's current generation.
func (s *Store) ExistingIDs(ctx context.Context, layer string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	gen, err := s.generation(layer)
	if err != nil {
		return nil, err
	}
	if gen == 0 {
		return nil, nil
	}

	prefix := featPrefix(layer, gen)
	var ids []string
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			ids = append(ids, string(key[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list layer %q: %w", layer, err)
	}
	return ids, nil
}

// Features returns the layer's visible contents, in key order.
func (s *Store) Features(ctx context.Context, layer string) ([]Feature, error) {
	gen, err := s.generation(layer)
	if err != nil {
		return nil, err
	}
	if gen == 0 {
		return nil, nil
	}

	prefix := featPrefix(layer, gen)
	var features []Feature
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var f Feature
				if err := json.Unmarshal(val, &f); err != nil {
					return err
				}
				features = append(features, f)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read layer %q: %w", layer, err)
	}
	return features, nil
}

func (s *Store) generation(layer string) (uint64, error) {
	var gen uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(genKey(layer))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			g, n := binary.Uvarint(val)
			if n <= 0 {
				return fmt.Errorf("corrupt generation pointer for layer %q", layer)
			}
			gen = g
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read generation for layer %q: %w", layer, err)
	}
	return gen, nil
}

func (s *Store) schema(layer string) ([]string, error) {
	var schema []string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(schemaKey(layer))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &schema)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read schema for layer %q: %w", layer, err)
	}
	return schema, nil
}

// validLayer rejects layer names that would collide with the key layout.
func validLayer(layer string) error {
	if layer == "" || strings.Contains(layer, "!") {
		return fmt.Errorf("invalid layer name %q", layer)
	}
	return nil
}
