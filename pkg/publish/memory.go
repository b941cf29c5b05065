package publish

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory stores layers in memory. Contents are lost on restart; useful for
// testing and development.
type Memory struct {
	mu     sync.RWMutex
	layers map[string]*memoryLayer

	// failAfter injects a staging failure after N features for a layer,
	// for exercising replace atomicity in tests.
	failAfter map[string]int
}

type memoryLayer struct {
	features []Feature
	schema   []string
}

// NewMemory creates an in-memory feature service.
func NewMemory() *Memory {
	return &Memory{
		layers:    make(map[string]*memoryLayer),
		failAfter: make(map[string]int),
	}
}

// TruncateAndLoad replaces the layer's contents. The new feature list is
// fully staged and validated before the visible slice is swapped, so a
// failure partway leaves the prior contents untouched.
func (m *Memory) TruncateAndLoad(ctx context.Context, layer string, features []Feature) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	schema := attributeSchema(features)
	m.mu.RLock()
	existing, exists := m.layers[layer]
	limit, hasLimit := m.failAfter[layer]
	m.mu.RUnlock()

	if exists && len(existing.features) > 0 && !schemaEqual(existing.schema, schema) {
		return 0, fmt.Errorf("layer %q: %w", layer, ErrSchemaMismatch)
	}

	// Stage: build the replacement off to the side.
	staged := make([]Feature, 0, len(features))
	for i, f := range features {
		if hasLimit && i >= limit {
			return 0, fmt.Errorf("layer %q: simulated write failure after %d features", layer, limit)
		}
		if f.ID == "" {
			return 0, fmt.Errorf("layer %q: feature %d has empty identifier", layer, i)
		}
		staged = append(staged, f)
	}

	// Swap: readers see either the old table or the new one, never a mix.
	m.mu.Lock()
	m.layers[layer] = &memoryLayer{features: staged, schema: schema}
	m.mu.Unlock()

	return len(staged), nil
}

// Append adds features to the layer.
func (m *Memory) Append(ctx context.Context, layer string, features []Feature) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	schema := attributeSchema(features)

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.layers[layer]
	if !ok {
		existing = &memoryLayer{schema: schema}
		m.layers[layer] = existing
	}
	if len(existing.features) > 0 && len(features) > 0 && !schemaEqual(existing.schema, schema) {
		return 0, fmt.Errorf("layer %q: %w", layer, ErrSchemaMismatch)
	}

	existing.features = append(existing.features, features...)
	return len(features), nil
}

// ExistingIDs returns the identifiers currently in the layer.
func (m *Memory) ExistingIDs(ctx context.Context, layer string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	existing, ok := m.layers[layer]
	if !ok {
		return nil, nil
	}
	ids := make([]string, 0, len(existing.features))
	for _, f := range existing.features {
		ids = append(ids, f.ID)
	}
	return ids, nil
}

// Features returns a copy of the layer's visible contents.
func (m *Memory) Features(layer string) []Feature {
	m.mu.RLock()
	defer m.mu.RUnlock()

	existing, ok := m.layers[layer]
	if !ok {
		return nil
	}
	out := make([]Feature, len(existing.features))
	copy(out, existing.features)
	return out
}

// FailAfter makes the next TruncateAndLoad for the layer fail after staging
// n features. Test hook.
func (m *Memory) FailAfter(layer string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter[layer] = n
}

// attributeSchema derives the sorted attribute key set of a feature batch.
func attributeSchema(features []Feature) []string {
	if len(features) == 0 {
		return nil
	}
	keys := make([]string, 0, len(features[0].Attributes))
	for k := range features[0].Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func schemaEqual(a, b []string) bool {
	return strings.Join(a, ",") == strings.Join(b, ",")
}
