// Package telemetry provides dashboard sinks for swerve module values.
package telemetry

import (
	"sort"
	"sync"
)

// Table keeps the latest value published under each key.
type Table struct {
	mu     sync.RWMutex
	values map[string]float64
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{values: map[string]float64{}}
}

// PutNumber stores value under key.
func (t *Table) PutNumber(key string, value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[key] = value
}

// Number returns the value stored under key.
func (t *Table) Number(key string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.values[key]
	return v, ok
}

// All returns a copy of every value.
func (t *Table) All() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]interface{}, len(t.values))
	for k, v := range t.values {
		out[k] = v
	}
	return out
}

// Keys returns the stored keys in order.
func (t *Table) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.values))
	for k := range t.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Sink receives numeric telemetry.
type Sink interface {
	PutNumber(key string, value float64)
}

// Multi publishes to every sink in order.
type Multi []Sink

// PutNumber forwards to each sink.
func (m Multi) PutNumber(key string, value float64) {
	for _, s := range m {
		s.PutNumber(key, value)
	}
}
