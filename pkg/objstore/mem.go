package objstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Mem is an in-memory Store used by tests and local development. Values are
// copied on write and read so callers cannot alias the stored bytes.
type Mem struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte

	// Operation counters, readable via Metrics.
	mPuts    atomic.Uint64
	mGets    atomic.Uint64
	mExists  atomic.Uint64
	mDeletes atomic.Uint64
}

// MemMetrics is a snapshot of operation counts.
type MemMetrics struct {
	Puts    uint64
	Gets    uint64
	Exists  uint64
	Deletes uint64
}

// NewMem constructs an empty in-memory store.
func NewMem() *Mem {
	return &Mem{buckets: make(map[string]map[string][]byte)}
}

func (m *Mem) Put(ctx context.Context, bucket, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mPuts.Add(1)
	cp := make([]byte, len(body))
	copy(cp, body)
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[bucket]
	if !ok {
		b = make(map[string][]byte)
		m.buckets[bucket] = b
	}
	b[key] = cp
	return nil
}

func (m *Mem) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mGets.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.buckets[bucket][key]
	if !ok {
		return nil, &TransferError{Op: "get", Bucket: bucket, Key: key, Err: fmt.Errorf("no such key")}
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *Mem) Exists(ctx context.Context, bucket, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mExists.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.buckets[bucket][key]
	return ok, nil
}

func (m *Mem) Delete(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mDeletes.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets[bucket], key)
	return nil
}

// Keys lists the keys present in bucket, sorted.
func (m *Mem) Keys(bucket string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.buckets[bucket]))
	for k := range m.buckets[bucket] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Metrics returns the operation counters.
func (m *Mem) Metrics() MemMetrics {
	return MemMetrics{
		Puts:    m.mPuts.Load(),
		Gets:    m.mGets.Load(),
		Exists:  m.mExists.Load(),
		Deletes: m.mDeletes.Load(),
	}
}
