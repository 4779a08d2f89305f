package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// minSweep is the shortest interval between expired-entry sweeps
const minSweep = time.Minute

// Memory keeps scoring responses for the life of the process. Values are
// copied in and out so a caller decoding a response in place cannot alter
// what the next batch with the same key reads.
type Memory struct {
	entries *gocache.Cache
}

// NewMemory creates a memory cache. Entries stored with ttl <= 0 live for
// defaultTTL; a defaultTTL <= 0 keeps them until deleted.
func NewMemory(defaultTTL time.Duration) *Memory {
	expiry, sweep := defaultTTL, 2*defaultTTL
	if expiry <= 0 {
		expiry, sweep = gocache.NoExpiration, 0
	} else if sweep < minSweep {
		sweep = minSweep
	}
	return &Memory{entries: gocache.New(expiry, sweep)}
}

func (m *Memory) Get(key string) ([]byte, bool) {
	raw, found := m.entries.Get(key)
	if !found {
		return nil, false
	}
	data, ok := raw.([]byte)
	if !ok {
		return nil, false
	}
	return clone(data), true
}

func (m *Memory) Set(key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.entries.Set(key, clone(value), ttl)
	return nil
}

func (m *Memory) Delete(key string) error {
	m.entries.Delete(key)
	return nil
}

func (m *Memory) Clear() error {
	m.entries.Flush()
	return nil
}

// Len counts stored responses, expired ones included until the next sweep
func (m *Memory) Len() int {
	return m.entries.ItemCount()
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
