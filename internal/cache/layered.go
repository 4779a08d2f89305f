package cache

import (
	"errors"
	"time"
)

// Tiered puts a process-local Memory in front of a DiskCache shared across
// runs. The disk tier is authoritative: it is written first, and a response
// only counts as stored once it is on disk.
type Tiered struct {
	front    *Memory
	back     *DiskCache
	frontTTL time.Duration
}

// NewTiered creates a tiered cache over the disk cache rooted at dir
func NewTiered(frontTTL time.Duration, dir string, backTTL time.Duration) *Tiered {
	return &Tiered{
		front:    NewMemory(frontTTL),
		back:     NewDiskCache(dir, backTTL),
		frontTTL: frontTTL,
	}
}

// Get serves from memory when it can. Disk hits are copied into memory so
// later batches of the same run skip the file read.
func (t *Tiered) Get(key string) ([]byte, bool) {
	if data, ok := t.front.Get(key); ok {
		return data, true
	}
	data, ok := t.back.Get(key)
	if !ok {
		return nil, false
	}
	_ = t.front.Set(key, data, t.frontTTL)
	return data, true
}

// Set stores value on disk with ttl and in memory for at most the memory TTL
func (t *Tiered) Set(key string, value []byte, ttl time.Duration) error {
	if err := t.back.Set(key, value, ttl); err != nil {
		return err
	}
	return t.front.Set(key, value, t.memoryTTL(ttl))
}

func (t *Tiered) memoryTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return t.frontTTL
	}
	if t.frontTTL > 0 && ttl > t.frontTTL {
		return t.frontTTL
	}
	return ttl
}

func (t *Tiered) Delete(key string) error {
	return errors.Join(t.front.Delete(key), t.back.Delete(key))
}

func (t *Tiered) Clear() error {
	return errors.Join(t.front.Clear(), t.back.Clear())
}
