// Package cache buffers submitted batches between schema inference and
// flattening, spilling to a temporary file under memory pressure.
package cache

import (
	"errors"
	"math"
	"runtime"
	"runtime/debug"

	billy "github.com/go-git/go-billy/v5"
)

const (
	// DefaultCeiling is used when neither the Go runtime nor the OS report a
	// memory ceiling.
	DefaultCeiling int64 = 1 << 30

	// ceilingFraction of the ceiling may be used before spilling.
	ceilingFraction = 4
)

// Pressure reports whether memory use has reached limit bytes.
type Pressure interface {
	Exceeded(limit int64) bool
}

// PressureFunc adapts a function to Pressure.
type PressureFunc func(limit int64) bool

func (f PressureFunc) Exceeded(limit int64) bool { return f(limit) }

// HeapPressure compares the live heap against the limit.
var HeapPressure Pressure = PressureFunc(func(limit int64) bool {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc >= uint64(limit)
})

// DefaultLimit returns a quarter of the process memory ceiling: the Go
// runtime memory limit if one is set, else RLIMIT_AS, else DefaultCeiling.
func DefaultLimit() int64 {
	ceiling := DefaultCeiling
	if l := debug.SetMemoryLimit(-1); l > 0 && l != math.MaxInt64 {
		ceiling = l
	} else if l, ok := processCeiling(); ok {
		ceiling = l
	}
	return ceiling / ceilingFraction
}

// Cache is a FIFO of batches that starts on the heap and moves to a spill
// file once memory pressure crosses the limit. Spilling is sticky: after the
// first spilled batch every later batch is spilled too, which keeps the
// heap entries strictly older than the spilled ones.
type Cache struct {
	fs       billy.Filesystem
	pressure Pressure
	limit    int64

	mem   *MemoryQueue
	spill *SpillQueue
}

// Option configures a Cache.
type Option func(*Cache)

// WithPressure replaces the heap-based pressure policy.
func WithPressure(p Pressure) Option { return func(c *Cache) { c.pressure = p } }

// WithLimit sets the memory limit in bytes.
func WithLimit(limit int64) Option { return func(c *Cache) { c.limit = limit } }

// New returns a cache that spills into fs. A nil fs disables spilling.
func New(fs billy.Filesystem, opts ...Option) *Cache {
	c := &Cache{
		fs:       fs,
		pressure: HeapPressure,
		mem:      &MemoryQueue{},
	}
	for _, o := range opts {
		o(c)
	}
	if c.limit <= 0 {
		c.limit = DefaultLimit()
	}
	return c
}

// SetMemoryLimit overrides the spill threshold. Zero or less restores the
// default.
func (c *Cache) SetMemoryLimit(limit int64) {
	if limit <= 0 {
		limit = DefaultLimit()
	}
	c.limit = limit
}

// MemoryLimit returns the current spill threshold.
func (c *Cache) MemoryLimit() int64 { return c.limit }

// Spilled reports whether any batch went to the spill file.
func (c *Cache) Spilled() bool { return c.spill != nil }

// Len returns the number of buffered batches.
func (c *Cache) Len() int {
	n := c.mem.Len()
	if c.spill != nil {
		n += c.spill.Len()
	}
	return n
}

// Store appends b.
func (c *Cache) Store(b Batch) error {
	if c.spill == nil && c.fs != nil && c.pressure.Exceeded(c.limit) {
		q, err := NewSpillQueue(c.fs)
		if err != nil {
			return err
		}
		c.spill = q
	}
	if c.spill != nil {
		return c.spill.Push(b)
	}
	return c.mem.Push(b)
}

// Next returns the oldest buffered batch. ok is false once the cache is
// drained.
func (c *Cache) Next() (b Batch, ok bool, err error) {
	if b, ok, err = c.mem.Pop(); ok || err != nil {
		return b, ok, err
	}
	if c.spill != nil {
		return c.spill.Pop()
	}
	return Batch{}, false, nil
}

// Close drops buffered batches and removes the spill file.
func (c *Cache) Close() error {
	err := c.mem.Close()
	if c.spill != nil {
		err = errors.Join(err, c.spill.Close())
		c.spill = nil
	}
	return err
}
