package cache

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	billy "github.com/go-git/go-billy/v5"
	"github.com/goccy/go-json"
)

// ErrCorrupt is returned when a spilled batch cannot be written or read back.
var ErrCorrupt = errors.New("cache corrupt")

// Batch is one submitted unit of work: rows of a type and the parent link
// they hang off.
type Batch struct {
	Type       string `json:"type"`
	ParentLink any    `json:"parent_link,omitempty"`
	Rows       []any  `json:"rows"`
}

// Queue is a FIFO of batches.
type Queue interface {
	Push(b Batch) error
	// Pop returns the oldest batch; ok is false when the queue is empty.
	Pop() (b Batch, ok bool, err error)
	Len() int
	Close() error
}

// MemoryQueue keeps batches on the heap.
type MemoryQueue struct {
	items []Batch
	head  int
}

func (q *MemoryQueue) Push(b Batch) error {
	q.items = append(q.items, b)
	return nil
}

func (q *MemoryQueue) Pop() (Batch, bool, error) {
	if q.head >= len(q.items) {
		return Batch{}, false, nil
	}
	b := q.items[q.head]
	q.items[q.head] = Batch{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return b, true, nil
}

func (q *MemoryQueue) Len() int { return len(q.items) - q.head }

func (q *MemoryQueue) Close() error {
	q.items, q.head = nil, 0
	return nil
}

// SpillQueue appends batches as JSON lines to a temporary file and reads
// them back in order. Numbers are decoded as json.Number so values survive
// the round trip unchanged.
type SpillQueue struct {
	fs       billy.Filesystem
	file     billy.File
	writeOff int64
	readOff  int64
	pending  int
}

// NewSpillQueue creates the backing temp file in fs.
func NewSpillQueue(fs billy.Filesystem) (*SpillQueue, error) {
	f, err := fs.TempFile("", "jsontab-cache-")
	if err != nil {
		return nil, fmt.Errorf("create spill file: %w", err)
	}
	return &SpillQueue{fs: fs, file: f}, nil
}

// Name returns the path of the backing file.
func (q *SpillQueue) Name() string { return q.file.Name() }

func (q *SpillQueue) Push(b Batch) error {
	line, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("%w: encode batch: %v", ErrCorrupt, err)
	}
	line = append(line, '\n')
	n, err := q.file.Write(line)
	q.writeOff += int64(n)
	if err != nil {
		return fmt.Errorf("%w: write spill file: %v", ErrCorrupt, err)
	}
	q.pending++
	return nil
}

func (q *SpillQueue) Pop() (Batch, bool, error) {
	if q.pending == 0 {
		return Batch{}, false, nil
	}
	r := bufio.NewReader(io.NewSectionReader(q.file, q.readOff, q.writeOff-q.readOff))
	line, err := r.ReadBytes('\n')
	if err != nil {
		return Batch{}, false, fmt.Errorf("%w: read spill file: %v", ErrCorrupt, err)
	}
	q.readOff += int64(len(line))
	q.pending--

	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var b Batch
	if err := dec.Decode(&b); err != nil {
		return Batch{}, false, fmt.Errorf("%w: decode batch: %v", ErrCorrupt, err)
	}
	return b, true, nil
}

func (q *SpillQueue) Len() int { return q.pending }

// Close removes the backing file.
func (q *SpillQueue) Close() error {
	name := q.file.Name()
	if err := q.file.Close(); err != nil {
		return err
	}
	return q.fs.Remove(name)
}
