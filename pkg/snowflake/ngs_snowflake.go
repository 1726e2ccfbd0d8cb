// Package snowflake generates time-sortable 64-bit IDs without
// coordination: 41 bits of milliseconds since a fixed epoch, 10 bits of
// worker ID, 12 bits of per-millisecond sequence.
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	// Epoch: 2024-01-01 00:00:00 UTC
	epoch int64 = 1704067200000

	workerIDBits = 10
	sequenceBits = 12

	maxWorkerID = (1 << workerIDBits) - 1
	maxSequence = (1 << sequenceBits) - 1

	timestampShift = workerIDBits + sequenceBits
	workerIDShift  = sequenceBits
)

var (
	ErrInvalidWorkerID = errors.New("worker ID must be between 0 and 1023")
	ErrClockMovedBack  = errors.New("clock moved backwards")
)

// Generator produces unique snowflake IDs for one worker.
type Generator struct {
	mu       sync.Mutex
	workerID int64
	sequence int64
	lastTime int64
}

// NewGenerator creates a generator; workerID must be in [0, 1023].
func NewGenerator(workerID int64) (*Generator, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, ErrInvalidWorkerID
	}
	return &Generator{workerID: workerID}, nil
}

// Generate returns the next unique ID.
func (g *Generator) Generate() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < g.lastTime {
		return 0, ErrClockMovedBack
	}

	if now == g.lastTime {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// Sequence exhausted for this millisecond.
			for now <= g.lastTime {
				time.Sleep(100 * time.Microsecond)
				now = time.Now().UnixMilli()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTime = now

	id := ((now - epoch) << timestampShift) |
		(g.workerID << workerIDShift) |
		g.sequence
	return id, nil
}

// MustGenerate panics on error.
func (g *Generator) MustGenerate() int64 {
	id, err := g.Generate()
	if err != nil {
		panic(err)
	}
	return id
}

// Parse splits an ID into its components.
func Parse(id int64) (timestamp time.Time, workerID int64, sequence int64) {
	timestamp = time.UnixMilli((id >> timestampShift) + epoch)
	workerID = (id >> workerIDShift) & maxWorkerID
	sequence = id & maxSequence
	return
}

var (
	globalGen  *Generator
	globalOnce sync.Once
	globalErr  error
)

// Init sets up the process-wide generator. Call once at startup.
func Init(workerID int64) error {
	globalOnce.Do(func() {
		globalGen, globalErr = NewGenerator(workerID)
	})
	return globalErr
}

// ID generates an ID from the process-wide generator.
func ID() int64 {
	if globalGen == nil {
		panic("snowflake: Init not called")
	}
	return globalGen.MustGenerate()
}

// TryID generates an ID when Init has been called, and reports whether
// one was produced.
func TryID() (int64, bool) {
	if globalGen == nil {
		return 0, false
	}
	id, err := globalGen.Generate()
	if err != nil {
		return 0, false
	}
	return id, true
}
