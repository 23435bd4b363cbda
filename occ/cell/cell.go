package cell

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Owner identifies the execution context that holds a cell. Every transaction run gets its own owner; zero is
// reserved for "nobody".
type Owner uint64

var owners atomic.Uint64

// NewOwner returns a non-zero owner that no other caller in the process has been given.
func NewOwner() Owner {
	return Owner(owners.Inc())
}

// Cell is a single named integer register guarded by a readers-xor-writer state machine. Any number of owners may
// read it, or exactly one may write it. A writer may also be the only reader, which is how a transaction that both
// reads and writes a cell upgrades its access.
//
// Every operation sleeps for the table's delay before taking effect, to make interleavings observable.
type Cell struct {
	id    int
	delay time.Duration

	mu      sync.Mutex
	value   int
	writer  Owner
	readers map[Owner]struct{}
}

func newCell(id, value int, delay time.Duration) *Cell {
	return &Cell{
		id:      id,
		delay:   delay,
		value:   value,
		readers: make(map[Owner]struct{}),
	}
}

// ID returns the cell's index in its table.
func (c *Cell) ID() int {
	return c.id
}

// Name returns the cell's letter.
func (c *Cell) Name() string {
	return Name(c.id)
}

func (c *Cell) sleep() {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
}

func (c *Cell) reading(owner Owner) bool {
	_, ok := c.readers[owner]
	return ok
}

func (c *Cell) checkOwner(owner Owner, op Op) {
	if owner == 0 {
		usageFault(c.id, owner, op, "zero owner")
	}
}

// Peek returns the current value without taking any access. The owner must not hold the cell: all peeks of an
// attempt happen before it opens anything. The value may be stale by the time the caller uses it.
func (c *Cell) Peek(owner Owner) int {
	c.sleep()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkOwner(owner, OpPeek)
	if c.writer == owner || c.reading(owner) {
		usageFault(c.id, owner, OpPeek, "peek while holding the cell")
	}
	return c.value
}

// Open acquires read or write access for owner.
func (c *Cell) Open(owner Owner, forWrite bool) error {
	c.sleep()
	c.mu.Lock()
	defer c.mu.Unlock()
	if forWrite {
		c.checkOwner(owner, OpOpenWrite)
		if c.writer == owner {
			usageFault(c.id, owner, OpOpenWrite, "already open for write")
		}
		if c.writer != 0 {
			return &ConflictError{Cell: c.id, Owner: owner, Reason: WriterHeld}
		}
		if n := len(c.readers); n > 1 || (n == 1 && !c.reading(owner)) {
			return &ConflictError{Cell: c.id, Owner: owner, Reason: ReadersHeld}
		}
		c.writer = owner
		return nil
	}

	c.checkOwner(owner, OpOpenRead)
	if c.reading(owner) || c.writer == owner {
		usageFault(c.id, owner, OpOpenRead, "already open")
	}
	if c.writer != 0 {
		return &ConflictError{Cell: c.id, Owner: owner, Reason: WriterHeld}
	}
	c.readers[owner] = struct{}{}
	return nil
}

// Verify checks that the value still equals expected. The owner must be reading the cell.
func (c *Cell) Verify(owner Owner, expected int) error {
	c.sleep()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkOwner(owner, OpVerify)
	if !c.reading(owner) {
		usageFault(c.id, owner, OpVerify, "not open for read")
	}
	if c.value != expected {
		return &ConflictError{Cell: c.id, Owner: owner, Reason: StaleRead}
	}
	return nil
}

// Update replaces the value. The owner must hold write access.
func (c *Cell) Update(owner Owner, value int) {
	c.sleep()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkOwner(owner, OpUpdate)
	if c.writer != owner {
		usageFault(c.id, owner, OpUpdate, "not open for write")
	}
	c.value = value
}

// Close releases whatever access owner holds.
func (c *Cell) Close(owner Owner) {
	c.sleep()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkOwner(owner, OpClose)
	if c.writer != owner && !c.reading(owner) {
		usageFault(c.id, owner, OpClose, "not open")
	}
	if c.writer == owner {
		c.writer = 0
	}
	delete(c.readers, owner)
}

// Value returns the current value for reporting. It takes no access and does not sleep.
func (c *Cell) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Holders returns the current writer (zero if none) and the number of readers.
func (c *Cell) Holders() (Owner, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writer, len(c.readers)
}
