package txn

import (
	"github.com/google/btree"
	"github.com/pingcap-incubator/tinyocc/occ/cell"
)

// entry stages one cell's reads and writes for a single attempt.
type entry struct {
	cell *cell.Cell

	// initialValue is the value peeked on first reference; verify compares against it.
	initialValue int
	// workingValue is the latest value the transaction read or computed for the cell.
	workingValue int

	needsRead  bool
	needsWrite bool
	// opened is true once any underlying Open succeeded in this attempt.
	opened bool
}

// Less orders entries by cell index, which is the canonical lock order.
func (e *entry) Less(than btree.Item) bool {
	return e.cell.ID() < than.(*entry).cell.ID()
}

func (e *entry) get(owner cell.Owner) int {
	if !e.needsRead && !e.needsWrite {
		e.workingValue = e.cell.Peek(owner)
		e.initialValue = e.workingValue
		e.needsRead = true
	}
	return e.workingValue
}

func (e *entry) set(value int) {
	e.needsWrite = true
	e.workingValue = value
}

func (e *entry) open(owner cell.Owner) error {
	if e.needsRead {
		if err := e.cell.Open(owner, false); err != nil {
			return err
		}
		e.opened = true
	}
	if e.needsWrite {
		if err := e.cell.Open(owner, true); err != nil {
			return err
		}
		e.opened = true
	}
	return nil
}

func (e *entry) verify(owner cell.Owner) error {
	if e.needsRead && e.opened {
		return e.cell.Verify(owner, e.initialValue)
	}
	return nil
}

func (e *entry) commit(owner cell.Owner) {
	if e.needsWrite && e.opened {
		e.cell.Update(owner, e.workingValue)
	}
}

func (e *entry) close(owner cell.Owner) {
	if e.opened {
		e.cell.Close(owner)
	}
	e.needsRead = false
	e.needsWrite = false
	e.opened = false
}

// Cache is the per-attempt view of a table. Entries are created on first reference and kept in a btree ordered by
// cell index, so Open and Commit walk exactly the touched cells in canonical order.
type Cache struct {
	owner   cell.Owner
	table   *cell.Table
	entries []*entry
	touched *btree.BTree
}

// NewCache creates an empty cache acting on behalf of owner.
func NewCache(table *cell.Table, owner cell.Owner) *Cache {
	return &Cache{
		owner:   owner,
		table:   table,
		entries: make([]*entry, table.Len()),
		touched: btree.New(8),
	}
}

func (c *Cache) entry(id int) *entry {
	e := c.entries[id]
	if e == nil {
		e = &entry{cell: c.table.Cell(id)}
		c.entries[id] = e
		c.touched.ReplaceOrInsert(e)
	}
	return e
}

// Size returns the number of cells in the underlying table.
func (c *Cache) Size() int {
	return c.table.Len()
}

// Get returns the transaction's view of cell id, peeking the cell on first reference.
func (c *Cache) Get(id int) int {
	return c.entry(id).get(c.owner)
}

// Set stages value as the new value of cell id.
func (c *Cache) Set(id int, value int) {
	c.entry(id).set(value)
}

func (c *Cache) ascend(f func(e *entry) bool) {
	c.touched.Ascend(func(i btree.Item) bool {
		return f(i.(*entry))
	})
}

// Open opens and verifies every touched cell in ascending index order. On conflict it closes everything opened so far
// and returns the conflict; the cache must then be discarded.
func (c *Cache) Open() error {
	var err error
	c.ascend(func(e *entry) bool {
		if err = e.open(c.owner); err != nil {
			return false
		}
		err = e.verify(c.owner)
		return err == nil
	})
	if err != nil {
		c.Close()
		return err
	}
	return nil
}

// Commit writes every staged value and closes the cells, in ascending index order. Open must have succeeded.
func (c *Cache) Commit() {
	c.ascend(func(e *entry) bool {
		e.commit(c.owner)
		e.close(c.owner)
		return true
	})
}

// Close releases every opened cell and clears all flags.
func (c *Cache) Close() {
	c.ascend(func(e *entry) bool {
		e.close(c.owner)
		return true
	})
}

// Reads returns the ids of the cells the attempt peeked, in ascending order.
func (c *Cache) Reads() []int {
	var ids []int
	c.ascend(func(e *entry) bool {
		if e.needsRead {
			ids = append(ids, e.cell.ID())
		}
		return true
	})
	return ids
}

// Writes returns the staged values by cell id.
func (c *Cache) Writes() map[int]int {
	writes := make(map[int]int)
	c.ascend(func(e *entry) bool {
		if e.needsWrite {
			writes[e.cell.ID()] = e.workingValue
		}
		return true
	})
	return writes
}
