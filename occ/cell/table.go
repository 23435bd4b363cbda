package cell

import (
	"strings"
	"time"

	"github.com/pingcap/errors"
)

// MaxCells is the number of letters available to name cells.
const MaxCells = 26

// Name returns the letter naming cell id.
func Name(id int) string {
	if id < 0 || id >= MaxCells {
		return "?"
	}
	return string(rune('A' + id))
}

// Mod returns v modulo n in [0, n).
func Mod(v, n int) int {
	m := v % n
	if m < 0 {
		m += n
	}
	return m
}

// DefaultValues returns the initial layout of an n cell table: cell i starts at n-1-i.
func DefaultValues(n int) []int {
	values := make([]int, n)
	for i := range values {
		values[i] = n - 1 - i
	}
	return values
}

// Table is the fixed set of cells shared by every transaction.
type Table struct {
	cells []*Cell
}

// NewTable creates one cell per initial value.
func NewTable(values []int, delay time.Duration) (*Table, error) {
	if len(values) == 0 || len(values) > MaxCells {
		return nil, errors.Errorf("cell count must be in [1, %d], got %d", MaxCells, len(values))
	}
	if delay < 0 {
		return nil, errors.Errorf("negative cell delay %v", delay)
	}
	t := &Table{cells: make([]*Cell, len(values))}
	for i, v := range values {
		t.cells[i] = newCell(i, v, delay)
	}
	return t, nil
}

// Len returns the number of cells.
func (t *Table) Len() int {
	return len(t.cells)
}

// Cell returns the cell with index id.
func (t *Table) Cell(id int) *Cell {
	return t.cells[id]
}

// Lookup resolves a cell letter, case-insensitively.
func (t *Table) Lookup(name string) (int, bool) {
	if len(name) != 1 {
		return 0, false
	}
	id := int(strings.ToUpper(name)[0]) - 'A'
	if id < 0 || id >= len(t.cells) {
		return 0, false
	}
	return id, true
}

// Snapshot returns every cell's value by index. Values are read one cell at a time, so the result is only a
// consistent state once no transaction is running.
func (t *Table) Snapshot() []int {
	values := make([]int, len(t.cells))
	for i, c := range t.cells {
		values[i] = c.Value()
	}
	return values
}
