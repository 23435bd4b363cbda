package txn

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pingcap-incubator/tinyocc/occ/cell"
	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(table *cell.Table) *Executor {
	return NewExecutor(table, WithBackOff(NewLinearBackOff(2*time.Millisecond, true)))
}

func TestExecuteScenarios(t *testing.T) {
	table := newTestTable(t, 5, 10)
	exec := newTestExecutor(table)

	res := exec.Execute(context.Background(), "A = B + 3")
	assert.Equal(t, StatusCommitted, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 0, res.Conflicts)
	assert.Equal(t, map[int]int{0: 13}, res.Writes)
	assert.Equal(t, []int{13, 10}, table.Snapshot())

	res = exec.Execute(context.Background(), "A B = 3")
	assert.Equal(t, StatusInvalid, res.Status)
	_, ok := res.Err.(*ParseError)
	assert.True(t, ok)
	assert.Equal(t, []int{13, 10}, table.Snapshot())
	assertFree(t, table)
}

func TestExecuteDereference(t *testing.T) {
	table := newTestTable(t, 1, 7, 0)
	exec := newTestExecutor(table)

	res := exec.Execute(context.Background(), "A = A* ")
	require.Equal(t, StatusCommitted, res.Status)
	assert.Equal(t, []int{7, 7, 0}, table.Snapshot())
	assertFree(t, table)
}

func TestExecuteReadAfterWrite(t *testing.T) {
	table := newTestTable(t, 1, 2)
	exec := newTestExecutor(table)

	res := exec.Execute(context.Background(), "A = A + 1; A = A + 1; B = A")
	require.Equal(t, StatusCommitted, res.Status)
	assert.Equal(t, []int{3, 3}, table.Snapshot())
	assertFree(t, table)
}

func TestExecuteOwnersAreUnique(t *testing.T) {
	table := newTestTable(t, 1)
	exec := newTestExecutor(table)
	first := exec.Execute(context.Background(), "A = 1")
	second := exec.Execute(context.Background(), "A = 2")
	assert.NotEqual(t, first.Owner, second.Owner)
	assert.NotEqual(t, cell.Owner(0), first.Owner)
}

func TestExecutorsShareOneTable(t *testing.T) {
	table, err := cell.NewTable([]int{0, 0}, time.Millisecond)
	require.NoError(t, err)
	execs := []*Executor{newTestExecutor(table), newTestExecutor(table)}

	const perExecutor = 6
	results := make([]*Result, 0, 2*perExecutor)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, exec := range execs {
		for i := 0; i < perExecutor; i++ {
			wg.Add(1)
			go func(exec *Executor) {
				defer wg.Done()
				res := exec.Execute(context.Background(), "A = A + 1; B = A")
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}(exec)
		}
	}
	wg.Wait()

	seen := make(map[cell.Owner]bool)
	for _, res := range results {
		require.Equal(t, StatusCommitted, res.Status, res.Text)
		assert.False(t, seen[res.Owner], "owner %d handed out twice", res.Owner)
		seen[res.Owner] = true
	}
	assert.Equal(t, []int{2 * perExecutor, 2 * perExecutor}, table.Snapshot())
	assertFree(t, table)
}

// holdingBackOff releases a foreign write hold on a cell after the release-th conflict.
type holdingBackOff struct {
	cell    *cell.Cell
	holder  cell.Owner
	release int
	base    time.Duration

	n int
}

func (b *holdingBackOff) Reset() {
	b.n = 0
}

func (b *holdingBackOff) NextBackOff() time.Duration {
	b.n++
	if b.n == b.release {
		b.cell.Close(b.holder)
	}
	return b.base * time.Duration(b.n)
}

// cancelingBackOff cancels the run's context when asked for its first wait.
type cancelingBackOff struct {
	cancel context.CancelFunc
}

func (b *cancelingBackOff) Reset() {}

func (b *cancelingBackOff) NextBackOff() time.Duration {
	b.cancel()
	return time.Hour
}

func fixed(b backoff.BackOff) NewBackOffFunc {
	return func() backoff.BackOff {
		return b
	}
}

func runWithConflicts(t *testing.T, k int) *Result {
	table := newTestTable(t, 1, 2)
	holder := cell.Owner(1 << 40)
	require.NoError(t, table.Cell(0).Open(holder, true))
	exec := NewExecutor(table, WithBackOff(fixed(&holdingBackOff{
		cell:    table.Cell(0),
		holder:  holder,
		release: k,
		base:    time.Millisecond,
	})))
	res := exec.Execute(context.Background(), "A = B + 1")
	require.Equal(t, StatusCommitted, res.Status)
	assert.Equal(t, k, res.Conflicts)
	assert.Equal(t, k+1, res.Attempts)
	assert.Equal(t, []int{3, 2}, table.Snapshot())
	assertFree(t, table)
	return res
}

func TestExecuteRetriesOnConflict(t *testing.T) {
	res := runWithConflicts(t, 1)
	assert.Equal(t, time.Millisecond, res.Backoff)
}

func TestBackoffGrowsWithConflicts(t *testing.T) {
	prev := time.Duration(0)
	for k := 1; k <= 4; k++ {
		res := runWithConflicts(t, k)
		assert.True(t, res.Backoff > prev, "k=%d backoff %v not above %v", k, res.Backoff, prev)
		prev = res.Backoff
	}
}

func TestLinearBackOff(t *testing.T) {
	b := NewLinearBackOff(10*time.Millisecond, false)()
	b.Reset()
	assert.Equal(t, 10*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 20*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 30*time.Millisecond, b.NextBackOff())
	b.Reset()
	assert.Equal(t, 10*time.Millisecond, b.NextBackOff())

	jittered := NewLinearBackOff(10*time.Millisecond, true)()
	jittered.Reset()
	prev := time.Duration(0)
	for n := 1; n < 10; n++ {
		d := jittered.NextBackOff()
		low := 10 * time.Millisecond * time.Duration(n)
		assert.True(t, d >= low && d < low+10*time.Millisecond, "n=%d: %v", n, d)
		assert.True(t, d > prev)
		prev = d
	}
}

func TestExecuteCanceledWhileBackingOff(t *testing.T) {
	table := newTestTable(t, 1)
	holder := cell.Owner(1 << 40)
	require.NoError(t, table.Cell(0).Open(holder, true))

	ctx, cancel := context.WithCancel(context.Background())
	exec := NewExecutor(table, WithBackOff(fixed(&cancelingBackOff{cancel: cancel})))
	res := exec.Execute(ctx, "A = A + 1")
	assert.Equal(t, StatusCanceled, res.Status)
	assert.Equal(t, 1, res.Conflicts)
	assert.Equal(t, context.Canceled, errors.Cause(res.Err))

	table.Cell(0).Close(holder)
	assert.Equal(t, []int{1}, table.Snapshot())
	assertFree(t, table)
}

func TestExecuteCanceledBeforeStart(t *testing.T) {
	table := newTestTable(t, 1)
	exec := newTestExecutor(table)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := exec.Execute(ctx, "A = 5")
	assert.Equal(t, StatusCanceled, res.Status)
	assert.Equal(t, 0, res.Attempts)
	assert.Equal(t, []int{1}, table.Snapshot())
}

func runConcurrently(exec *Executor, texts []string) []*Result {
	results := make([]*Result, len(texts))
	var wg sync.WaitGroup
	for i, text := range texts {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			results[i] = exec.Execute(context.Background(), text)
		}(i, text)
	}
	wg.Wait()
	return results
}

func TestDisjointTransactionsMatchSequential(t *testing.T) {
	values := []int{1, 2, 3, 4, 5, 6}
	texts := []string{"A = B + 10; B = 0", "D = E + F; E = 1"}

	sequential := newTestTable(t, values...)
	exec := newTestExecutor(sequential)
	for _, text := range texts {
		require.Equal(t, StatusCommitted, exec.Execute(context.Background(), text).Status)
	}

	concurrent, err := cell.NewTable(values, time.Millisecond)
	require.NoError(t, err)
	for _, res := range runConcurrently(newTestExecutor(concurrent), texts) {
		require.Equal(t, StatusCommitted, res.Status)
		assert.Equal(t, 0, res.Conflicts, "disjoint transactions must not conflict: %s", res.Text)
	}
	assert.Equal(t, sequential.Snapshot(), concurrent.Snapshot())
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	table, err := cell.NewTable([]int{0, 0}, time.Millisecond)
	require.NoError(t, err)
	exec := newTestExecutor(table)

	texts := make([]string, 8)
	for i := range texts {
		texts[i] = "A = A + 1; B = B + 2"
	}
	conflicts := 0
	for _, res := range runConcurrently(exec, texts) {
		require.Equal(t, StatusCommitted, res.Status)
		conflicts += res.Conflicts
	}
	assert.Equal(t, []int{8, 16}, table.Snapshot())
	assert.True(t, conflicts > 0, "eight writers of one cell with a delay must collide")
	assertFree(t, table)
}

func TestOverlappingTransactionsQuiesce(t *testing.T) {
	table, err := cell.NewTable(cell.DefaultValues(6), time.Millisecond)
	require.NoError(t, err)
	exec := newTestExecutor(table)

	// Every transaction references its cells in a different order; acquisition is still canonical.
	var texts []string
	for i := 0; i < 12; i++ {
		a, b, c := cell.Name(i%6), cell.Name((i+1)%6), cell.Name((i+2)%6)
		texts = append(texts, fmt.Sprintf("%s = %s + 1; %s = %s - 1; %s = %s", c, b, a, c, b, a))
	}

	done := make(chan []*Result, 1)
	go func() {
		done <- runConcurrently(exec, texts)
	}()
	select {
	case results := <-done:
		for _, res := range results {
			assert.Equal(t, StatusCommitted, res.Status, res.Text)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("transactions did not quiesce")
	}
	assertFree(t, table)
}

func TestExecuteRetriesStaleRead(t *testing.T) {
	table := newTestTable(t, 1, 0)
	exec := newTestExecutor(table)

	require.NoError(t, failpoint.Enable(fpStagedDelay, "return(200)"))
	done := make(chan *Result, 1)
	go func() {
		done <- exec.Execute(context.Background(), "B = A + 1")
	}()
	// The first attempt has staged A=1 and is paused before opening any cell.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, failpoint.Disable(fpStagedDelay))

	require.Equal(t, StatusCommitted, exec.Execute(context.Background(), "A = 5").Status)
	res := <-done
	require.Equal(t, StatusCommitted, res.Status)
	assert.True(t, res.Conflicts >= 1, "stale read of A was not detected")
	assert.Equal(t, []int{5, 6}, table.Snapshot())
	assertFree(t, table)
}

func TestExecuteWriterWaitsForReaders(t *testing.T) {
	table := newTestTable(t, 1, 0)
	exec := newTestExecutor(table)

	require.NoError(t, failpoint.Enable(fpCommitDelay, "return(100)"))
	done := make(chan *Result, 1)
	go func() {
		done <- exec.Execute(context.Background(), "B = A + 1")
	}()
	// Wait until the first attempt holds A for reading and is paused before its writes.
	for deadline := time.Now().Add(5 * time.Second); ; time.Sleep(time.Millisecond) {
		if _, readers := table.Cell(0).Holders(); readers == 1 {
			break
		}
		require.True(t, time.Now().Before(deadline), "reader never opened A")
	}
	require.NoError(t, failpoint.Disable(fpCommitDelay))

	res := exec.Execute(context.Background(), "A = 5")
	require.Equal(t, StatusCommitted, res.Status)
	assert.True(t, res.Conflicts >= 1, "write of A ignored a reader")
	reader := <-done
	require.Equal(t, StatusCommitted, reader.Status)
	assert.Equal(t, 0, reader.Conflicts)
	assert.Equal(t, []int{5, 2}, table.Snapshot())
	assertFree(t, table)
}
