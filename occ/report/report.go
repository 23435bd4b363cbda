package report

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/montanaflynn/stats"
	"github.com/pingcap-incubator/tinyocc/occ/cell"
	"github.com/pingcap-incubator/tinyocc/occ/txn"
)

// Dump prints every cell with its index, name, value and value modulo the table size.
func Dump(w io.Writer, values []int) {
	fmt.Fprintln(w, "final values:")
	for i, v := range values {
		fmt.Fprintf(w, "    %02d %s: %11d (%02d)\n", i, cell.Name(i), v, cell.Mod(v, len(values)))
	}
}

// PrintResult prints the one-line outcome of a transaction.
func PrintResult(w io.Writer, res *txn.Result) {
	switch res.Status {
	case txn.StatusCommitted:
		fmt.Fprintf(w, "Commit: %s\n", res.Text)
	case txn.StatusInvalid:
		fmt.Fprintf(w, "Invalid: %s (%v)\n", res.Text, res.Err)
	default:
		fmt.Fprintf(w, "Canceled: %s\n", res.Text)
	}
}

// Summary aggregates a batch of transaction results.
type Summary struct {
	Total     int
	Committed int
	Invalid   int
	Canceled  int
	Conflicts int
	Backoff   time.Duration
	Elapsed   time.Duration

	// Attempt statistics over committed transactions.
	AttemptsMean   float64
	AttemptsMedian float64
	AttemptsP99    float64
	AttemptsMax    int
}

// Summarize folds results into a Summary.
func Summarize(results []*txn.Result, elapsed time.Duration) Summary {
	s := Summary{Total: len(results), Elapsed: elapsed}
	var attempts stats.Float64Data
	for _, res := range results {
		s.Conflicts += res.Conflicts
		s.Backoff += res.Backoff
		switch res.Status {
		case txn.StatusCommitted:
			s.Committed++
			attempts = append(attempts, float64(res.Attempts))
			if res.Attempts > s.AttemptsMax {
				s.AttemptsMax = res.Attempts
			}
		case txn.StatusInvalid:
			s.Invalid++
		default:
			s.Canceled++
		}
	}
	if len(attempts) > 0 {
		s.AttemptsMean, _ = stats.Mean(attempts)
		s.AttemptsMedian, _ = stats.Median(attempts)
		s.AttemptsP99, _ = stats.Percentile(attempts, 99)
	}
	return s
}

// PrintSummary prints s in a few human readable lines.
func PrintSummary(w io.Writer, s Summary) {
	fmt.Fprintf(w, "transactions: %d committed, %d invalid, %d canceled of %d\n",
		s.Committed, s.Invalid, s.Canceled, s.Total)
	fmt.Fprintf(w, "conflicts: %d, backoff: %v\n", s.Conflicts, s.Backoff)
	if s.Committed > 0 {
		fmt.Fprintf(w, "attempts: mean %.2f, median %.1f, p99 %.1f, max %d\n",
			s.AttemptsMean, s.AttemptsMedian, s.AttemptsP99, s.AttemptsMax)
	}
	fmt.Fprintf(w, "elapsed: %s (%v)\n", units.HumanDuration(s.Elapsed), s.Elapsed)
}

// Collector gathers results from concurrent workers.
type Collector struct {
	mu      sync.Mutex
	results []*txn.Result
}

func (c *Collector) Add(res *txn.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, res)
}

// Results returns a copy of the gathered results in arrival order.
func (c *Collector) Results() []*txn.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*txn.Result(nil), c.results...)
}
