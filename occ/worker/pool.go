package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pingcap-incubator/tinyocc/log"
	"github.com/pingcap-incubator/tinyocc/occ/metrics"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	// ErrPoolClosed is returned by Submit once the pool stops accepting tasks.
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrTimeout is returned by AwaitCompletion when the workers outlive the deadline.
	ErrTimeout = errors.New("worker pool did not finish in time")
)

type Task interface{}

type TaskHandler interface {
	// Handle runs one task. ctx is canceled when the pool gives up on its workers.
	Handle(ctx context.Context, t Task)
}

// HandlerFunc adapts a function to TaskHandler.
type HandlerFunc func(ctx context.Context, t Task)

func (f HandlerFunc) Handle(ctx context.Context, t Task) {
	f(ctx, t)
}

// FatalError records a panic raised by a task handler.
type FatalError struct {
	Pool  string
	Task  Task
	Value interface{}
	Stack []byte
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("pool %s: handler panicked on %v: %v", e.Pool, e.Task, e.Value)
}

// IsFatal reports whether err carries a handler panic.
func IsFatal(err error) bool {
	_, ok := errors.Cause(err).(*FatalError)
	return ok
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	Submitted int64  `json:"submitted"`
	Active    int64  `json:"active"`
	Completed int64  `json:"completed"`
	Pending   int    `json:"pending"`
	Closed    bool   `json:"closed"`
	Fatal     string `json:"fatal,omitempty"`
}

// Pool runs submitted tasks on a fixed number of goroutines fed by a bounded queue.
type Pool struct {
	name    string
	workers int
	handler TaskHandler
	tasks   chan Task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	mu     sync.RWMutex
	closed bool

	fatalOnce sync.Once
	fatal     error
	fatalCh   chan struct{}

	submitted atomic.Int64
	active    atomic.Int64
	completed atomic.Int64
}

// NewPool starts workers goroutines sharing a queue of queueSize pending tasks.
func NewPool(name string, workers, queueSize int, handler TaskHandler) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:    name,
		workers: workers,
		handler: handler,
		tasks:   make(chan Task, queueSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		fatalCh: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	go func() {
		p.wg.Wait()
		p.cancel()
		p.publish()
		close(p.done)
	}()
	log.Debugf("pool %s started with %d workers", name, workers)
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			if p.Err() == nil {
				p.drain()
			}
			return
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			if !p.run(t) {
				return
			}
		}
	}
}

// drain hands the tasks still queued at cancellation to the handler with the canceled context, so each of them is
// still handled once.
func (p *Pool) drain() {
	for {
		select {
		case t, ok := <-p.tasks:
			if !ok || !p.run(t) {
				return
			}
		default:
			return
		}
	}
}

// run handles t and reports false if the handler panicked.
func (p *Pool) run(t Task) (ok bool) {
	p.active.Inc()
	p.publish()
	defer func() {
		p.active.Dec()
		if r := recover(); r != nil {
			p.fail(&FatalError{Pool: p.name, Task: t, Value: r, Stack: debug.Stack()})
			ok = false
		} else {
			p.completed.Inc()
		}
		p.publish()
	}()
	p.handler.Handle(p.ctx, t)
	return true
}

func (p *Pool) fail(err *FatalError) {
	p.fatalOnce.Do(func() {
		log.L().Error("worker panicked, stopping pool",
			zap.String("pool", p.name),
			zap.Reflect("panic", err.Value),
			zap.ByteString("stack", err.Stack))
		p.fatal = err
		close(p.fatalCh)
		p.cancel()
	})
}

// Err returns the fatal error of the pool, if any handler panicked.
func (p *Pool) Err() error {
	select {
	case <-p.fatalCh:
		return p.fatal
	default:
		return nil
	}
}

// Submit queues t, blocking while the queue is full.
func (p *Pool) Submit(ctx context.Context, t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.Trace(ErrPoolClosed)
	}
	if err := p.Err(); err != nil {
		return err
	}
	select {
	case p.tasks <- t:
		p.submitted.Inc()
		p.publish()
		return nil
	case <-p.ctx.Done():
		if err := p.Err(); err != nil {
			return err
		}
		return errors.Trace(ErrPoolClosed)
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	}
}

// Shutdown stops accepting tasks. Queued tasks still run.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.tasks)
}

// AwaitCompletion waits for the workers to drain the queue after Shutdown. A handler panic ends the wait at once
// with the fatal error. When timeout passes first the pool cancels its workers' context and returns ErrTimeout
// without waiting for them further; the workers then hand every task still queued to the handler with the canceled
// context before they exit. A non-positive timeout waits forever.
func (p *Pool) AwaitCompletion(timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	select {
	case <-p.done:
		return p.Err()
	case <-p.fatalCh:
		return p.fatal
	case <-deadline:
		p.cancel()
		stats := p.Stats()
		log.Warnf("pool %s timed out after %v with %d active and %d pending tasks",
			p.name, timeout, stats.Active, stats.Pending)
		return errors.Trace(ErrTimeout)
	}
}

// Done is closed once every worker has exited.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

func (p *Pool) Stats() Stats {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	s := Stats{
		Name:      p.name,
		Workers:   p.workers,
		Submitted: p.submitted.Load(),
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Pending:   len(p.tasks),
		Closed:    closed,
	}
	if err := p.Err(); err != nil {
		s.Fatal = err.Error()
	}
	return s
}

func (p *Pool) publish() {
	metrics.SetPoolTasks(p.name, p.active.Load(), int64(len(p.tasks)))
}
