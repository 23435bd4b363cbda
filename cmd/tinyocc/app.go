package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pingcap-incubator/tinyocc/config"
	"github.com/pingcap-incubator/tinyocc/log"
	"github.com/pingcap-incubator/tinyocc/occ/cell"
	"github.com/pingcap-incubator/tinyocc/occ/input"
	"github.com/pingcap-incubator/tinyocc/occ/report"
	"github.com/pingcap-incubator/tinyocc/occ/server"
	"github.com/pingcap-incubator/tinyocc/occ/txn"
	"github.com/pingcap-incubator/tinyocc/occ/worker"
	"github.com/pingcap/errors"
)

// drainTimeout bounds the wait for workers that are finishing their last attempt after a timeout.
const drainTimeout = 5 * time.Second

type app struct {
	cfg     *config.Config
	table   *cell.Table
	exec    *txn.Executor
	results report.Collector

	outMu sync.Mutex
	out   io.Writer

	status *server.Server
}

func newApp(cfg *config.Config, out io.Writer) (*app, error) {
	table, err := cell.NewTable(cfg.Values(), cfg.Delay.Duration)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &app{
		cfg:   cfg,
		table: table,
		exec:  txn.NewExecutor(table, txn.WithBackOff(txn.NewLinearBackOff(cfg.BackoffBase.Duration, true))),
		out:   out,
	}, nil
}

// startStatus serves the status API when an address is configured. pool may be nil.
func (a *app) startStatus(pool server.StatsProvider) error {
	if a.cfg.StatusAddr == "" {
		return nil
	}
	a.status = server.New(a.cfg.StatusAddr, a.table, pool)
	return a.status.Start()
}

func (a *app) close() {
	if a.status == nil {
		return
	}
	if err := a.status.Close(); err != nil {
		log.Warnf("close status server: %v", err)
	}
}

func (a *app) printf(format string, args ...interface{}) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) print(res *txn.Result) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	report.PrintResult(a.out, res)
}

func (a *app) handle(ctx context.Context, t worker.Task) {
	res := a.exec.Execute(ctx, t.(string))
	a.results.Add(res)
	a.print(res)
}

// runBatch executes every transaction of r on the worker pool, then prints the final cells and a summary.
// It returns an error only when a worker hit a fatal fault.
func (a *app) runBatch(ctx context.Context, r io.Reader) error {
	pool := worker.NewPool("txn", a.cfg.Workers, a.cfg.QueueSize, worker.HandlerFunc(a.handle))
	if err := a.startStatus(pool); err != nil {
		return err
	}

	start := time.Now()
	n, feedErr := input.Feed(ctx, r, func(ctx context.Context, text string) error {
		return pool.Submit(ctx, text)
	}, input.WithRate(a.cfg.SubmitRate, a.cfg.Workers))
	pool.Shutdown()
	log.Infof("submitted %d transactions to %d workers", n, a.cfg.Workers)

	err := pool.AwaitCompletion(a.cfg.Timeout.Duration)
	if worker.IsFatal(err) {
		return err
	}
	if feedErr != nil {
		log.Warnf("stopped reading transactions: %v", feedErr)
	}
	if err != nil {
		log.Warnf("batch did not finish within %v: %v", a.cfg.Timeout.Duration, err)
		select {
		case <-pool.Done():
		case <-time.After(drainTimeout):
			log.Warnf("workers still running after %v, reporting what has committed", drainTimeout)
		}
	}

	a.outMu.Lock()
	defer a.outMu.Unlock()
	report.Dump(a.out, a.table.Snapshot())
	report.PrintSummary(a.out, report.Summarize(a.results.Results(), time.Since(start)))
	return nil
}

// executeLine runs a single transaction on the calling goroutine. A protocol fault comes back as an error.
func (a *app) executeLine(ctx context.Context, text string) (res *txn.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("transaction %q: %v", text, r)
		}
	}()
	res = a.exec.Execute(ctx, text)
	a.results.Add(res)
	a.print(res)
	return res, nil
}
