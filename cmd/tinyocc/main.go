package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingcap-incubator/tinyocc/config"
	"github.com/pingcap-incubator/tinyocc/log"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	configFile string
	overrides  flagValues

	globalContext context.Context
	globalCancel  context.CancelFunc
)

// flagValues holds command line settings that take precedence over the config file.
type flagValues struct {
	logLevel    string
	logFile     string
	cells       int
	values      []int
	delay       time.Duration
	workers     int
	queueSize   int
	backoffBase time.Duration
	timeout     time.Duration
	submitRate  float64
	statusAddr  string
}

func addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&configFile, "config", "c", "", "TOML config file")
	fs.StringVarP(&overrides.logLevel, "log-level", "L", "", "log level: debug, info, warn, error, fatal")
	fs.StringVar(&overrides.logFile, "log-file", "", "rotated log file, stderr only when empty")
	fs.IntVarP(&overrides.cells, "cells", "n", 0, "number of cells, at most 26")
	fs.IntSliceVar(&overrides.values, "values", nil, "initial cell values by index")
	fs.DurationVar(&overrides.delay, "delay", 0, "simulated latency of every cell operation")
	fs.IntVarP(&overrides.workers, "workers", "w", 0, "number of concurrent transaction workers")
	fs.IntVar(&overrides.queueSize, "queue-size", 0, "pending transactions buffered ahead of the workers")
	fs.DurationVar(&overrides.backoffBase, "backoff-base", 0, "unit of the linear backoff after a conflict")
	fs.DurationVar(&overrides.timeout, "timeout", 0, "how long a batch may run")
	fs.Float64Var(&overrides.submitRate, "submit-rate", 0, "transactions submitted per second, 0 for no pacing")
	fs.StringVar(&overrides.statusAddr, "status-addr", "", "serve the status API and metrics on this address")
}

// loadConfig reads the config file, if any, and applies the flags the user set.
func loadConfig(fs *pflag.FlagSet) (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return nil, err
		}
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = overrides.logLevel
	}
	if fs.Changed("log-file") {
		cfg.LogFile.Filename = overrides.logFile
	}
	if fs.Changed("cells") {
		cfg.Cells = overrides.cells
	}
	if fs.Changed("values") {
		cfg.InitialValues = overrides.values
	}
	if fs.Changed("delay") {
		cfg.Delay = config.NewDuration(overrides.delay)
	}
	if fs.Changed("workers") {
		cfg.Workers = overrides.workers
	}
	if fs.Changed("queue-size") {
		cfg.QueueSize = overrides.queueSize
	}
	if fs.Changed("backoff-base") {
		cfg.BackoffBase = config.NewDuration(overrides.backoffBase)
	}
	if fs.Changed("timeout") {
		cfg.Timeout = config.NewDuration(overrides.timeout)
	}
	if fs.Changed("submit-rate") {
		cfg.SubmitRate = overrides.submitRate
	}
	if fs.Changed("status-addr") {
		cfg.StatusAddr = overrides.statusAddr
	}
	cfg.Adjust()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

// initialGlobal prepares the config and the logger shared by every subcommand.
func initialGlobal(cmd *cobra.Command) *config.Config {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	log.Init(cfg.LogLevel, cfg.LogFileConfig())
	log.Debugf("configuration: %+v", *cfg)
	return cfg
}

func main() {
	globalContext, globalCancel = context.WithCancel(context.Background())

	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	closeDone := make(chan struct{}, 1)
	go func() {
		sig := <-sc
		log.Infof("got signal [%v], canceling pending transactions", sig)
		globalCancel()

		select {
		case <-sc:
			fmt.Fprintf(os.Stderr, "\nGot signal [%v] again to exit.\n", sig)
			os.Exit(1)
		case <-closeDone:
			return
		}
	}()

	rootCmd := &cobra.Command{
		Use:          "tinyocc",
		Short:        "Run optimistic transactions over a table of integer cells",
		SilenceUsage: true,
	}
	addFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(
		newRunCommand(),
		newShellCommand(),
	)

	err := rootCmd.Execute()
	globalCancel()
	log.Sync()
	closeDone <- struct{}{}
	if err != nil {
		os.Exit(1)
	}
}
