package main

import (
	"os"

	"github.com/pingcap-incubator/tinyocc/log"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run [file]",
		Short: "Execute a file of transactions, one per line; stdin when no file is given",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRunCommandFunc,
	}
}

func runRunCommandFunc(cmd *cobra.Command, args []string) error {
	cfg := initialGlobal(cmd)
	a, err := newApp(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer a.close()

	in := os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return errors.Trace(err)
		}
		defer f.Close()
		in = f
	}

	if err := a.runBatch(globalContext, in); err != nil {
		log.Fatalf("fatal fault, cell table may be inconsistent: %v", err)
	}
	return nil
}
