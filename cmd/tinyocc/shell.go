package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/pingcap-incubator/tinyocc/log"
	"github.com/pingcap-incubator/tinyocc/occ/report"
	"github.com/spf13/cobra"
)

func newShellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Execute transactions typed at a prompt",
		Args:  cobra.NoArgs,
		Run:   runShellCommandFunc,
	}
}

const shellHelp = `Type a transaction such as "A = B + 3; C* = A - 1".
  .dump     print every cell
  .summary  print the session summary
  .help     show this help
  .quit     leave the shell
`

func runShellCommandFunc(cmd *cobra.Command, args []string) {
	cfg := initialGlobal(cmd)
	a, err := newApp(cfg, os.Stdout)
	if err != nil {
		log.Fatal(err)
	}
	defer a.close()
	if err := a.startStatus(nil); err != nil {
		log.Fatal(err)
	}

	l, err := readline.NewEx(&readline.Config{
		Prompt:            "\033[32mocc»\033[0m ",
		HistoryFile:       filepath.Join(os.TempDir(), "tinyocc.history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer l.Close()

	a.shellLoop(globalContext, l)
}

// lineReader is the part of readline the shell uses.
type lineReader interface {
	Readline() (string, error)
}

func (a *app) shellLoop(ctx context.Context, l lineReader) {
	for {
		line, err := l.Readline()
		if err != nil {
			if err != readline.ErrInterrupt && err != io.EOF {
				log.Warnf("read input: %v", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
		case line == ".quit" || line == "exit":
			return
		case line == ".dump":
			a.outMu.Lock()
			report.Dump(a.out, a.table.Snapshot())
			a.outMu.Unlock()
		case line == ".summary":
			a.outMu.Lock()
			report.PrintSummary(a.out, report.Summarize(a.results.Results(), 0))
			a.outMu.Unlock()
		case line == ".help":
			a.printf("%s", shellHelp)
		case strings.HasPrefix(line, "."):
			a.printf("unknown command %s, try .help\n", line)
		default:
			if _, err := a.executeLine(ctx, line); err != nil {
				log.Fatalf("fatal fault, cell table may be inconsistent: %v", err)
			}
		}
	}
}
