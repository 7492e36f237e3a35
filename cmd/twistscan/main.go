// Command twistscan probes typo and homoglyph permutations of a target
// domain for signs of squatting or phishing.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var version = "dev"

func main() {
	os.Exit(run())
}

// run executes the root command and maps its error to the process exit code:
// 0 clean, 1 runtime failure, 2 usage. Interrupt and SIGTERM cancel in-flight
// probes through the command context.
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(version).ExecuteContext(ctx); err != nil {
		return exitCode(err)
	}
	return 0
}

func exitCode(err error) int {
	var ce *cliError
	if !errors.As(err, &ce) {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}
	if msg := ce.Error(); msg != "" {
		fmt.Fprintln(os.Stderr, msg)
		fmt.Fprintln(os.Stderr)
	}
	if ce.ShowUsage && ce.Cmd != nil {
		_ = ce.Cmd.Usage()
	}
	return ce.Code
}
