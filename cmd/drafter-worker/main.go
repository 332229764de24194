// Command drafter-worker evaluates one JavaScript diagram script and renders
// the resulting graph. The process runner starts it with the script path as
// its only argument and DRAFTER_OUTPUT and DRAFTER_FORMAT set.
//
// Script log lines go to stdout. On failure the stack trace and then the
// error message are written to stderr, so the message is the last line.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/seantiz/drafter/internal/render"
	"github.com/seantiz/drafter/internal/sandbox"
	"github.com/seantiz/drafter/internal/script"
)

const (
	exitRuntimeError = 1
	exitUsage        = 2
	exitInterrupted  = 130
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: drafter-worker <script.js>")
		return exitUsage
	}
	output := os.Getenv(sandbox.EnvOutput)
	format := os.Getenv(sandbox.EnvFormat)
	if output == "" || !render.IsSupportedFormat(format) {
		fmt.Fprintf(os.Stderr, "%s and a supported %s are required\n", sandbox.EnvOutput, sandbox.EnvFormat)
		return exitUsage
	}

	src, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "read script: %v\n", err)
		return exitUsage
	}

	eval := script.New(func(line string) { fmt.Fprintln(os.Stdout, line) })

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT)
	go func() {
		sig := <-sigs
		eval.Interrupt("received " + sig.String())
	}()

	g, err := eval.Run(string(src))
	if err != nil {
		var se *script.Error
		if errors.As(err, &se) && se.Trace != "" {
			fmt.Fprintln(os.Stderr, se.Trace)
		}
		fmt.Fprintln(os.Stderr, err.Error())
		if errors.Is(err, script.ErrInterrupted) {
			return exitInterrupted
		}
		return exitRuntimeError
	}

	if err := render.Render(g, format, output); err != nil {
		fmt.Fprintf(os.Stderr, "render %s: %v\n", format, err)
		return exitRuntimeError
	}
	return 0
}
