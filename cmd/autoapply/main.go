// Command autoapply submits job applications from a feed and hands stuck ones
// to human workers.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/autoapply/cmd"
	"github.com/xkilldash9x/autoapply/internal/observability"
)

const panicLogFile = "panic.log"

// Function variables so tests can intercept side effects.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
	execute     = cmd.Execute
)

func main() {
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx)
	stop()
	osExit(code)
}

// run executes the command tree and maps the result to an exit code.
// A shutdown by signal is a clean exit.
func run(ctx context.Context) int {
	defer observability.Sync()
	if err := execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// handlePanic writes the panic and stack trace to panic.log and exits non-zero.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
		osExit(2)
		return
	}
	fmt.Fprintf(os.Stderr, "\nautoapply crashed. Details logged to %s\n", panicLogFile)
	osExit(2)
}
