// File: cmd/webpilot/main.go
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/xkilldash9x/webpilot/cmd"
	"github.com/xkilldash9x/webpilot/internal/observability"
)

const panicLogFile = "panic.log"

const banner = `
 webpilot - planner, navigator and validator agents for the web
 Type a command such as: run "find the cheapest flight to Osaka"
 Type 'exit' to quit.

`

// Function variables for mocking in tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
	stdin       io.Reader = os.Stdin
	stdout      io.Writer = os.Stdout
	stderr      io.Writer = os.Stderr
)

// main is the entry point of the application.
func main() {
	defer handlePanic()

	// SIGINT/SIGTERM cancel the running task; it ends as CANCELLED.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 {
		if err := cmd.Execute(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				osExit(0)
			} else {
				osExit(1)
			}
		}
		return
	}

	// -- Interactive Mode --
	fmt.Fprint(stdout, banner)
	if err := interactive(ctx, stdin); err != nil {
		fmt.Fprintln(stderr, "Error reading from stdin:", err)
		osExit(1)
	}
	fmt.Fprintln(stdout, "Exiting webpilot.")
}

// interactive reads commands line by line until EOF, 'exit' or cancellation.
func interactive(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for ctx.Err() == nil {
		fmt.Fprint(stdout, "webpilot > ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		executeInteractiveCommand(ctx, line)
	}
	return scanner.Err()
}

// executeInteractiveCommand runs one line on a fresh command tree.
func executeInteractiveCommand(ctx context.Context, line string) {
	rootCmd := cmd.NewRootCommand()
	rootCmd.SetArgs(splitArgs(line))
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(stderr, "Error: Command panicked: %v\n", r)
		}
	}()
	// Errors are printed by cobra; the shell keeps going.
	_ = rootCmd.ExecuteContext(ctx)
}

// splitArgs splits a command line on whitespace, keeping double-quoted
// sections together so a task can be typed as one argument.
func splitArgs(line string) []string {
	var args []string
	var cur strings.Builder
	inQuotes, hasToken := false, false
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			hasToken = true
		case !inQuotes && (r == ' ' || r == '\t'):
			if hasToken {
				args = append(args, cur.String())
				cur.Reset()
				hasToken = false
			}
		default:
			cur.WriteRune(r)
			hasToken = true
		}
	}
	if hasToken {
		args = append(args, cur.String())
	}
	return args
}

// handlePanic records a crash to panicLogFile and exits non-zero.
func handlePanic() {
	if r := recover(); r != nil {
		observability.Sync()

		panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
		if err := osWriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
			fmt.Fprintf(stderr, "CRITICAL: Failed to write panic log: %v\n", err)
			fmt.Fprintf(stderr, "Panic details:\n%s\n", panicMessage)
			osExit(1)
			return
		}

		fmt.Fprintf(stderr, "\nwebpilot crashed. Details logged to %s\n", panicLogFile)
		osExit(2)
	}
}
