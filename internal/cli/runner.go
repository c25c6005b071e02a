// Package cli is the todo command tree. Run maps command errors to exit
// codes: 0 ok, 1 runtime failure, 2 usage.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/idilsaglam/livetodo/internal/ui"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

// usageArgs marks argument validation failures as usage errors.
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return usageError{err: err}
		}
		return nil
	}
}

// Run executes the command line and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	app := newApp(stdout, stderr)
	defer app.close()

	root := NewRootCmd(app)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	app.printer.Fail(err.Error())
	var ue usageError
	if errors.As(err, &ue) {
		fmt.Fprintln(stderr, app.printer.Theme().Muted.Render("Run `todo --help` for usage."))
		return exitUsage
	}
	return exitError
}

func newApp(stdout, stderr io.Writer) *App {
	return &App{
		out:     stdout,
		errOut:  stderr,
		printer: ui.NewPrinter(stdout, stderr, "classic", "auto"),
	}
}

// truncate shortens long names for one-line rendering.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
