package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/idilsaglam/groceries/internal/listsync"
	"github.com/idilsaglam/groceries/internal/model"
	"github.com/idilsaglam/groceries/internal/ui"
)

// Exit codes.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

// usageError is a malformed invocation; it exits with ExitUsage.
type usageError struct {
	msg   string
	usage string
}

func (e usageError) Error() string { return e.msg }

func exactArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageError{msg: fmt.Sprintf("expected %d argument(s), got %d", n, len(args)), usage: usage}
		}
		return nil
	}
}

func minArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return usageError{msg: fmt.Sprintf("expected at least %d argument(s)", n), usage: usage}
		}
		return nil
	}
}

func noArgs(usage string) cobra.PositionalArgs { return exactArgs(0, usage) }

// Execute runs the CLI with args and returns the process exit code.
// Failures are printed to stderr, never through cobra.
func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SilenceErrors = true
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{msg: err.Error(), usage: cmd.UseLine()}
	})
	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	return report(stderr, err)
}

func report(w io.Writer, err error) int {
	var (
		ue usageError
		ie indexError
	)
	switch {
	case errors.As(err, &ue):
		ui.Fail(w, ue.msg)
		if ue.usage != "" {
			ui.Hint(w, "usage: "+ue.usage)
		}
		return ExitUsage
	case errors.As(err, &ie):
		ui.Fail(w, ie.Error())
		ui.Hint(w, "run `groceries ls --plain` to see valid indexes")
		return ExitUsage
	case errors.Is(err, listsync.ErrNoList):
		ui.Fail(w, err.Error())
		return ExitUsage
	case errors.Is(err, listsync.ErrItemNotSaved), errors.Is(err, listsync.ErrAddInFlight):
		ui.Fail(w, err.Error())
		return ExitError
	}
	ui.Fail(w, model.Describe(err))
	if model.IsNetwork(err) {
		ui.Hint(w, err.Error())
	}
	return ExitError
}
