package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// failed signals a negative outcome that has already been reported.
func failed() error { return &exitError{code: 1} }

// Run is the entrypoint for testing. Exit codes: 0 success, 1 a negative
// verification or lookup result, 2 usage or runtime error.
func Run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	if len(args) > 1 {
		root.SetArgs(args[1:])
	} else {
		root.SetArgs([]string{})
	}

	err := root.Execute()
	if err == nil {
		return 0
	}
	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", exit.err)
		}
		return exit.code
	}
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	return 2
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:     "aliasledger",
		Version: version,
		Short:   "Tamper-evident alias directory with signed daily evidence",
		Long: `aliasledger keeps a hash-chained log of every lifecycle event of a
bank-account alias directory and produces signed, anonymized daily
evidence bundles for the regulator.

Configuration is read from the environment (ALIAS_PEPPER, WORM_PRIVATE_KEY,
DATABASE_URL, LEDGER_BACKEND, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.AddCommand(
		newServeCmd(),
		newHealthCmd(),
		newRegisterCmd(),
		newResolveCmd(),
		newDeactivateCmd(),
		newHistoryCmd(),
		newVerifyChainCmd(),
		newValidateCmd(),
		newEvidenceCmd(),
		newVerifyBundleCmd(),
		newKeygenCmd(),
		newAuditExportCmd(),
	)
	return root
}
