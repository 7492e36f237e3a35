package main

import "github.com/spf13/cobra"

// cliError carries an exit code through cobra's error return so run() can
// map scan and usage failures to stable process exit codes.
type cliError struct {
	Code      int
	Err       error
	ShowUsage bool
	Cmd       *cobra.Command
}

func (e *cliError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// usageErr wraps flag and argument mistakes: exit 2, usage printed.
func usageErr(cmd *cobra.Command, err error) error {
	return &cliError{Code: 2, Err: err, ShowUsage: true, Cmd: cmd}
}
