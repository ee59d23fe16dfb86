package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"

	"taskd/pkg/types"
)

// Process exit codes.
const (
	exitOK            = 0
	exitError         = 1
	exitModelNotFound = 2
	exitInterrupted   = 130
)

// exitErr carries a process exit code through cobra's error return.
type exitErr struct {
	code int
	err  error
}

func (e exitErr) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e exitErr) Unwrap() error { return e.err }

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	root, a := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	if err == nil {
		return exitOK
	}
	code := exitError
	var ee exitErr
	if errors.As(err, &ee) {
		code = ee.code
		err = ee.err
	}
	if err != nil {
		if a.jsonOut {
			_ = json.NewEncoder(stdout).Encode(types.ErrorResponse{Error: err.Error(), Code: code})
		} else {
			fmt.Fprintln(stderr, "taskd:", err)
		}
	}
	return code
}
