package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/andrej220/pssh/pkg/executor"
	"github.com/andrej220/pssh/pkg/presenter"
	"github.com/fatih/color"
	"github.com/spf13/afero"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

const (
	exitHostsFailed = 1
	exitFatal       = 2
)

func main() {
	a := &app{
		provider: executor.NewSSHProvider(nil),
		fs:       afero.NewOsFs(),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
	if err := newRootCmd(a).Execute(); err != nil {
		os.Exit(report(os.Stderr, err))
	}
}

// report prints err and returns the process exit code.
func report(w io.Writer, err error) int {
	fmt.Fprintln(w, color.RedString("Error: %v", err))
	if errors.Is(err, presenter.ErrHostsFailed) {
		return exitHostsFailed
	}
	return exitFatal
}
