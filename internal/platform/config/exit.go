package config

import (
	"fmt"
	"os"
)

// Exitf reports a fatal startup error on stderr and terminates the process
// with exit code 1. The market and audit entry points call it when
// configuration parsing or service assembly fails, before any server is
// listening.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
