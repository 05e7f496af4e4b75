package runner

import (
	"fmt"
	"strings"
)

// Result holds the output of a command execution.
type Result struct {
	RunID     string // unique identifier for this run
	ExitCode  int    // process exit code
	Stdout    []byte // captured stdout (capture mode only, may be truncated)
	Stderr    []byte // captured stderr (capture mode only, may be truncated)
	Truncated bool   // true if output exceeded the size cap
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Argv []string
	Dir  string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s (in %s) exited with status %d", strings.Join(e.Argv, " "), e.Dir, e.Code)
}
