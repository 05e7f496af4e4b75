package workflow

import (
	"bytes"
	"errors"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// ErrNoTestExecutable is returned when the compiler's structured output
// names no test executable.
var ErrNoTestExecutable = errors.New("no test executable in build output")

// TestExecutables returns the non-null "executable" fields of the
// newline-delimited JSON records in out, in output order. Blank lines and
// lines that are not JSON objects are skipped.
func TestExecutables(out []byte) []string {
	var exes []string
	for _, line := range bytes.Split(out, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || !gjson.ValidBytes(line) {
			continue
		}
		rec := gjson.ParseBytes(line)
		if !rec.IsObject() {
			continue
		}
		exe := rec.Get("executable")
		if exe.Type != gjson.String || exe.Str == "" {
			continue
		}
		exes = append(exes, exe.Str)
	}
	return exes
}

// ResolveTestExecutable returns the first test executable named in out.
func ResolveTestExecutable(out []byte) (string, error) {
	exes := TestExecutables(out)
	if len(exes) == 0 {
		return "", ErrNoTestExecutable
	}
	return exes[0], nil
}

func (e *Engine) resolveTestExecutable(out []byte) (string, error) {
	exes := TestExecutables(out)
	if len(exes) == 0 {
		return "", ErrNoTestExecutable
	}
	if len(exes) > 1 {
		e.logger().Warn("multiple test executables in build output; using the first",
			zap.String("selected", exes[0]), zap.Strings("candidates", exes))
	}
	return exes[0], nil
}
