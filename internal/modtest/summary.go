package modtest

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Summary aggregates module results in discovery order.
type Summary struct {
	RunID   string
	Results []Result
}

// Passed returns the number of passing modules.
func (s *Summary) Passed() int {
	n := 0
	for _, r := range s.Results {
		if r.Passed {
			n++
		}
	}
	return n
}

// Failed returns the number of failing modules.
func (s *Summary) Failed() int {
	return len(s.Results) - s.Passed()
}

// Err reports whether any module failed.
func (s *Summary) Err() error {
	if f := s.Failed(); f > 0 {
		return fmt.Errorf("%w: %d of %d modules", ErrModulesFailed, f, len(s.Results))
	}
	return nil
}

// Report writes the totals line followed by one line per module. The
// pass/fail markers are coloured when w is a colour-capable terminal.
func (s *Summary) Report(w io.Writer) {
	r := lipgloss.NewRenderer(w)
	ok := r.NewStyle().Foreground(lipgloss.Color("2"))
	failed := r.NewStyle().Foreground(lipgloss.Color("1"))

	fmt.Fprintf(w, "Summary: %d modules passed; %d modules failed\n\n", s.Passed(), s.Failed())
	for _, res := range s.Results {
		marker := ok.Render("ok")
		if !res.Passed {
			marker = failed.Render("failed")
		}
		fmt.Fprintf(w, "\t%s ... %s\n", res.Module, marker)
	}
}
