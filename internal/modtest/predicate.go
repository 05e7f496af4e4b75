package modtest

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"
)

// Predicate decides whether a source file carries a test module.
// Implementations are heuristics, not a semantic guarantee.
type Predicate interface {
	Match(path string, src []byte) (bool, error)
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(path string, src []byte) (bool, error)

// Match calls f.
func (f PredicateFunc) Match(path string, src []byte) (bool, error) { return f(path, src) }

// LineMarker matches files where at least one line matches pattern.
func LineMarker(pattern string) (Predicate, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling marker %q: %w", pattern, err)
	}
	return PredicateFunc(func(_ string, src []byte) (bool, error) {
		for _, line := range bytes.Split(src, []byte("\n")) {
			if re.Match(bytes.TrimSuffix(line, []byte("\r"))) {
				return true, nil
			}
		}
		return false, nil
	}), nil
}

// SyntaxMarker matches Rust files containing the attribute item
// #[cfg(test)] anywhere in the syntax tree. Comments and string literals
// never match, and whitespace inside the attribute is ignored.
type SyntaxMarker struct {
	// Attribute is the attribute item to look for, whitespace removed.
	// Empty means "#[cfg(test)]".
	Attribute string
}

// Match parses src and walks it for the attribute item.
func (m SyntaxMarker) Match(path string, src []byte) (bool, error) {
	want := m.Attribute
	if want == "" {
		want = "#[cfg(test)]"
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(rust.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return false, fmt.Errorf("parsing %s: %w", path, err)
	}
	defer tree.Close()

	return hasAttribute(tree.RootNode(), src, squash(want)), nil
}

func hasAttribute(n *sitter.Node, src []byte, want string) bool {
	if n.Type() == "attribute_item" && squash(n.Content(src)) == want {
		return true
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if hasAttribute(n.NamedChild(i), src, want) {
			return true
		}
	}
	return false
}

func squash(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
