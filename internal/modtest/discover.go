package modtest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Module is a source file that carries a test module.
type Module struct {
	Path   string // path of the source file
	Name   string // file name, e.g. "uart.rs"
	ID     string // file name without extension, e.g. "uart"
	Source []byte
}

// Discover walks root in lexical order and returns every file with the
// given extension accepted by match.
func Discover(root, ext string, match Predicate) ([]Module, error) {
	var mods []Module
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ext {
			return nil
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		ok, err := match.Match(path, src)
		if err != nil {
			return err
		}
		if ok {
			name := filepath.Base(path)
			mods = append(mods, Module{
				Path:   path,
				Name:   name,
				ID:     strings.TrimSuffix(name, ext),
				Source: src,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discovering test modules under %s: %w", root, err)
	}
	return mods, nil
}
