package modtest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// stage writes the synthetic entry point and a verbatim copy of the module
// into dir. Neither file may already exist there. The returned release
// removes only what stage created, and is non-nil even when stage fails
// part way.
func stage(dir, entryFile string, m Module) (release func() error, err error) {
	var created []string
	release = func() error {
		var errs []error
		for _, p := range created {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
		created = nil
		return errors.Join(errs...)
	}

	if m.Name == entryFile {
		return release, fmt.Errorf("module %s collides with the entry file %s", m.Path, entryFile)
	}

	entry := filepath.Join(dir, entryFile)
	if err := createExclusive(entry, []byte(entrySource(m.ID))); err != nil {
		return release, fmt.Errorf("writing entry file: %w", err)
	}
	created = append(created, entry)

	copyPath := filepath.Join(dir, m.Name)
	if err := createExclusive(copyPath, m.Source); err != nil {
		return release, fmt.Errorf("copying %s: %w", m.Path, err)
	}
	created = append(created, copyPath)
	return release, nil
}

// createExclusive writes data to a new file at path. An existing file is
// left untouched and reported as a collision.
func createExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%s collides with existing file in the isolated area", filepath.Base(path))
	}
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// entrySource declares the module and an empty program entry.
func entrySource(id string) string {
	return fmt.Sprintf("mod %s; fn main() {}\n", id)
}
