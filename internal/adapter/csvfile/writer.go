package csvfile

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var errClosed = errors.New("artifact writer already closed")

type writer struct {
	f     *os.File
	buf   *bufio.Writer
	csv   *csv.Writer
	part  string
	final string
	ref   string
	done  bool
}

func (w *writer) Append(rows [][]string) error {
	if w.done {
		return errClosed
	}
	if err := w.csv.WriteAll(rows); err != nil {
		return fmt.Errorf("append rows: %w", err)
	}
	return nil
}

// Finalize flushes, syncs and renames the part file into place.
func (w *writer) Finalize() (string, error) {
	if w.done {
		return "", errClosed
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		_ = w.Discard()
		return "", fmt.Errorf("flush artifact: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		_ = w.Discard()
		return "", fmt.Errorf("flush artifact: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		_ = w.Discard()
		return "", fmt.Errorf("sync artifact: %w", err)
	}
	if err := w.f.Close(); err != nil {
		_ = w.Discard()
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(w.part, w.final); err != nil {
		_ = os.Remove(w.part)
		w.done = true
		return "", fmt.Errorf("publish artifact: %w", err)
	}
	w.done = true
	syncDir(filepath.Dir(w.final))
	return w.ref, nil
}

// Discard closes and removes the part file. No-op once finalized.
func (w *writer) Discard() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.f.Close()
	if err := os.Remove(w.part); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("discard artifact: %w", err)
	}
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir) //nolint:gosec // G304: directory of the artifact being published
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
