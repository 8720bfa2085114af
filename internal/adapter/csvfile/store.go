// Package csvfile stores task artifacts as CSV files below a results directory.
package csvfile

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Dm1try555/banister-backend-sub000/internal/domain"
	"github.com/Dm1try555/banister-backend-sub000/internal/domain/task"
	"github.com/Dm1try555/banister-backend-sub000/internal/port/artifact"
)

const (
	partSuffix  = ".part"
	stampLayout = "20060102T150405Z"
)

// Store writes one CSV file per task run. References are slash-separated
// paths relative to the root directory: <type>/<type>_<id>_<stamp>.csv.
type Store struct {
	root string
	now  func() time.Time
}

var _ artifact.Store = (*Store)(nil)

// New creates a Store rooted at dir.
func New(dir string) *Store {
	return &Store{root: dir, now: time.Now}
}

// Root returns the results directory.
func (s *Store) Root() string { return s.root }

// Create opens <root>/<type>/<type>_<id>_<stamp>.csv.part and writes the header.
func (s *Store) Create(_ context.Context, t *task.Task, columns []string) (artifact.Writer, error) {
	dir := filepath.Join(s.root, string(t.Type))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}

	name := string(t.Type) + "_" + strconv.FormatInt(t.ID, 10) + "_" + s.now().UTC().Format(stampLayout) + ".csv"
	final := filepath.Join(dir, name)
	part := final + partSuffix

	f, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644) //nolint:gosec // G304: path built from task type and id
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}

	buf := bufio.NewWriter(f)
	w := &writer{
		f:     f,
		buf:   buf,
		csv:   csv.NewWriter(buf),
		part:  part,
		final: final,
		ref:   path.Join(string(t.Type), name),
	}
	if err := w.csv.Write(columns); err != nil {
		_ = w.Discard()
		return nil, fmt.Errorf("write header: %w", err)
	}
	return w, nil
}

// Open returns a reader over a finalized artifact.
func (s *Store) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	p, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p) //nolint:gosec // G304: ref is confined to the results dir by resolve
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("artifact %s: %w", ref, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("open artifact %s: %w", ref, err)
	}
	return f, nil
}

// Remove deletes a finalized artifact. A missing file is not an error.
func (s *Store) Remove(_ context.Context, ref string) error {
	p, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove artifact %s: %w", ref, err)
	}
	return nil
}

// resolve maps a reference to a path inside root.
func (s *Store) resolve(ref string) (string, error) {
	clean := path.Clean("/" + ref)[1:]
	if clean == "" || clean != ref || strings.HasSuffix(clean, partSuffix) {
		return "", fmt.Errorf("invalid artifact reference %q: %w", ref, domain.ErrValidation)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}
