// Package uploads keeps uploaded workbooks under an id so later stages can
// be retried without uploading again.
package uploads

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("upload not found")

type Upload struct {
	ID       string    `json:"id"`
	FileName string    `json:"fileName"`
	Path     string    `json:"-"`
	Created  time.Time `json:"created"`
}

// Store lays uploads out as <dir>/<id>/<file name>.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) Save(r io.Reader, fileName string) (Upload, error) {
	name := cleanName(fileName)
	id := uuid.NewString()
	dir := filepath.Join(s.dir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Upload{}, err
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return Upload{}, err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.RemoveAll(dir)
		return Upload{}, fmt.Errorf("store upload: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.RemoveAll(dir)
		return Upload{}, err
	}
	return Upload{ID: id, FileName: name, Path: path, Created: time.Now()}, nil
}

// Get returns the upload with id. The workbook may already be gone when a
// run aborted; that also reports ErrNotFound.
func (s *Store) Get(id string) (Upload, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Upload{}, ErrNotFound
	}
	dir := filepath.Join(s.dir, id)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Upload{}, ErrNotFound
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		return Upload{ID: id, FileName: e.Name(), Path: filepath.Join(dir, e.Name()), Created: info.ModTime()}, nil
	}
	return Upload{}, ErrNotFound
}

// ArtifactPath is where a derived file for upload id lives.
func (s *Store) ArtifactPath(id, name string) string {
	return filepath.Join(s.dir, id, "."+cleanName(name))
}

func (s *Store) Delete(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	return os.RemoveAll(filepath.Join(s.dir, id))
}

// Purge removes uploads last modified before cutoff and returns how many went.
func (s *Store) Purge(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func cleanName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload.xlsx"
	}
	return name
}
