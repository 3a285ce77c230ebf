package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
)

// Storage keeps uploaded corpus files on local disk so that indexer
// processes sharing the volume can pick them up by path.
type Storage struct {
	basePath string
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/corpus"
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Storage{basePath: abs}, nil
}

// Save writes data under key and returns the absolute path of the file.
// The file appears atomically.
func (s *Storage) Save(_ context.Context, key string, data io.Reader) (string, error) {
	path, err := s.Path(key)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.basePath, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("move file: %w", err)
	}
	return path, nil
}

func (s *Storage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrNotFound, "open corpus file", err)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Resolve returns the path of an existing stored file.
func (s *Storage) Resolve(_ context.Context, key string) (string, error) {
	path, err := s.Path(key)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", domain.WrapError(domain.ErrNotFound, "resolve corpus file", fmt.Errorf("no stored corpus %q", key))
		}
		return "", fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", domain.WrapError(domain.ErrInvalidInput, "resolve corpus file", fmt.Errorf("%q is not a file", key))
	}
	return path, nil
}

// Path maps key to a file directly inside the storage root. Keys are plain
// file names: separators, parent references and hidden names are rejected.
func (s *Storage) Path(key string) (string, error) {
	name := strings.TrimSpace(key)
	if name == "" ||
		strings.HasPrefix(name, ".") ||
		strings.ContainsAny(name, `/\`) ||
		filepath.IsAbs(name) ||
		filepath.Base(name) != name {
		return "", domain.WrapError(domain.ErrInvalidInput, "storage key", fmt.Errorf("invalid key %q", key))
	}
	path := filepath.Join(s.basePath, name)
	if filepath.Dir(path) != s.basePath {
		return "", domain.WrapError(domain.ErrInvalidInput, "storage key", fmt.Errorf("invalid key %q", key))
	}
	return path, nil
}
