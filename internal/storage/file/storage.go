package file

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"

	// Decoders for metadata reads of existing renditions.
	_ "image/jpeg"
	_ "image/png"
)

// ErrNotFound is returned when a file does not exist in storage.
var ErrNotFound = errors.New("file not found")

// Storage provides a simple file-based storage backend.
// It stores files directly under a base directory on the local filesystem.
type Storage struct {
	baseDir string
}

// NewStorage creates the base directory if needed and returns a Storage for it.
func NewStorage(baseDir string) (*Storage, error) {
	if err := os.MkdirAll(baseDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", baseDir, err)
	}

	return &Storage{baseDir: baseDir}, nil
}

// Dir returns the base directory.
func (s *Storage) Dir() string {
	return s.baseDir
}

// Path returns the full path of name.
func (s *Storage) Path(name string) string {
	return filepath.Join(s.baseDir, name)
}

// Save writes data to name in one call, replacing any existing file.
// The write is not atomic.
func (s *Storage) Save(name string, data []byte) (string, error) {
	dstPath := s.Path(name)

	if err := os.WriteFile(dstPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save file %s: %w", dstPath, err)
	}

	return dstPath, nil
}

// Exists reports whether name is present.
func (s *Storage) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// Dimensions reads the image header of name and returns its size.
func (s *Storage) Dimensions(name string) (int, int, error) {
	f, err := s.Load(name)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image metadata %s: %w", name, err)
	}

	return cfg.Width, cfg.Height, nil
}

// Load opens the file and returns a reader.
func (s *Storage) Load(name string) (*os.File, error) {
	f, err := os.Open(s.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", name, err)
	}

	return f, nil
}
