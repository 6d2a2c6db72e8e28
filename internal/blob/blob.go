// Package blob stores uploaded submission attachments on an afero filesystem.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"errors"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/log"
	"github.com/looplj/classhub/internal/pkg/xtime"
)

const (
	BackendOS     = "os"
	BackendMemory = "memory"
)

type Config struct {
	// Backend is os or memory.
	Backend string `conf:"backend" yaml:"backend" json:"backend"`
	// Root is the base directory for the os backend.
	Root string `conf:"root" yaml:"root" json:"root"`
	// MaxSize caps a single upload in bytes, 0 means unlimited.
	MaxSize int64 `conf:"max_size" yaml:"max_size" json:"max_size"`
}

// Upload is an attachment as received from a client.
type Upload struct {
	Name string
	Mime string
	Data []byte
}

// Handle describes a stored attachment.
type Handle struct {
	Path         string `json:"path"`
	OriginalName string `json:"original_name"`
	Mime         string `json:"mime"`
	Size         int64  `json:"size"`
	SHA256       string `json:"sha256"`
}

type Store struct {
	fs      afero.Fs
	maxSize int64
	clock   xtime.Clock
}

func New(cfg Config) (*Store, error) {
	var base afero.Fs

	switch cfg.Backend {
	case "", BackendMemory:
		base = afero.NewMemMapFs()
	case BackendOS:
		if cfg.Root == "" {
			return nil, fmt.Errorf("blob: root is required for the os backend")
		}

		if err := afero.NewOsFs().MkdirAll(cfg.Root, 0o750); err != nil {
			return nil, fmt.Errorf("blob: create root: %w", err)
		}

		base = afero.NewBasePathFs(afero.NewOsFs(), cfg.Root)
	default:
		return nil, fmt.Errorf("blob: unsupported backend %q", cfg.Backend)
	}

	return NewWithFs(base, cfg.MaxSize), nil
}

func NewWithFs(base afero.Fs, maxSize int64) *Store {
	return &Store{fs: base, maxSize: maxSize, clock: xtime.Real()}
}

// WithClock replaces the clock used to build date partitioned paths.
func (s *Store) WithClock(clock xtime.Clock) *Store {
	s.clock = clock
	return s
}

// Put writes the upload under files/yyyy/mm/dd/<uuid>.
func (s *Store) Put(ctx context.Context, up Upload) (*Handle, error) {
	if up.Name == "" {
		return nil, errs.Validation("file name is required")
	}

	size := int64(len(up.Data))
	if s.maxSize > 0 && size > s.maxSize {
		return nil, errs.Validation("file %s exceeds %d bytes", up.Name, s.maxSize)
	}

	now := s.clock.Now().UTC()
	key := path.Join("files", now.Format("2006/01/02"), uuid.NewString())
	name := filepath.FromSlash(key)

	if err := s.fs.MkdirAll(filepath.Dir(name), 0o750); err != nil {
		return nil, fmt.Errorf("blob: mkdir: %w", err)
	}

	if err := afero.WriteFile(s.fs, name, up.Data, 0o640); err != nil {
		return nil, fmt.Errorf("blob: write %s: %w", key, err)
	}

	sum := sha256.Sum256(up.Data)

	log.Debug(ctx, "stored attachment",
		log.String("path", key),
		log.Int64("size", size),
	)

	return &Handle{
		Path:         key,
		OriginalName: up.Name,
		Mime:         up.Mime,
		Size:         size,
		SHA256:       hex.EncodeToString(sum[:]),
	}, nil
}

// Open returns a reader for a stored path. The caller closes it.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	clean := path.Clean(key)
	if !strings.HasPrefix(clean, "files/") {
		return nil, errs.NotFound("file %s not found", key)
	}

	f, err := s.fs.Open(filepath.FromSlash(clean))
	if err != nil {
		if isNotExist(err) {
			return nil, errs.NotFound("file %s not found", key)
		}

		return nil, fmt.Errorf("blob: open %s: %w", key, err)
	}

	return f, nil
}

// Read returns the full content of a stored path.
func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return io.ReadAll(rc)
}

// Remove deletes a stored path. Missing files are ignored.
func (s *Store) Remove(ctx context.Context, key string) error {
	err := s.fs.Remove(filepath.FromSlash(path.Clean(key)))
	if err != nil && !isNotExist(err) {
		return fmt.Errorf("blob: remove %s: %w", key, err)
	}

	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
