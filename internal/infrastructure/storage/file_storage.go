package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/batilieri/multichat-system-sub001/internal/application/port"
	"github.com/batilieri/multichat-system-sub001/internal/domain/entity"
	"github.com/batilieri/multichat-system-sub001/internal/domain/filename"
	"go.uber.org/zap"
)

const (
	tempPrefix = ".tmp-"

	// maxCollisions bounds the disambiguator search for one second of one message
	maxCollisions = 1000
)

// LayoutStore implements port.MediaStorage on the local filesystem.
// Files become visible only under their final name and are never overwritten.
type LayoutStore struct {
	baseDir string
	folders *FolderManager
	logger  *zap.Logger
}

// NewLayoutStore creates a new LayoutStore rooted at baseDir
func NewLayoutStore(baseDir string, logger *zap.Logger) *LayoutStore {
	return &LayoutStore{
		baseDir: baseDir,
		folders: NewFolderManager(baseDir, logger),
		logger:  logger,
	}
}

// Root returns the storage root directory
func (s *LayoutStore) Root() string {
	return s.baseDir
}

// Store writes the content under a fresh, collision-free name.
// Once the write has started it runs to completion regardless of ctx.
func (s *LayoutStore) Store(ctx context.Context, req port.StoreRequest) (*entity.StoredFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Content == nil {
		return nil, fmt.Errorf("%w: no content", entity.ErrStorage)
	}

	absDir, relDir, err := s.folders.EnsureDir(Scope{
		TenantID:   req.TenantID,
		InstanceID: req.InstanceID,
		ChatID:     req.ChatID,
		Kind:       req.Kind,
	})
	if err != nil {
		return nil, err
	}

	content := bufio.NewReaderSize(req.Content, sniffLen)
	head, _ := content.Peek(sniffLen)
	ext := resolveExtension(req.FileName, req.Mimetype, head)

	name, err := filename.New(req.MessageID, req.CapturedAt, ext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", entity.ErrStorage, err)
	}

	tmpPath, size, err := s.writeTemp(absDir, content)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			s.logger.Warn("Failed to remove temp file", zap.String("path", tmpPath), zap.Error(rmErr))
		}
	}()

	finalName, err := s.publish(tmpPath, absDir, name)
	if err != nil {
		return nil, err
	}

	stored := &entity.StoredFile{
		AbsPath:    filepath.Join(absDir, finalName),
		RelPath:    filepath.ToSlash(filepath.Join(relDir, finalName)),
		TenantID:   req.TenantID,
		InstanceID: req.InstanceID,
		ChatID:     req.ChatID,
		Kind:       req.Kind,
		FileName:   finalName,
		Size:       size,
	}

	s.logger.Debug("File stored",
		zap.String("path", stored.RelPath),
		zap.Int64("size", size))

	return stored, nil
}

// writeTemp streams content into a synced temp file inside dir
func (s *LayoutStore) writeTemp(dir string, content io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		s.logger.Error("Failed to create temp file", zap.String("dir", dir), zap.Error(err))
		return "", 0, fmt.Errorf("%w: failed to create temp file: %v", entity.ErrStorage, err)
	}
	tmpPath := tmp.Name()

	fail := func(op string, err error) (string, int64, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		s.logger.Error("Failed to write temp file", zap.String("op", op), zap.String("path", tmpPath), zap.Error(err))
		return "", 0, fmt.Errorf("%w: failed to %s temp file: %v", entity.ErrStorage, op, err)
	}

	size, err := io.Copy(tmp, content)
	if err != nil {
		return fail("write", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", 0, fmt.Errorf("%w: failed to close temp file: %v", entity.ErrStorage, err)
	}

	return tmpPath, size, nil
}

// publish hard-links the temp file under the first free disambiguated name
func (s *LayoutStore) publish(tmpPath, dir string, name filename.Name) (string, error) {
	for n := 0; n < maxCollisions; n++ {
		candidate := name.WithDisambiguator(n).String()
		target := filepath.Join(dir, candidate)

		if err := validatePath(s.baseDir, target); err != nil {
			return "", err
		}

		err := os.Link(tmpPath, target)
		if err == nil {
			return candidate, nil
		}
		if errors.Is(err, fs.ErrExist) {
			s.logger.Debug("Stored name taken, trying next", zap.String("name", candidate))
			continue
		}

		// Filesystems without hard links: reserve the name exclusively, then rename over it
		reserved, rerr := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(rerr, fs.ErrExist) {
			continue
		}
		if rerr != nil {
			s.logger.Error("Failed to publish stored file", zap.String("path", target), zap.Error(err))
			return "", fmt.Errorf("%w: failed to link file: %v", entity.ErrStorage, err)
		}
		_ = reserved.Close()
		if err := os.Rename(tmpPath, target); err != nil {
			_ = os.Remove(target)
			return "", fmt.Errorf("%w: failed to rename file: %v", entity.ErrStorage, err)
		}
		return candidate, nil
	}

	return "", fmt.Errorf("%w: no free name for %s after %d attempts", entity.ErrStorage, name.String(), maxCollisions)
}

// Scan walks the layout and calls fn for every stored attachment file.
// Temp files and paths outside the layout are skipped.
func (s *LayoutStore) Scan(ctx context.Context, fn func(file entity.StoredFile) error) error {
	if _, err := os.Stat(s.baseDir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}

		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}

		scope, name, ok := s.folders.ParseRelPath(rel)
		if !ok {
			s.logger.Debug("Skipping file outside layout", zap.String("path", rel))
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		return fn(entity.StoredFile{
			AbsPath:    path,
			RelPath:    filepath.ToSlash(rel),
			TenantID:   scope.TenantID,
			InstanceID: scope.InstanceID,
			ChatID:     scope.ChatID,
			Kind:       scope.Kind,
			FileName:   name,
			Size:       info.Size(),
		})
	})
}

// Verify interface compliance
var _ port.MediaStorage = (*LayoutStore)(nil)
