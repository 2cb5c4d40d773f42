package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/batilieri/multichat-system-sub001/internal/domain/entity"
	"go.uber.org/zap"
)

// chatsSegment separates instance scope from chat scope in the layout
const chatsSegment = "chats"

var unsafeSegmentChars = regexp.MustCompile(`[^a-zA-Z0-9\-_]`)

// FolderManager owns the directory layout
// {root}/{tenant}/{instance}/chats/{chat}/{kind}
type FolderManager struct {
	baseDir string
	logger  *zap.Logger
}

// NewFolderManager creates a new FolderManager
func NewFolderManager(baseDir string, logger *zap.Logger) *FolderManager {
	return &FolderManager{
		baseDir: baseDir,
		logger:  logger,
	}
}

// Scope identifies one leaf directory of the layout
type Scope struct {
	TenantID   string
	InstanceID string
	ChatID     string
	Kind       entity.AttachmentKind
}

// ChatDir returns the sanitized relative directory for a scope
func (m *FolderManager) ChatDir(s Scope) (string, error) {
	segments := []struct {
		name  string
		value string
	}{
		{"tenant", s.TenantID},
		{"instance", s.InstanceID},
		{"chat", s.ChatID},
		{"kind", string(s.Kind)},
	}

	safe := make([]string, len(segments))
	for i, seg := range segments {
		safe[i] = SanitizeName(seg.value)
		if safe[i] == "" {
			return "", fmt.Errorf("%w: empty %s segment after sanitizing %q", entity.ErrStorage, seg.name, seg.value)
		}
	}

	return filepath.Join(safe[0], safe[1], chatsSegment, safe[2], safe[3]), nil
}

// EnsureDir creates the directory for a scope and returns its absolute path
func (m *FolderManager) EnsureDir(s Scope) (string, string, error) {
	rel, err := m.ChatDir(s)
	if err != nil {
		return "", "", err
	}

	abs := filepath.Join(m.baseDir, rel)
	if err := validatePath(m.baseDir, abs); err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(abs, 0755); err != nil {
		m.logger.Error("Failed to create chat folder",
			zap.String("folder_path", abs),
			zap.Error(err))
		return "", "", fmt.Errorf("%w: failed to create folder: %v", entity.ErrStorage, err)
	}

	return abs, rel, nil
}

// ParseRelPath recovers the scope and file name from a layout-relative path
func (m *FolderManager) ParseRelPath(rel string) (Scope, string, bool) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 6 || parts[2] != chatsSegment {
		return Scope{}, "", false
	}

	kind, ok := entity.ParseKind(parts[4])
	if !ok {
		return Scope{}, "", false
	}

	return Scope{
		TenantID:   parts[0],
		InstanceID: parts[1],
		ChatID:     parts[3],
		Kind:       kind,
	}, parts[5], true
}

// SanitizeName returns a filesystem-safe version of the name
// Keeps only alphanumeric, hyphens, and underscores
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "..", "")
	return unsafeSegmentChars.ReplaceAllString(name, "")
}

// validatePath checks that the path is safe and within baseDir
func validatePath(baseDir, fullPath string) error {
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return fmt.Errorf("%w: failed to resolve path: %v", entity.ErrStorage, err)
	}

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("%w: failed to resolve base path: %v", entity.ErrStorage, err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) && absPath != absBase {
		return fmt.Errorf("%w: path escapes base directory: %s", entity.ErrStorage, fullPath)
	}

	return nil
}
