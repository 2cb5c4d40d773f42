package storage

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/batilieri/multichat-system-sub001/internal/domain/filename"
	"github.com/gabriel-vasile/mimetype"
)

// fallbackExt is used when neither name, declared type nor content identify the file
const fallbackExt = ".bin"

// sniffLen is how many leading bytes are inspected for content detection
const sniffLen = 3072

// resolveExtension picks the stored file extension.
// Order: original document name, declared mimetype, sniffed bytes, fallback.
func resolveExtension(originalName, declared string, head []byte) string {
	if ext := filename.NormalizeExt(filepath.Ext(originalName)); ext != "" {
		return ext
	}

	if declared != "" {
		base := declared
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
			base = mediaType
		} else if i := strings.IndexByte(declared, ';'); i >= 0 {
			base = strings.TrimSpace(declared[:i])
		}
		if m := mimetype.Lookup(strings.ToLower(base)); m != nil {
			if ext := filename.NormalizeExt(m.Extension()); ext != "" {
				return ext
			}
		}
	}

	if len(head) > 0 {
		if ext := filename.NormalizeExt(mimetype.Detect(head).Extension()); ext != "" {
			return ext
		}
	}

	return fallbackExt
}
