// Package filename formats and parses stored attachment file names.
//
// Grammar:
//
//	filename  = "msg_" id "_" timestamp [ "_" n ] ext
//	id        = 1*16( ALPHA / DIGIT )     ; sanitized message id prefix
//	timestamp = 14DIGIT                   ; UTC capture time, YYYYMMDDhhmmss
//	n         = 1*DIGIT                   ; collision disambiguator, starts at 1
//	ext       = "." 1*10( ALPHA / DIGIT ) / ""
package filename

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Prefix starts every stored attachment file name
	Prefix = "msg_"

	// TimestampLayout is the capture time layout embedded in file names
	TimestampLayout = "20060102150405"

	// MaxIDPrefixLen bounds the message id prefix
	MaxIDPrefixLen = 16

	maxExtLen = 10
)

// ErrInvalidName is returned when a file name does not follow the grammar
var ErrInvalidName = errors.New("file name does not match attachment grammar")

var (
	namePattern = regexp.MustCompile(`^msg_([A-Za-z0-9]{1,16})_([0-9]{14})(?:_([0-9]+))?(\.[A-Za-z0-9]{1,10})?$`)
	nonAlnum    = regexp.MustCompile(`[^A-Za-z0-9]`)
)

// Name is the parsed form of a stored attachment file name
type Name struct {
	IDPrefix      string
	CapturedAt    time.Time
	Disambiguator int
	Ext           string
}

// IDPrefix derives the file name id component from a provider message id
func IDPrefix(messageID string) string {
	id := nonAlnum.ReplaceAllString(messageID, "")
	if len(id) > MaxIDPrefixLen {
		id = id[:MaxIDPrefixLen]
	}
	return id
}

// NormalizeExt returns ext as ".xyz", or "" when nothing usable remains
func NormalizeExt(ext string) string {
	ext = strings.ToLower(nonAlnum.ReplaceAllString(strings.TrimPrefix(ext, "."), ""))
	if ext == "" {
		return ""
	}
	if len(ext) > maxExtLen {
		ext = ext[:maxExtLen]
	}
	return "." + ext
}

// New builds a Name from a message id and capture time
func New(messageID string, capturedAt time.Time, ext string) (Name, error) {
	prefix := IDPrefix(messageID)
	if prefix == "" {
		return Name{}, fmt.Errorf("%w: message id %q has no usable characters", ErrInvalidName, messageID)
	}
	return Name{
		IDPrefix:   prefix,
		CapturedAt: capturedAt.UTC().Truncate(time.Second),
		Ext:        NormalizeExt(ext),
	}, nil
}

// WithDisambiguator returns a copy of n carrying collision counter i
func (n Name) WithDisambiguator(i int) Name {
	n.Disambiguator = i
	return n
}

// String formats the name according to the grammar
func (n Name) String() string {
	var b strings.Builder
	b.WriteString(Prefix)
	b.WriteString(n.IDPrefix)
	b.WriteByte('_')
	b.WriteString(n.CapturedAt.UTC().Format(TimestampLayout))
	if n.Disambiguator > 0 {
		b.WriteByte('_')
		b.WriteString(strconv.Itoa(n.Disambiguator))
	}
	b.WriteString(n.Ext)
	return b.String()
}

// Parse parses a stored attachment file name
func Parse(name string) (Name, error) {
	m := namePattern.FindStringSubmatch(name)
	if m == nil {
		return Name{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	ts, err := time.ParseInLocation(TimestampLayout, m[2], time.UTC)
	if err != nil {
		return Name{}, fmt.Errorf("%w: bad timestamp in %q: %v", ErrInvalidName, name, err)
	}

	n := Name{
		IDPrefix:   m[1],
		CapturedAt: ts,
		Ext:        strings.ToLower(m[4]),
	}
	if m[3] != "" {
		d, err := strconv.Atoi(m[3])
		if err != nil || d <= 0 {
			return Name{}, fmt.Errorf("%w: bad disambiguator in %q", ErrInvalidName, name)
		}
		n.Disambiguator = d
	}
	return n, nil
}
