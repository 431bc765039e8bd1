package searchindex

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/mrhatman/booksearch/pkg/errors"
)

// Format selects the on-disk representation.
type Format int

const (
	// FormatJSON is the bare object, as in searchindex.json.
	FormatJSON Format = iota
	// FormatJS wraps the object in a script assignment, as in searchindex.js.
	FormatJS
)

const (
	jsPrefix = "Object.assign(window.search, "
	jsSuffix = ");"
)

func (f Format) String() string {
	switch f {
	case FormatJS:
		return "js"
	default:
		return "json"
	}
}

// ParseFormat maps "js" and "json" to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "js", "javascript":
		return FormatJS, nil
	}
	return FormatJSON, fmt.Errorf("%w: %q", apperrors.ErrUnsupportedFormat, s)
}

// FormatForPath infers the format from a file extension.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".js") {
		return FormatJS
	}
	return FormatJSON
}

// Parse decodes an index from either representation. The JavaScript wrapper
// is recognised by locating the outermost object literal.
func Parse(data []byte) (*Index, error) {
	payload, err := extractObject(data)
	if err != nil {
		return nil, err
	}
	var idx Index
	if err := json.Unmarshal(payload, &idx); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidIndex, err)
	}
	idx.normalize()
	return &idx, nil
}

// Load reads and parses an index file.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading search index %s: %w", path, err)
	}
	idx, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing search index %s: %w", path, err)
	}
	return idx, nil
}

func extractObject(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty input", apperrors.ErrInvalidIndex)
	}
	if trimmed[0] == '{' {
		return trimmed, nil
	}
	start := bytes.IndexByte(trimmed, '{')
	end := bytes.LastIndexByte(trimmed, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no object literal found", apperrors.ErrInvalidIndex)
	}
	return trimmed[start : end+1], nil
}

// Encode serialises idx. Object keys are sorted the way the generator sorts
// them and HTML characters are left unescaped, so an index parsed from a
// generated file encodes back to the same bytes.
func Encode(idx *Index, format Format) ([]byte, error) {
	idx.normalize()
	var buf bytes.Buffer
	if format == FormatJS {
		buf.WriteString(jsPrefix)
	}
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(idx); err != nil {
		return nil, fmt.Errorf("encoding search index: %w", err)
	}
	// Encoder.Encode terminates the value with a newline.
	buf.Truncate(buf.Len() - 1)
	if format == FormatJS {
		buf.WriteString(jsSuffix)
	}
	return buf.Bytes(), nil
}

// WriteFile atomically replaces path with the encoded index. It writes to a
// .tmp file first and renames on success.
func WriteFile(path string, idx *Index, format Format) error {
	data, err := Encode(idx, format)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating index directory: %w", err)
		}
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp index file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing index file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing index file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming index file: %w", err)
	}
	return nil
}

// Fingerprint identifies the content of an index independently of its
// wrapper format.
func Fingerprint(idx *Index) (string, error) {
	data, err := Encode(idx, FormatJSON)
	if err != nil {
		return "", err
	}
	return FingerprintBytes(data), nil
}

// FingerprintBytes hashes an already encoded JSON index.
func FingerprintBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:16])
}
