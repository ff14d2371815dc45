// utils/unzip.go
package utils

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var (
	ErrNoResultFile        = errors.New("archive contains no result file")
	ErrAmbiguousResultFile = errors.New("archive contains more than one result file")
	ErrEntryTooLarge       = errors.New("archive entry exceeds size limit")
)

// ExtractResultFile reads a zip archive held in memory and returns the bytes of its
// result JSON file. Entries whose names escape the archive root are rejected.
// maxBytes bounds the uncompressed size of the returned entry.
func ExtractResultFile(data []byte, maxBytes int64) (string, []byte, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, fmt.Errorf("invalid zip archive: %w", err)
	}

	var names []string
	files := make(map[string]*zip.File)
	for _, f := range r.File {
		// Security: prevent zip slip (path traversal)
		clean := path.Clean(strings.ReplaceAll(f.Name, "\\", "/"))
		if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
			return "", nil, fmt.Errorf("illegal file path: %s", f.Name)
		}
		if f.FileInfo().IsDir() {
			continue
		}
		names = append(names, clean)
		files[clean] = f
	}

	name, err := findResultFile(names)
	if err != nil {
		return "", nil, err
	}

	f := files[name]
	if f.UncompressedSize64 > uint64(maxBytes) {
		return "", nil, fmt.Errorf("%w: %s", ErrEntryTooLarge, name)
	}
	rc, err := f.Open()
	if err != nil {
		return "", nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer rc.Close()

	// The header size can lie; cap the actual read as well.
	body, err := io.ReadAll(io.LimitReader(rc, maxBytes+1))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if int64(len(body)) > maxBytes {
		return "", nil, fmt.Errorf("%w: %s", ErrEntryTooLarge, name)
	}
	return name, body, nil
}
