package manuscript

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"
)

// maxMemberSize caps the decompressed size of a single member (zip bomb guard).
const maxMemberSize int64 = 256 * 1024 * 1024

// Archive is a read-only view over a ZIP container held in memory.
//
// An Archive is cheap to build and is meant to live for one synchronous
// scan. The extraction pipeline opens a fresh Archive over the same bytes
// for each pass instead of keeping one alive across uploads.
type Archive struct {
	zr    *zip.Reader
	limit int64
}

// OpenArchive parses the central directory of data.
func OpenArchive(data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	// Insecure member names are rejected per member by readFile.
	if err != nil && !(errors.Is(err, zip.ErrInsecurePath) && zr != nil) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	return &Archive{zr: zr, limit: maxMemberSize}, nil
}

// Members returns member names in central directory order.
func (a *Archive) Members() []string {
	names := make([]string, len(a.zr.File))
	for i, f := range a.zr.File {
		names[i] = f.Name
	}
	return names
}

// ReadIndex reads the i-th member fully into memory.
func (a *Archive) ReadIndex(i int) ([]byte, error) {
	if i < 0 || i >= len(a.zr.File) {
		return nil, fmt.Errorf("%w: index %d", ErrMemberNotFound, i)
	}
	return a.readFile(a.zr.File[i])
}

// Read reads the named member fully into memory. An exact name match wins
// over a case-insensitive one.
func (a *Archive) Read(name string) ([]byte, error) {
	f := a.find(name)
	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, name)
	}
	return a.readFile(f)
}

// ReadText reads the named member as UTF-8 text, dropping a leading BOM.
func (a *Archive) ReadText(name string) (string, error) {
	data, err := a.Read(name)
	if err != nil {
		return "", err
	}
	return decodeText(name, data)
}

// ReadTextIndex is ReadText for the i-th member.
func (a *Archive) ReadTextIndex(i int) (string, error) {
	data, err := a.ReadIndex(i)
	if err != nil {
		return "", err
	}
	return decodeText(a.zr.File[i].Name, data)
}

func (a *Archive) find(name string) *zip.File {
	for _, f := range a.zr.File {
		if f.Name == name {
			return f
		}
	}
	lower := strings.ToLower(name)
	for _, f := range a.zr.File {
		if strings.ToLower(f.Name) == lower {
			return f
		}
	}
	return nil
}

func (a *Archive) readFile(f *zip.File) ([]byte, error) {
	if !isSafePath(f.Name) {
		return nil, fmt.Errorf("%w: unsafe member path %q", ErrReadFailure, f.Name)
	}
	if f.UncompressedSize64 > uint64(a.limit) {
		return nil, fmt.Errorf("%w: %s is %d bytes (max %d)", ErrReadFailure, f.Name, f.UncompressedSize64, a.limit)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrReadFailure, f.Name, err)
	}
	defer rc.Close()

	// The declared size may be forged; read one byte past the limit to tell.
	data, err := io.ReadAll(io.LimitReader(rc, a.limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrReadFailure, f.Name, err)
	}
	if int64(len(data)) > a.limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes once decompressed", ErrReadFailure, f.Name, a.limit)
	}
	return data, nil
}

func decodeText(name string, data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %w: %s", ErrReadFailure, ErrDecode, name)
	}
	return string(data), nil
}

// isSafePath rejects member names that escape the archive root.
func isSafePath(p string) bool {
	cleaned := path.Clean(p)
	if strings.HasPrefix(cleaned, "/") {
		return false
	}
	return cleaned != ".." && !strings.HasPrefix(cleaned, "../")
}
