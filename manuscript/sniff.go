package manuscript

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
)

// zipMagic is the ZIP local file header signature ("PK\x03\x04").
var zipMagic = []byte{0x50, 0x4B, 0x03, 0x04}

// Detect classifies data as an EPUB or DOCX container by looking at the
// archive's member names. It never fails: anything that is not a ZIP, or a
// ZIP without a recognisable package layout, is FormatUnknown.
//
// Only the central directory is read; no member is decompressed.
func Detect(data []byte) Format {
	if len(data) < len(zipMagic) || !bytes.Equal(data[:len(zipMagic)], zipMagic) {
		return FormatUnknown
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil && !(errors.Is(err, zip.ErrInsecurePath) && zr != nil) {
		return FormatUnknown
	}

	// Directory order makes the verdict stable for identical bytes.
	for _, f := range zr.File {
		name := strings.ToLower(f.Name)
		if name == "mimetype" || strings.Contains(name, "meta-inf/container.xml") {
			return FormatEpub
		}
		if strings.Contains(name, "[content_types].xml") || strings.Contains(name, "word/document.xml") {
			return FormatDocx
		}
	}
	return FormatUnknown
}

// SupportedFormats returns the container formats Extract accepts.
func SupportedFormats() []string {
	return []string{string(FormatEpub), string(FormatDocx)}
}
