package manuscript

import "errors"

// Sentinel errors returned by the manuscript package. Callers match them with
// errors.Is; the wrapped message carries the member name or store error.
var (
	// ErrUnsupportedFormat indicates the bytes are neither an EPUB nor a DOCX
	// container. The user must supply a different file.
	ErrUnsupportedFormat = errors.New("manuscript: unsupported format, only EPUB and DOCX are supported")

	// ErrInvalidArchive indicates the ZIP container could not be opened.
	ErrInvalidArchive = errors.New("manuscript: invalid archive")

	// ErrReadFailure indicates an archive member could not be decompressed or
	// decoded. It signals a corrupt archive.
	ErrReadFailure = errors.New("manuscript: archive member read failed")

	// ErrDecode indicates a text member is not valid UTF-8. Errors carrying it
	// also match ErrReadFailure.
	ErrDecode = errors.New("manuscript: member is not valid UTF-8")

	// ErrMemberNotFound indicates the requested member does not exist.
	ErrMemberNotFound = errors.New("manuscript: member not found in archive")

	// ErrStorageFailure indicates an image upload failed. The whole extraction
	// is aborted; this is the only error worth retrying.
	ErrStorageFailure = errors.New("manuscript: image relocation failed")

	// ErrTooLarge indicates the input exceeds Config.MaxFileSize.
	ErrTooLarge = errors.New("manuscript: file too large")

	// ErrInvalidNamespace indicates the asset namespace is unsafe for use in a
	// storage key.
	ErrInvalidNamespace = errors.New("manuscript: invalid asset namespace")
)

// IsRetryable reports whether err is worth retrying by the caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageFailure)
}
