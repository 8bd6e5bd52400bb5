// Package validation provides centralized input validation logic.
// This includes object key, file name, content type and part list checks.
//
// All client inputs are validated before any request is sent to the object
// store so rejected calls never leave storage-side state behind.
package validation

import (
	"fmt"
	"mime"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

const (
	maxKeyLength      = 1024
	maxFileNameLength = 255
)

// ValidateObjectKey validates that an object key is safe to place in a store path.
// This includes preventing path traversal attacks and ensuring valid characters.
func ValidateObjectKey(key string) error {
	if key == "" {
		return errors.NewError("validateObjectKey", errors.ErrInvalidInput).
			WithKey(key).
			WithMessage("object key cannot be empty")
	}

	if hasPathTraversal(key) {
		return errors.NewError("validateObjectKey", errors.ErrInvalidInput).
			WithKey(key).
			WithMessage("object key cannot contain path traversal sequences")
	}

	if len(key) > maxKeyLength {
		return errors.NewError("validateObjectKey", errors.ErrInvalidInput).
			WithKey(key).
			WithMessage("object key cannot exceed 1024 characters")
	}

	if hasControlCharacters(key) {
		return errors.NewError("validateObjectKey", errors.ErrInvalidInput).
			WithKey(key).
			WithMessage("object key cannot contain control characters")
	}

	return nil
}

// ValidateFileName checks a client-supplied file name. Names are informational
// and never used as a key, but must still be printable and bounded.
func ValidateFileName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.NewError("validateFileName", errors.ErrInvalidInput).
			WithMessage("file name cannot be empty")
	}
	if !utf8.ValidString(name) {
		return errors.NewError("validateFileName", errors.ErrInvalidInput).
			WithMessage("file name must be valid UTF-8")
	}
	if len(name) > maxFileNameLength {
		return errors.NewError("validateFileName", errors.ErrInvalidInput).
			WithMessage("file name cannot exceed 255 bytes")
	}
	if hasControlCharacters(name) {
		return errors.NewError("validateFileName", errors.ErrInvalidInput).
			WithMessage("file name cannot contain control characters")
	}
	return nil
}

// SanitizeFileName strips any directory components a client may have sent.
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSpace(name)
}

// ValidateContentType checks that contentType is a well-formed media type and,
// when allowed is non-empty, that it starts with one of the allowed prefixes.
// It returns the normalized media type without parameters.
func ValidateContentType(contentType string, allowed []string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", errors.NewError("validateContentType", errors.ErrInvalidInput).
			WithMessage(fmt.Sprintf("malformed content type %q", contentType))
	}
	if len(allowed) == 0 {
		return mediaType, nil
	}
	for _, prefix := range allowed {
		if strings.HasPrefix(mediaType, strings.ToLower(prefix)) {
			return mediaType, nil
		}
	}
	return "", errors.NewError("validateContentType", errors.ErrInvalidInput).
		WithMessage(fmt.Sprintf("content type %q is not accepted", mediaType))
}

// ValidatePartCount checks a requested part count against the file size.
func ValidatePartCount(partCount int, fileSize int64) error {
	limit := uploadtypes.MaxPartsFor(fileSize)
	if partCount < 1 || partCount > limit {
		return errors.NewError("validatePartCount", errors.ErrInvalidPartRange).
			WithMessage(fmt.Sprintf("part count %d outside [1, %d]", partCount, limit))
	}
	return nil
}

// ValidateParts checks that parts cover exactly 1..N with no duplicates and no
// empty ETags. When expected is positive, N must equal expected. It returns a
// copy sorted by part number; the input is left untouched.
func ValidateParts(parts []uploadtypes.Part, expected int) ([]uploadtypes.Part, error) {
	if len(parts) == 0 {
		return nil, errors.NewError("validateParts", errors.ErrInvalidPartRange).
			WithMessage("part list is empty")
	}

	sorted := make([]uploadtypes.Part, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].PartNumber < sorted[j].PartNumber
	})

	for i, p := range sorted {
		want := i + 1
		switch {
		case p.PartNumber == want:
		case i > 0 && p.PartNumber == sorted[i-1].PartNumber:
			return nil, errors.NewError("validateParts", errors.ErrInvalidPartRange).
				WithMessage(fmt.Sprintf("duplicate part number %d", p.PartNumber))
		default:
			return nil, errors.NewError("validateParts", errors.ErrInvalidPartRange).
				WithMessage(fmt.Sprintf("missing part number %d", want))
		}
		if strings.TrimSpace(p.ETag) == "" {
			return nil, errors.NewError("validateParts", errors.ErrInvalidPartRange).
				WithMessage(fmt.Sprintf("part %d has no etag", p.PartNumber))
		}
	}

	if expected > 0 && len(sorted) != expected {
		return nil, errors.NewError("validateParts", errors.ErrInvalidPartRange).
			WithMessage(fmt.Sprintf("expected %d parts, got %d", expected, len(sorted)))
	}
	if len(sorted) > uploadtypes.MaxParts {
		return nil, errors.NewError("validateParts", errors.ErrInvalidPartRange).
			WithMessage(fmt.Sprintf("more than %d parts", uploadtypes.MaxParts))
	}
	return sorted, nil
}

// hasPathTraversal checks for path traversal attempts in object keys
func hasPathTraversal(key string) bool {
	if strings.Contains(key, "..") {
		return true
	}

	cleaned := filepath.Clean(key)
	if strings.HasPrefix(cleaned, "..") {
		return true
	}

	if strings.HasPrefix(cleaned, "/") {
		return true
	}

	// Windows-style absolute paths
	if len(cleaned) >= 3 && cleaned[1] == ':' && (cleaned[2] == '\\' || cleaned[2] == '/') {
		return true
	}

	return false
}

// hasControlCharacters checks if a string contains control characters
func hasControlCharacters(s string) bool {
	for _, char := range s {
		if unicode.IsControl(char) {
			return true
		}
	}
	return false
}
