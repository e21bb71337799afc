// Package validate implements upload admission checks: file extension
// against the configured format list and size against the configured cap.
// Pure functions over path strings and sizes; no filesystem access.
package validate

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// FileValidator checks candidate uploads before they enter the pipeline.
// A failed validation is a recoverable per-file condition, never a
// pipeline fault.
type FileValidator struct {
	// extensions holds the accepted set, dotted and lowercase (".pdf").
	extensions map[string]bool
}

// New creates a FileValidator accepting the given formats. Entries may be
// dotted or bare ("pdf" and ".PDF" are equivalent); empty entries are
// dropped.
func New(formats []string) *FileValidator {
	exts := make(map[string]bool, len(formats))
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		f = strings.TrimPrefix(f, ".")
		if f == "" {
			continue
		}
		exts["."+f] = true
	}
	return &FileValidator{extensions: exts}
}

// SupportedExtensions returns the accepted extensions, dotted and lowercase.
func (v *FileValidator) SupportedExtensions() map[string]bool {
	out := make(map[string]bool, len(v.extensions))
	for ext := range v.extensions {
		out[ext] = true
	}
	return out
}

// SupportedList returns the accepted extensions sorted, for display.
func (v *FileValidator) SupportedList() []string {
	out := make([]string, 0, len(v.extensions))
	for ext := range v.extensions {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// ValidateType checks the path's extension against the accepted set.
// The extension comparison is case-insensitive.
func (v *FileValidator) ValidateType(path string) (bool, string) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" || ext == "." {
		return false, "File has no extension"
	}
	if !v.extensions[ext] {
		return false, fmt.Sprintf("Unsupported file type: %s", strings.TrimPrefix(ext, "."))
	}
	return true, ""
}

// ValidateSize checks a byte count against the configured cap in megabytes.
// Negative sizes are rejected. A size exactly at the cap is accepted.
func (v *FileValidator) ValidateSize(sizeBytes int64, maxMB int) (bool, string) {
	if sizeBytes < 0 {
		return false, fmt.Sprintf("Invalid file size: %d bytes", sizeBytes)
	}
	maxBytes := int64(maxMB) * 1024 * 1024
	if sizeBytes > maxBytes {
		return false, fmt.Sprintf("File too large: %.1f MB exceeds limit of %d MB",
			float64(sizeBytes)/(1024*1024), maxMB)
	}
	return true, ""
}

// Validate composes type and size checks, type first. Returns the first
// failure message, or (true, "").
func (v *FileValidator) Validate(path string, sizeBytes int64, maxMB int) (bool, string) {
	if ok, msg := v.ValidateType(path); !ok {
		return false, msg
	}
	if ok, msg := v.ValidateSize(sizeBytes, maxMB); !ok {
		return false, msg
	}
	return true, ""
}
