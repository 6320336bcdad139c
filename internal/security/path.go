package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

const maxFileNameLength = 128

// ValidateFilePath rejects empty paths and paths with ".." segments
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
		if segment == ".." {
			return fmt.Errorf("path contains directory traversal: %s", path)
		}
	}

	return nil
}

// ResolveWithin joins rel onto baseDir and fails if the result leaves baseDir
func ResolveWithin(baseDir, rel string) (string, error) {
	if err := ValidateFilePath(rel); err != nil {
		return "", err
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute paths not allowed: %s", rel)
	}

	cleanBase := filepath.Clean(baseDir)
	full := filepath.Join(cleanBase, rel)
	relToBase, err := filepath.Rel(cleanBase, full)
	if err != nil || relToBase == ".." || strings.HasPrefix(relToBase, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory: %s", rel)
	}

	return full, nil
}

// SanitizeFileName reduces name to a single path element made of letters,
// digits, '.', '-' and '_'. Other characters become '_'.
func SanitizeFileName(name string) (string, error) {
	base := filepath.Base(filepath.ToSlash(strings.TrimSpace(name)))
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}

	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	clean := strings.TrimLeft(b.String(), ".")
	if clean == "" || clean == "_" {
		return "", fmt.Errorf("file name %q has no usable characters", name)
	}
	if len(clean) > maxFileNameLength {
		ext := filepath.Ext(clean)
		if len(ext) > 16 {
			ext = ""
		}
		clean = clean[:maxFileNameLength-len(ext)] + ext
	}
	return clean, nil
}

// IsSafeIdentifier reports whether id can be used verbatim as a file name stem
func IsSafeIdentifier(id string) bool {
	if id == "" || len(id) > maxFileNameLength {
		return false
	}
	for _, r := range id {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}
