package paths

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrInvalidTaskName returned when a task name fails validation
	ErrInvalidTaskName = errors.New("invalid task name")

	// ErrUnsafePath returned when a relative path would escape its root
	ErrUnsafePath = errors.New("path escapes workspace root")
)

const maxTaskNameLen = 64

var taskNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,` + strconv.Itoa(maxTaskNameLen) + `}$`)

// ValidateTaskName returns nil for allowed task names, or ErrInvalidTaskName.
// Rules:
// - Only allow ASCII letters, digits, dot, underscore and dash.
// - Max length is 64.
// - Disallow any ".." substring to avoid traversal attempts.
// - This forbids path separators '/' and '\\' and characters like ':' used in drive letters.
func ValidateTaskName(name string) error {
	if name == "" {
		return fmt.Errorf("empty task name: %w", ErrInvalidTaskName)
	}
	if len(name) > maxTaskNameLen {
		return fmt.Errorf("task name too long: %w", ErrInvalidTaskName)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("task name contains disallowed '..': %w", ErrInvalidTaskName)
	}
	if !taskNameRe.MatchString(name) {
		return fmt.Errorf("task name contains invalid characters: %w", ErrInvalidTaskName)
	}
	return nil
}

// SafeJoin joins root with rel and ensures the resulting path is inside root.
// Returns ErrUnsafePath if the result would escape root or if rel is absolute.
func SafeJoin(root, rel string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("empty root")
	}
	// If rel is absolute, joining would return rel; treat absolute rel as disallowed.
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("relative path expected, got absolute %q: %w", rel, ErrUnsafePath)
	}
	cleaned := filepath.Clean(filepath.Join(root, rel))
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	absCleaned, err := filepath.Abs(cleaned)
	if err != nil {
		return "", err
	}
	relToRoot, err := filepath.Rel(absRoot, absCleaned)
	if err != nil {
		return "", err
	}
	if relToRoot == ".." || strings.HasPrefix(filepath.ToSlash(relToRoot), "../") {
		return "", fmt.Errorf("%q: %w", rel, ErrUnsafePath)
	}
	return absCleaned, nil
}

// NormalizeRel cleans a workspace-relative path for use as a map key and
// rejects anything that is not a plain relative path.
func NormalizeRel(rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", fmt.Errorf("empty path: %w", ErrUnsafePath)
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute path %q: %w", rel, ErrUnsafePath)
	}
	cleaned := filepath.ToSlash(filepath.Clean(rel))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%q: %w", rel, ErrUnsafePath)
	}
	return cleaned, nil
}
