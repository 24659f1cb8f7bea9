package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hexforge-labs/armloop/internal/paths"
)

// Metadata and artifact names excluded from snapshots. Snapshot content is
// what the patch engine and prompt context operate on; build outputs and run
// bookkeeping are toolchain-owned.
var ignoredDirs = map[string]bool{
	".git":     true,
	".armloop": true,
}

var ignoredExts = map[string]bool{
	".elf": true,
	".axf": true,
	".o":   true,
	".obj": true,
	".bin": true,
}

var snapshotDirRe = regexp.MustCompile(`^\d{8}_\d{6}`)

// Workspace is the directory tree holding the program under generation for
// one task run. It is exclusively owned by that run.
type Workspace struct {
	root string
}

// New creates the workspace directory if needed and returns a handle.
func New(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Workspace{root: abs}, nil
}

func (w *Workspace) Root() string { return w.root }

// Snapshot returns the current text files as a map of slash-separated
// relative path to content. Build artifacts, run metadata and binary files
// are excluded.
func (w *Workspace) Snapshot() (map[string]string, error) {
	snap := map[string]string{}
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != w.root && (ignoredDirs[name] || snapshotDirRe.MatchString(name)) {
				return filepath.SkipDir
			}
			return nil
		}
		if ignoredExts[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}
		if strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if strings.ContainsRune(string(b), 0) {
			// binary content, not patchable text
			return nil
		}
		snap[filepath.ToSlash(rel)] = string(b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ReadFile returns the content of a workspace-relative file.
func (w *Workspace) ReadFile(rel string) (string, error) {
	abs, err := paths.SafeJoin(w.root, rel)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteFile writes a workspace-relative file, creating parent directories.
func (w *Workspace) WriteFile(rel, content string) error {
	abs, err := paths.SafeJoin(w.root, rel)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(abs); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(abs, []byte(content), 0o644)
}

// RemoveFile deletes a workspace-relative file.
func (w *Workspace) RemoveFile(rel string) error {
	abs, err := paths.SafeJoin(w.root, rel)
	if err != nil {
		return err
	}
	return os.Remove(abs)
}

// Exists reports whether a workspace-relative file exists.
func (w *Workspace) Exists(rel string) bool {
	abs, err := paths.SafeJoin(w.root, rel)
	if err != nil {
		return false
	}
	fi, err := os.Stat(abs)
	return err == nil && !fi.IsDir()
}

// seedExts are the source kinds copied from a starter directory.
var seedExts = []string{".c", ".h", ".s", ".S", ".ld"}

// SeedFrom copies starter sources (and Makefiles) from dir into the
// workspace, preserving relative layout.
func (w *Workspace) SeedFrom(dir string) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("seed directory not found: %s", dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if ignoredDirs[d.Name()] && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !seedable(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return w.WriteFile(filepath.ToSlash(rel), string(b))
	})
}

func seedable(name string) bool {
	if name == "Makefile" {
		return true
	}
	ext := filepath.Ext(name)
	for _, e := range seedExts {
		if ext == e {
			return true
		}
	}
	return false
}

// ContextBlock renders a snapshot as a prompt-ready block, one fenced section
// per file in deterministic order.
func ContextBlock(snap map[string]string) string {
	if len(snap) == 0 {
		return ""
	}
	rels := make([]string, 0, len(snap))
	for rel := range snap {
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	var b strings.Builder
	b.WriteString("\n\n=== EXISTING CODEBASE ===\n")
	for _, rel := range rels {
		fmt.Fprintf(&b, "\n--- File: %s ---\n```\n%s\n```\n", rel, snap[rel])
	}
	b.WriteString("=========================\n")
	return b.String()
}

// SnapshotSuccess copies the workspace's top-level files into a timestamped
// subdirectory and returns its path. Called once when a run succeeds.
func (w *Workspace) SnapshotSuccess() (string, error) {
	stamp := time.Now().Format("20060102_150405.000000")
	stamp = strings.ReplaceAll(stamp, ".", "_")
	dir := filepath.Join(w.root, stamp)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", err
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		b, err := os.ReadFile(filepath.Join(w.root, e.Name()))
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(filepath.Join(dir, e.Name()), b, 0o644); err != nil {
			return "", err
		}
	}
	return dir, nil
}
