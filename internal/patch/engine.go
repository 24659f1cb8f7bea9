package patch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hexforge-labs/armloop/internal/paths"
	"github.com/hexforge-labs/armloop/internal/workspace"
)

// ErrPatch marks an edit set rejected by validation. The workspace is
// guaranteed untouched when Apply returns an error wrapping it.
var ErrPatch = errors.New("edit set rejected")

// Result is a successfully applied edit set: the pre-attempt snapshot, the
// resulting snapshot, and a unified diff covering every changed file.
type Result struct {
	Before map[string]string
	After  map[string]string
	Diff   string
}

// Engine applies structured edit sets to a workspace. All operations in a
// set are validated against an in-memory view before anything is written, so
// a set either applies fully or not at all.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// Apply validates then commits an ordered edit set. Operations see the
// effect of earlier operations in the same set (a delete followed by a
// create of the same path is valid).
func (e *Engine) Apply(ws *workspace.Workspace, set EditSet) (*Result, error) {
	before, err := ws.Snapshot()
	if err != nil {
		return nil, err
	}

	after := make(map[string]string, len(before))
	for rel, content := range before {
		after[rel] = content
	}

	pendingTargets := map[string]bool{}
	for i, ed := range set.Edits {
		if err := applyToView(after, pendingTargets, ed, i+1, ws.Root()); err != nil {
			return nil, err
		}
	}

	if err := commit(ws, before, after); err != nil {
		return nil, err
	}

	diff, err := ComputeDiff(before, after)
	if err != nil {
		return nil, err
	}
	return &Result{Before: before, After: after, Diff: diff}, nil
}

func applyToView(view map[string]string, pendingTargets map[string]bool, ed Edit, idx int, root string) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("edit #%d (%s): %s: %w", idx, ed.Op, fmt.Sprintf(format, args...), ErrPatch)
	}

	rel, err := safeRel(root, ed.Path)
	if err != nil {
		return fail("unsafe path %q", ed.Path)
	}

	switch ed.Op {
	case OpModify:
		if _, ok := view[rel]; !ok {
			return fail("target %q does not exist", rel)
		}
		view[rel] = ed.Content
		pendingTargets[rel] = true
	case OpCreate:
		if _, ok := view[rel]; ok && !ed.Overwrite {
			return fail("target %q already exists", rel)
		}
		view[rel] = ed.Content
		pendingTargets[rel] = true
	case OpDelete:
		if _, ok := view[rel]; !ok {
			return fail("target %q does not exist", rel)
		}
		delete(view, rel)
	case OpMove:
		dst, err := safeRel(root, ed.NewPath)
		if err != nil {
			return fail("unsafe destination %q", ed.NewPath)
		}
		content, ok := view[rel]
		if !ok {
			return fail("source %q does not exist", rel)
		}
		if _, exists := view[dst]; exists {
			return fail("destination %q already exists", dst)
		}
		if pendingTargets[dst] {
			return fail("destination %q collides with an earlier operation's target", dst)
		}
		delete(view, rel)
		view[dst] = content
		pendingTargets[dst] = true
	default:
		return fail("unsupported operation")
	}
	return nil
}

// safeRel normalizes a workspace-relative path and double-checks containment
// against the real root before it is ever used for IO.
func safeRel(root, rel string) (string, error) {
	norm, err := paths.NormalizeRel(rel)
	if err != nil {
		return "", err
	}
	if _, err := paths.SafeJoin(root, norm); err != nil {
		return "", err
	}
	return norm, nil
}

// commit writes the validated view to disk. Changed files are staged next to
// their targets and renamed into place so a crash mid-commit leaves whole
// files, never truncated ones.
func commit(ws *workspace.Workspace, before, after map[string]string) error {
	type staged struct {
		tmp    string
		target string
	}
	var writes []staged
	cleanup := func() {
		for _, s := range writes {
			_ = os.Remove(s.tmp)
		}
	}

	for rel, content := range after {
		if old, ok := before[rel]; ok && old == content {
			continue
		}
		target, err := paths.SafeJoin(ws.Root(), rel)
		if err != nil {
			cleanup()
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			cleanup()
			return err
		}
		tmp, err := os.CreateTemp(filepath.Dir(target), ".staged-*")
		if err != nil {
			cleanup()
			return err
		}
		if _, err := tmp.WriteString(content); err != nil {
			tmp.Close()
			cleanup()
			return err
		}
		if err := tmp.Close(); err != nil {
			cleanup()
			return err
		}
		writes = append(writes, staged{tmp: tmp.Name(), target: target})
	}

	for _, s := range writes {
		if err := os.Rename(s.tmp, s.target); err != nil {
			cleanup()
			return err
		}
	}

	for rel := range before {
		if _, ok := after[rel]; ok {
			continue
		}
		if err := ws.RemoveFile(rel); err != nil {
			return err
		}
	}
	return nil
}
