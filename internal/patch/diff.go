package patch

import (
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// ComputeDiff renders a unified diff between two workspace snapshots,
// covering every file that changed, was added or was removed. The diff is
// recorded for audit only; it is never re-applied.
func ComputeDiff(before, after map[string]string) (string, error) {
	rels := map[string]bool{}
	for rel := range before {
		rels[rel] = true
	}
	for rel := range after {
		rels[rel] = true
	}
	ordered := make([]string, 0, len(rels))
	for rel := range rels {
		ordered = append(ordered, rel)
	}
	sort.Strings(ordered)

	var b strings.Builder
	for _, rel := range ordered {
		old, hadOld := before[rel]
		new_, hasNew := after[rel]
		if hadOld && hasNew && old == new_ {
			continue
		}
		from, to := "a/"+rel, "b/"+rel
		if !hadOld {
			from = "/dev/null"
		}
		if !hasNew {
			to = "/dev/null"
		}
		text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        splitLines(old),
			B:        splitLines(new_),
			FromFile: from,
			ToFile:   to,
			Context:  3,
		})
		if err != nil {
			return "", err
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return difflib.SplitLines(s)
}
