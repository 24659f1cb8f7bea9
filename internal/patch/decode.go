package patch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Op is the closed set of structured edit operations.
type Op string

const (
	OpModify Op = "modify"
	OpCreate Op = "create"
	OpDelete Op = "delete"
	OpMove   Op = "move"
)

// Edit is one operation against the workspace. Which fields are mandatory
// depends on Op; Decode enforces that.
type Edit struct {
	Op        Op
	Path      string
	NewPath   string
	Content   string
	Overwrite bool
}

// EditSet is an ordered list of operations decoded from a generation
// response. Sanitized reports that wrapper prose had to be stripped around
// the JSON object before decoding.
type EditSet struct {
	Edits     []Edit
	Sanitized bool
}

var ErrDecode = errors.New("invalid edit instructions")

type editJSON struct {
	Op        string  `json:"op"`
	Path      *string `json:"path"`
	NewPath   *string `json:"new_path"`
	Content   *string `json:"content"`
	Overwrite *bool   `json:"overwrite"`
}

type payloadJSON struct {
	Edits []editJSON `json:"edits"`
}

// Decode parses a generation response into an EditSet. The response must be
// a JSON object of the form {"edits":[...]}; if it is wrapped in prose, the
// first balanced JSON object is extracted and the set is marked sanitized.
// Unknown operations, unknown fields and missing mandatory fields are decode
// errors, never runtime surprises later.
func Decode(response string) (EditSet, error) {
	stripped := strings.TrimSpace(response)
	sanitized := false

	raw := stripped
	if !json.Valid([]byte(raw)) {
		blob, ok := extractFirstJSONObject(stripped)
		if !ok {
			return EditSet{}, fmt.Errorf("response is not a JSON object: %w", ErrDecode)
		}
		sanitized = blob != stripped
		raw = blob
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	var payload payloadJSON
	if err := dec.Decode(&payload); err != nil {
		return EditSet{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(payload.Edits) == 0 {
		return EditSet{}, fmt.Errorf("'edits' list is missing or empty: %w", ErrDecode)
	}

	set := EditSet{Sanitized: sanitized, Edits: make([]Edit, 0, len(payload.Edits))}
	for i, e := range payload.Edits {
		edit, err := decodeOne(e, i+1)
		if err != nil {
			return EditSet{}, err
		}
		set.Edits = append(set.Edits, edit)
	}
	return set, nil
}

func decodeOne(e editJSON, idx int) (Edit, error) {
	fail := func(format string, args ...any) (Edit, error) {
		return Edit{}, fmt.Errorf("edit #%d: %s: %w", idx, fmt.Sprintf(format, args...), ErrDecode)
	}

	if e.Op == "" {
		return fail("missing required field 'op'")
	}
	op := Op(e.Op)
	switch op {
	case OpModify, OpCreate:
		if e.Path == nil || *e.Path == "" {
			return fail("op %q requires 'path'", op)
		}
		if e.Content == nil {
			return fail("op %q requires 'content'", op)
		}
		if e.NewPath != nil {
			return fail("op %q does not take 'new_path'", op)
		}
		if op == OpModify && e.Overwrite != nil {
			return fail("op %q does not take 'overwrite'", op)
		}
		edit := Edit{Op: op, Path: *e.Path, Content: *e.Content}
		if op == OpCreate && e.Overwrite != nil {
			edit.Overwrite = *e.Overwrite
		}
		return edit, nil
	case OpDelete:
		if e.Path == nil || *e.Path == "" {
			return fail("op %q requires 'path'", op)
		}
		if e.NewPath != nil || e.Content != nil || e.Overwrite != nil {
			return fail("op %q takes only 'path'", op)
		}
		return Edit{Op: op, Path: *e.Path}, nil
	case OpMove:
		if e.Path == nil || *e.Path == "" {
			return fail("op %q requires 'path'", op)
		}
		if e.NewPath == nil || *e.NewPath == "" {
			return fail("op %q requires 'new_path'", op)
		}
		if e.Content != nil || e.Overwrite != nil {
			return fail("op %q takes only 'path' and 'new_path'", op)
		}
		return Edit{Op: op, Path: *e.Path, NewPath: *e.NewPath}, nil
	default:
		return fail("unsupported operation %q", e.Op)
	}
}

// extractFirstJSONObject scans for the first balanced top-level {...} while
// respecting string literals and escapes.
func extractFirstJSONObject(text string) (string, bool) {
	inString := false
	escaped := false
	depth := 0
	start := -1

	for i, ch := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
