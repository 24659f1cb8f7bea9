package gen

import (
	"fmt"
	"regexp"
	"strings"
)

// StripMarkdownFences extracts code from fenced blocks. Responses without
// any fence pass through unchanged.
func StripMarkdownFences(text string) string {
	lines := strings.Split(text, "\n")
	hasFence := false
	for _, line := range lines {
		if strings.HasPrefix(line, "```") {
			hasFence = true
			break
		}
	}
	if !hasFence {
		return text
	}
	var code []string
	inBlock := false
	for _, line := range lines {
		if strings.HasPrefix(line, "```") {
			inBlock = !inBlock
			continue
		}
		if inBlock {
			code = append(code, line)
		}
	}
	return strings.Join(code, "\n")
}

// noisePrefixes are known CLI/debug lines that leak onto stdout after an
// otherwise valid response. Kept conservative so legitimate code is never
// removed.
var noisePrefixes = []string{
	"ClearcutLogger:",
}

// StripTrailingNoise drops known leaked log lines from the end of a response.
func StripTrailingNoise(text string) string {
	lines := strings.SplitAfter(text, "\n")
	removed := false
	for len(lines) > 0 {
		last := lines[len(lines)-1]
		if last == "" {
			lines = lines[:len(lines)-1]
			continue
		}
		noisy := false
		for _, p := range noisePrefixes {
			if strings.HasPrefix(last, p) {
				noisy = true
				break
			}
		}
		if !noisy {
			break
		}
		lines = lines[:len(lines)-1]
		removed = true
	}
	if !removed {
		return text
	}
	return strings.Join(lines, "")
}

var (
	directiveRe   = regexp.MustCompile(`^\s*\.[A-Za-z_][\w.]*\b`)
	labelOnlyRe   = regexp.MustCompile(`^\s*(?:[A-Za-z_.$][\w.$]*|\d+):\s*(?:[@;].*)?$`)
	labelPrefixRe = regexp.MustCompile(`^\s*(?:[A-Za-z_.$][\w.$]*|\d+):\s*(.*)$`)
	preprocRe     = regexp.MustCompile(`^\s*#(?:include|define|if|ifdef|ifndef|elif|else|endif|pragma|error|warning)\b`)
	instrRe       = regexp.MustCompile(`^\s*[A-Za-z][A-Za-z0-9_.]*\b(?:\s+.*)?$`)
)

// rejectPrefixes mark lines that are clearly prose or leaked tool output.
var rejectPrefixes = []string{
	"ClearcutLogger:",
	"Info:",
	"Warning:",
	"Error:",
	"I will ",
	"I'll ",
	"Let me ",
	"Here is ",
	"```",
	"# ",
	"##",
}

// proseTokens are leading words that pass the generic instruction pattern
// but signal natural language.
var proseTokens = map[string]bool{
	"i": true, "here": true, "please": true, "note": true, "first": true, "then": true,
}

// ValidateARMAssembly rejects text containing obvious non-assembly content.
// Fail-closed guard applied before any full-source response is written to
// the entry file.
func ValidateARMAssembly(source string) error {
	sawAsm := false
	for lineno, raw := range strings.Split(source, "\n") {
		line := strings.TrimRight(raw, "\r")
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}

		for _, p := range rejectPrefixes {
			if strings.HasPrefix(stripped, p) {
				return fmt.Errorf("line %d looks like prose/log output, not assembly: %s", lineno+1, stripped)
			}
		}
		if strings.Contains(stripped, "`") {
			return fmt.Errorf("line %d contains markdown/backticks, not assembly: %s", lineno+1, stripped)
		}
		if isCommentStart(stripped) {
			continue
		}
		if preprocRe.MatchString(line) || directiveRe.MatchString(line) || labelOnlyRe.MatchString(line) {
			sawAsm = true
			continue
		}
		if m := labelPrefixRe.FindStringSubmatch(line); m != nil {
			tail := strings.TrimSpace(m[1])
			if tail == "" || isCommentStart(tail) ||
				preprocRe.MatchString(tail) || directiveRe.MatchString(tail) || instrRe.MatchString(tail) {
				sawAsm = true
				continue
			}
			return fmt.Errorf("line %d has a valid label but invalid code after ':': %s", lineno+1, tail)
		}
		if instrRe.MatchString(line) {
			token := strings.ToLower(strings.Fields(stripped)[0])
			if proseTokens[token] {
				return fmt.Errorf("line %d looks like prose, not assembly: %s", lineno+1, stripped)
			}
			sawAsm = true
			continue
		}
		return fmt.Errorf("line %d is not recognized as ARM assembly syntax: %s", lineno+1, stripped)
	}
	if !sawAsm {
		return fmt.Errorf("no assembly-like directives, labels, or instructions found in generated source")
	}
	return nil
}

func isCommentStart(s string) bool {
	for _, p := range []string{"@", ";", "//", "/*", "*"} {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
