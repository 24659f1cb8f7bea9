package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hexforge-labs/armloop/internal/api"
	"github.com/hexforge-labs/armloop/internal/prompt"
)

func TestParsePolicy(t *testing.T) {
	cases := []struct {
		in   string
		want api.IncrementalPolicy
		ok   bool
	}{
		{"", api.IncrementalOff, true},
		{"off", api.IncrementalOff, true},
		{"normal", api.IncrementalNormal, true},
		{"strict", api.IncrementalStrict, true},
		{"eager", "", false},
	}
	for _, c := range cases {
		got, err := parsePolicy(c.in)
		if c.ok && (err != nil || got != c.want) {
			t.Fatalf("parsePolicy(%q) = %q, %v", c.in, got, err)
		}
		if !c.ok && err == nil {
			t.Fatalf("parsePolicy(%q) accepted", c.in)
		}
	}
}

func TestLoadTaskPromptExpandsPlaceholders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.txt")
	content := "Write to the UART at {uart_addr} on {board_name}. Output: {expected_output}"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	target, err := prompt.TargetFor("gcc")
	if err != nil {
		t.Fatal(err)
	}
	got, err := loadTaskPrompt(path, target, "fib(10) = 55")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, want := range []string{"0x101F1000", "QEMU versatilepb", "fib(10) = 55"} {
		if !strings.Contains(got, want) {
			t.Fatalf("prompt missing %q: %s", want, got)
		}
	}
	if strings.Contains(got, "{uart_addr}") {
		t.Fatalf("placeholder not expanded: %s", got)
	}
}

func TestParseTaskFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.txt")
	content := `# scoring set
fib10 prompts/fib.txt fib(10) = 55

sum100 prompts/sum.txt SUM: 5050
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	specs, err := parseTaskFile(path, "gcc", api.IncrementalNormal, "agent_code.s", "runs")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("got %d specs, want 2", len(specs))
	}
	if specs[0].Name != "fib10" || specs[0].Expected != "fib(10) = 55" {
		t.Fatalf("first spec = %+v", specs[0])
	}
	if specs[1].PromptPath != "prompts/sum.txt" || specs[1].Policy != api.IncrementalNormal {
		t.Fatalf("second spec = %+v", specs[1])
	}
}

func TestParseTaskFileRejectsShortLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.txt")
	if err := os.WriteFile(path, []byte("fib10 prompts/fib.txt\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := parseTaskFile(path, "gcc", api.IncrementalOff, "agent_code.s", "runs"); err == nil {
		t.Fatalf("two-field line accepted")
	}
}

func TestVersionCmd(t *testing.T) {
	var buf bytes.Buffer
	cmd := VersionCmd()
	cmd.SetOut(&buf)
	cmd.Run(cmd, nil)
	if !strings.Contains(buf.String(), "armloop") {
		t.Fatalf("version output: %q", buf.String())
	}
}

func TestRunCmdRequiresPromptAndExpected(t *testing.T) {
	cmd := RunCmd()
	cmd.SetArgs([]string{"--expected", "x"})
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "--prompt") {
		t.Fatalf("err = %v, want missing --prompt", err)
	}
}
