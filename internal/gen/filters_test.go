package gen

import (
	"strings"
	"testing"
)

func TestStripMarkdownFences(t *testing.T) {
	in := "Here is the code:\n```assembly\nmov r0, #1\nbx lr\n```\ntrailing prose"
	got := StripMarkdownFences(in)
	if got != "mov r0, #1\nbx lr" {
		t.Fatalf("fence strip = %q", got)
	}

	plain := ".global _start\n_start:\n  mov r0, #1\n"
	if StripMarkdownFences(plain) != plain {
		t.Fatalf("unfenced text should pass through")
	}
}

func TestStripTrailingNoise(t *testing.T) {
	in := "mov r0, #1\nClearcutLogger: flush failed\nClearcutLogger: retry\n"
	got := StripTrailingNoise(in)
	if got != "mov r0, #1\n" {
		t.Fatalf("noise strip = %q", got)
	}
	// noise in the middle is not touched
	mid := "mov r0, #1\nClearcutLogger: x\nmov r1, #2\n"
	if StripTrailingNoise(mid) != mid {
		t.Fatalf("mid-file lines should be preserved")
	}
}

func TestValidateARMAssembly_Accepts(t *testing.T) {
	sources := []string{
		".global _start\n_start:\n    mov r0, #1\n    bx lr\n",
		"@ comment\nloop:\n    ldr r1, =0x101F1000\n    strb r0, [r1]\n    b loop\n",
		"#define UART 0x101F1000\n_start:\n    mov r0, #42\n",
		"_start: mov r0, #1\n",
	}
	for _, src := range sources {
		if err := ValidateARMAssembly(src); err != nil {
			t.Fatalf("rejected valid assembly: %v\n%s", err, src)
		}
	}
}

func TestValidateARMAssembly_Rejects(t *testing.T) {
	cases := map[string]string{
		"prose intro":    "I will write the assembly now.\nmov r0, #1\n",
		"markdown fence": "```\nmov r0, #1\n```\n",
		"backticks":      "mov r0, #1 `inline`\n",
		"log line":       "Error: something broke\n",
		"prose token":    "please fix the loop\n",
		"empty":          "\n\n",
		"bad label tail": "_start: 123 nope\n",
	}
	for name, src := range cases {
		if err := ValidateARMAssembly(src); err == nil {
			t.Fatalf("%s: accepted invalid source:\n%s", name, src)
		}
	}
}

func TestFilterChainOnTypicalResponse(t *testing.T) {
	resp := "```assembly\n.global _start\n_start:\n    mov r0, #55\n```\nClearcutLogger: flushed\n"
	code := StripTrailingNoise(StripMarkdownFences(resp))
	if err := ValidateARMAssembly(code); err != nil {
		t.Fatalf("filtered response should validate: %v\n%q", err, code)
	}
	if !strings.Contains(code, "mov r0, #55") {
		t.Fatalf("filtered code lost content: %q", code)
	}
}
