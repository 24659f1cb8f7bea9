package toolchain

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/hexforge-labs/armloop/internal/workspace"
)

type fakeStep struct {
	exit   int
	stdout string
	stderr string
	block  bool
}

type fakeRunner struct {
	calls  [][]string
	script []fakeStep
}

func (f *fakeRunner) Run(ctx context.Context, dir string, argv []string, stdout, stderr io.Writer) (int, error) {
	f.calls = append(f.calls, argv)
	if len(f.calls) > len(f.script) {
		return -1, errors.New("unexpected command")
	}
	s := f.script[len(f.calls)-1]
	if s.block {
		<-ctx.Done()
		io.WriteString(stdout, s.stdout)
		return -1, ctx.Err()
	}
	io.WriteString(stdout, s.stdout)
	io.WriteString(stderr, s.stderr)
	if s.exit != 0 {
		return s.exit, errors.New("exit status 1")
	}
	return 0, nil
}

func testWS(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteFile("agent_code.s", ".global _start\n"); err != nil {
		t.Fatal(err)
	}
	return ws
}

func TestGCCQemu_Success(t *testing.T) {
	runner := &fakeRunner{script: []fakeStep{
		{exit: 0},
		{exit: 0, stdout: "fib(10) = 55\n"},
	}}
	tc := &GCCQemu{
		Runner:       runner,
		GCCBin:       "arm-none-eabi-gcc",
		QemuBin:      "qemu-system-arm",
		LinkerScript: "link.ld",
		BuildTimeout: time.Minute,
	}
	ws := testWS(t)
	res, err := tc.BuildAndRun(context.Background(), ws, "agent_code.s", time.Second)
	if err != nil {
		t.Fatalf("build and run: %v", err)
	}
	if !res.BuildSucceeded || !res.RunCompleted {
		t.Fatalf("result = %+v", res)
	}
	if res.CapturedOutput != "fib(10) = 55\n" {
		t.Fatalf("captured = %q", res.CapturedOutput)
	}

	if len(runner.calls) != 2 {
		t.Fatalf("expected build+run, got %d calls", len(runner.calls))
	}
	build := runner.calls[0]
	if build[0] != "arm-none-eabi-gcc" {
		t.Fatalf("build argv = %v", build)
	}
	wantFlags := []string{"-O0", "-nostdlib", "-T"}
	if !reflect.DeepEqual(build[1:4], wantFlags) {
		t.Fatalf("build flags = %v", build[1:4])
	}
	if !strings.HasSuffix(build[4], "link.ld") {
		t.Fatalf("linker script arg = %q", build[4])
	}
	run := runner.calls[1]
	if run[0] != "qemu-system-arm" || run[1] != "-M" || run[2] != "versatilepb" {
		t.Fatalf("run argv = %v", run)
	}
	if !strings.HasSuffix(run[len(run)-1], "agent_code.elf") {
		t.Fatalf("elf arg = %q", run[len(run)-1])
	}
}

func TestGCCQemu_BuildFailure(t *testing.T) {
	runner := &fakeRunner{script: []fakeStep{
		{exit: 1, stderr: "agent_code.s:3: Error: bad instruction `movv'\n"},
	}}
	tc := &GCCQemu{Runner: runner, GCCBin: "arm-none-eabi-gcc", QemuBin: "qemu-system-arm", LinkerScript: "link.ld"}
	res, err := tc.BuildAndRun(context.Background(), testWS(t), "agent_code.s", time.Second)
	if err != nil {
		t.Fatalf("build failure should be a result, not an error: %v", err)
	}
	if res.BuildSucceeded {
		t.Fatalf("build reported as succeeded")
	}
	if !strings.Contains(res.BuildLog, "bad instruction") {
		t.Fatalf("build log = %q", res.BuildLog)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("simulator should not run after a failed build")
	}
}

func TestGCCQemu_RunTimeoutKeepsPartialOutput(t *testing.T) {
	runner := &fakeRunner{script: []fakeStep{
		{exit: 0},
		{block: true, stdout: "partial"},
	}}
	tc := &GCCQemu{Runner: runner, GCCBin: "arm-none-eabi-gcc", QemuBin: "qemu-system-arm", LinkerScript: "link.ld"}
	res, err := tc.BuildAndRun(context.Background(), testWS(t), "agent_code.s", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("timeout should be a result, not an error: %v", err)
	}
	if !res.BuildSucceeded || res.RunCompleted {
		t.Fatalf("result = %+v", res)
	}
	if res.CapturedOutput != "partial" {
		t.Fatalf("partial output lost: %q", res.CapturedOutput)
	}
}

func TestGCCQemu_CancellationIsAnError(t *testing.T) {
	runner := &fakeRunner{script: []fakeStep{
		{exit: 0},
		{block: true},
	}}
	tc := &GCCQemu{Runner: runner, GCCBin: "arm-none-eabi-gcc", QemuBin: "qemu-system-arm", LinkerScript: "link.ld"}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, err := tc.BuildAndRun(ctx, testWS(t), "agent_code.s", time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestArmFVP_CompileLinkRun(t *testing.T) {
	runner := &fakeRunner{script: []fakeStep{
		{exit: 0},
		{exit: 0},
		{exit: 0, stdout: "fib(10) = 55\n", stderr: "semihosting: heap at 0x0\n"},
	}}
	tc := &ArmFVP{
		Runner:      runner,
		ArmclangBin: "/opt/armclang",
		ArmlinkBin:  "/opt/armlink",
		FVPBin:      "/opt/fvp",
	}
	res, err := tc.BuildAndRun(context.Background(), testWS(t), "agent_code.s", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !res.BuildSucceeded || !res.RunCompleted {
		t.Fatalf("result = %+v", res)
	}
	// UART stream and semihosting diagnostics are both captured
	if !strings.Contains(res.CapturedOutput, "fib(10) = 55") ||
		!strings.Contains(res.CapturedOutput, "semihosting") {
		t.Fatalf("captured = %q", res.CapturedOutput)
	}

	if len(runner.calls) != 3 {
		t.Fatalf("expected compile+link+run, got %d calls", len(runner.calls))
	}
	compile := runner.calls[0]
	if compile[0] != "/opt/armclang" || compile[1] != "--target=arm-arm-none-eabi" || compile[2] != "-mcpu=cortex-r52" {
		t.Fatalf("compile argv = %v", compile)
	}
	link := runner.calls[1]
	if link[0] != "/opt/armlink" || link[1] != "--ro-base=0x00000000" || link[2] != "--entry=_start" {
		t.Fatalf("link argv = %v", link)
	}
	run := runner.calls[2]
	if run[0] != "/opt/fvp" || run[1] != "-C" || run[2] != "cluster0.NUM_CORES=1" {
		t.Fatalf("run argv = %v", run)
	}
	if !strings.HasSuffix(run[len(run)-1], "agent_code.axf") {
		t.Fatalf("application arg = %q", run[len(run)-1])
	}
}

func TestArmFVP_LinkFailure(t *testing.T) {
	runner := &fakeRunner{script: []fakeStep{
		{exit: 0, stderr: "warning: padding\n"},
		{exit: 1, stderr: "Error: L6218E: Undefined symbol _start\n"},
	}}
	tc := &ArmFVP{Runner: runner, ArmclangBin: "/opt/armclang", ArmlinkBin: "/opt/armlink", FVPBin: "/opt/fvp"}
	res, err := tc.BuildAndRun(context.Background(), testWS(t), "agent_code.s", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.BuildSucceeded {
		t.Fatalf("link failure reported as success")
	}
	if !strings.Contains(res.BuildLog, "L6218E") || !strings.Contains(res.BuildLog, "padding") {
		t.Fatalf("build log should carry compile and link stderr: %q", res.BuildLog)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("simulator should not run after a failed link")
	}
}
