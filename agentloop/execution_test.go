package agentloop

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestLocalToolboxReadFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\ntwo\nthree\nfour\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tb := NewLocalToolbox()
	tc := ToolContext{WorkDir: dir}

	r := tb.ReadFile(context.Background(), tc, ReadFileArgs{Path: "a.txt", LineOffset: 2, NLines: 2})
	if !r.OK {
		t.Fatalf("read failed: %+v", r)
	}
	if r.Output != "     2\ttwo\n     3\tthree\n" {
		t.Errorf("unexpected output %q", r.Output)
	}
	if r.Summary != "Read 2 lines from a.txt" {
		t.Errorf("unexpected summary %q", r.Summary)
	}

	r = tb.ReadFile(context.Background(), tc, ReadFileArgs{Path: "missing.txt", LineOffset: 1, NLines: 10})
	if r.OK || !strings.Contains(r.Summary, "missing.txt") {
		t.Errorf("expected failure for missing file: %+v", r)
	}
}

func TestLocalToolboxWriteFile(t *testing.T) {
	dir := t.TempDir()
	tb := NewLocalToolbox()
	tc := ToolContext{WorkDir: dir}

	r := tb.WriteFile(context.Background(), tc, WriteFileArgs{Path: "nested/dir/out.txt", Content: strPtr("hello"), Mode: WriteOverwrite})
	if !r.OK {
		t.Fatalf("write failed: %+v", r)
	}
	r = tb.WriteFile(context.Background(), tc, WriteFileArgs{Path: "nested/dir/out.txt", Content: strPtr(" world"), Mode: WriteAppend})
	if !r.OK || !strings.HasPrefix(r.Summary, "Appended") {
		t.Fatalf("append failed: %+v", r)
	}
	data, err := os.ReadFile(filepath.Join(dir, "nested/dir/out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello world" {
		t.Errorf("unexpected content %q", data)
	}

	r = tb.WriteFile(context.Background(), tc, WriteFileArgs{Path: "nested/dir/out.txt", Content: strPtr("reset"), Mode: WriteOverwrite})
	if !r.OK {
		t.Fatal(r.Summary)
	}
	data, _ = os.ReadFile(filepath.Join(dir, "nested/dir/out.txt"))
	if string(data) != "reset" {
		t.Errorf("overwrite kept old content: %q", data)
	}
}

func TestLocalToolboxStrReplaceFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "code.go")
	if err := os.WriteFile(path, []byte("foo bar foo baz"), 0o600); err != nil {
		t.Fatal(err)
	}
	tb := NewLocalToolbox()
	tc := ToolContext{WorkDir: dir}

	r := tb.StrReplaceFile(context.Background(), tc, StrReplaceFileArgs{Path: "code.go", Edit: EditList{
		{Old: "foo", New: "qux", ReplaceAll: true},
		{Old: "baz", New: "end"},
	}})
	if !r.OK {
		t.Fatalf("edit failed: %+v", r)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "qux bar qux end" {
		t.Errorf("unexpected content %q", data)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o600 {
		t.Errorf("file mode changed to %v", info.Mode().Perm())
	}
}

func TestLocalToolboxStrReplaceFileAllOrNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("alpha beta"), 0o644)

	r := NewLocalToolbox().StrReplaceFile(context.Background(), ToolContext{WorkDir: dir}, StrReplaceFileArgs{Path: "a.txt", Edit: EditList{
		{Old: "alpha", New: "ALPHA"},
		{Old: "gamma", New: "GAMMA"},
	}})
	if r.OK || r.Summary != "Edit 2: text not found in a.txt" {
		t.Fatalf("expected failure on missing text, got %+v", r)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "alpha beta" {
		t.Errorf("file written despite failed edit: %q", data)
	}
}

func TestLocalToolboxShell(t *testing.T) {
	dir := t.TempDir()
	tb := NewLocalToolbox()
	tc := ToolContext{WorkDir: dir}

	r := tb.Shell(context.Background(), tc, ShellArgs{Command: "pwd; echo oops >&2", Timeout: 10})
	if !r.OK || r.Summary != "Command exited with code 0" {
		t.Fatalf("unexpected result %+v", r)
	}
	if !strings.Contains(r.Output, filepath.Base(dir)) || !strings.Contains(r.Output, "oops") {
		t.Errorf("expected cwd and stderr in output, got %q", r.Output)
	}

	r = tb.Shell(context.Background(), tc, ShellArgs{Command: "exit 3", Timeout: 10})
	if r.OK || r.Summary != "Command exited with code 3" {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestLocalToolboxShellTimeout(t *testing.T) {
	tb := NewLocalToolbox()
	start := time.Now()
	r := tb.Shell(context.Background(), ToolContext{WorkDir: t.TempDir()}, ShellArgs{Command: "sleep 30 & sleep 30", Timeout: 1})
	if r.OK || r.Summary != "Command timed out after 1s" {
		t.Fatalf("unexpected result %+v", r)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("process group not killed promptly: %v", elapsed)
	}
}

func TestLocalToolboxShellCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	r := NewLocalToolbox().Shell(ctx, ToolContext{WorkDir: t.TempDir()}, ShellArgs{Command: "sleep 30", Timeout: 60})
	if r.OK || r.Summary != "Command interrupted" {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestFilterEnvironmentDropsSecrets(t *testing.T) {
	t.Setenv("STEWARD_TEST_API_KEY", "secret")
	t.Setenv("STEWARD_TEST_PLAIN", "visible")
	env := strings.Join(filterEnvironment(), "\n")
	if strings.Contains(env, "STEWARD_TEST_API_KEY") {
		t.Error("sensitive variable leaked")
	}
	if !strings.Contains(env, "STEWARD_TEST_PLAIN=visible") {
		t.Error("plain variable dropped")
	}
}
