package agentloop

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildPreamble(t *testing.T) {
	dir := t.TempDir()
	mustWrite := func(name string, size int) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(strings.Repeat("x", size)), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite("small.txt", 12)
	mustWrite("big.bin", 2048)
	mustWrite(".hidden", 1)
	for _, d := range []string{"src", "node_modules", "target", ".git"} {
		if err := os.Mkdir(filepath.Join(dir, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("Always run tests."), 0o644); err != nil {
		t.Fatal(err)
	}

	got := BuildPreamble(dir)

	if !strings.HasPrefix(got, "Current working directory: "+dir+"\n\nDirectory listing:\ntotal 4\n") {
		t.Fatalf("unexpected header:\n%s", got)
	}
	for _, skipped := range []string{".hidden", "node_modules", "target", ".git"} {
		if strings.Contains(got, skipped) {
			t.Errorf("listing should skip %s", skipped)
		}
	}
	srcIdx := strings.Index(got, " src\n")
	agentsIdx := strings.Index(got, " AGENTS.md\n")
	if srcIdx < 0 || agentsIdx < 0 || srcIdx > agentsIdx {
		t.Errorf("directories should be listed first:\n%s", got)
	}
	if !strings.Contains(got, "12B small.txt") || !strings.Contains(got, "2.0K big.bin") {
		t.Errorf("unexpected sizes:\n%s", got)
	}
	if !strings.HasSuffix(got, "\nAGENTS.md:\nAlways run tests.\n") {
		t.Errorf("AGENTS.md not appended:\n%s", got)
	}
}

func TestBuildPreambleMissingDir(t *testing.T) {
	got := BuildPreamble(filepath.Join(t.TempDir(), "gone"))
	if !strings.Contains(got, "total 0\n") {
		t.Errorf("expected empty listing, got %q", got)
	}
}
