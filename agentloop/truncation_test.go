package agentloop

import (
	"strings"
	"testing"
)

func TestTruncateOutputHeadTail(t *testing.T) {
	out := strings.Repeat("a", 50) + strings.Repeat("b", 50)
	got := TruncateOutput(out, 20, TruncateHeadTail)
	if !strings.HasPrefix(got, strings.Repeat("a", 10)) || !strings.HasSuffix(got, strings.Repeat("b", 10)) {
		t.Errorf("head/tail not kept: %q", got)
	}
	if !strings.Contains(got, "80 characters removed") {
		t.Errorf("missing marker: %q", got)
	}
}

func TestTruncateOutputTail(t *testing.T) {
	out := strings.Repeat("a", 50) + strings.Repeat("b", 10)
	got := TruncateOutput(out, 10, TruncateTail)
	if !strings.HasSuffix(got, strings.Repeat("b", 10)) || strings.Contains(got, "aaaa") {
		t.Errorf("unexpected tail truncation: %q", got)
	}
}

func TestTruncateOutputShortIsUnchanged(t *testing.T) {
	if got := TruncateOutput("short", 100, TruncateHeadTail); got != "short" {
		t.Errorf("got %q", got)
	}
}

func TestTruncateLines(t *testing.T) {
	lines := make([]string, 10)
	for i := range lines {
		lines[i] = string(rune('0' + i))
	}
	got := TruncateLines(strings.Join(lines, "\n"), 4)
	want := "0\n1\n[... 6 lines omitted ...]\n8\n9"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestTruncateToolOutputUsesOverrides(t *testing.T) {
	out := strings.Repeat("x", 500)
	if got := TruncateToolOutput(out, ToolReadFile, nil, nil); got != out {
		t.Error("default ReadFile limit should not truncate 500 chars")
	}
	if got := TruncateToolOutput(out, ToolReadFile, map[string]int{ToolReadFile: 100}, nil); len(got) >= len(out) {
		t.Error("override not applied")
	}

	shell := strings.Repeat("line\n", 400)
	got := TruncateToolOutput(shell, ToolShell, nil, nil)
	if !strings.Contains(got, "lines omitted") {
		t.Error("shell line limit not applied")
	}
}
