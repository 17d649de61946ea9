package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/martinemde/steward/agentloop"
)

var (
	faint  = color.New(color.Faint)
	cyan   = color.New(color.FgCyan)
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	bold   = color.New(color.Bold)
)

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r interface{}) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// renderer prints turn events and answers approval requests. It runs on a
// single goroutine, so prompts block further rendering until answered.
type renderer struct {
	out         io.Writer
	in          *bufio.Reader
	interactive bool
	showOutput  bool
	resolve     func(requestID string, approved bool) error
}

func (r *renderer) run(events <-chan agentloop.StreamEvent) {
	for ev := range events {
		r.render(ev)
	}
}

func (r *renderer) render(ev agentloop.StreamEvent) {
	switch data := ev.Data.(type) {
	case agentloop.ThinkingData:
		faint.Fprintln(r.out, strings.TrimSpace(data.Content))
	case agentloop.ToolStatusData:
		r.toolStatus(data)
	case agentloop.ToolApprovalData:
		r.approve(data)
	case agentloop.ToolResultData:
		if r.showOutput && data.Output != "" {
			faint.Fprintln(r.out, indent(data.Output))
		}
	case agentloop.ChunkData:
		fmt.Fprintln(r.out, data.Content)
	case agentloop.DoneData:
		faint.Fprintf(r.out, "tokens: %d prompt, %d completion, %d total\n",
			data.Usage.PromptTokens, data.Usage.CompletionTokens, data.Usage.TotalTokens)
	case agentloop.CancelledData:
		yellow.Fprintln(r.out, "cancelled")
	case agentloop.ErrorData:
		red.Fprintf(r.out, "error: %s\n", data.Message)
	}
}

func (r *renderer) toolStatus(data agentloop.ToolStatusData) {
	if data.State == agentloop.ToolStateStart {
		cyan.Fprintf(r.out, "→ %s\n", data.Label)
		return
	}
	summary := ""
	if data.Summary != nil {
		summary = *data.Summary
	}
	if data.OK != nil && *data.OK {
		green.Fprintf(r.out, "✓ %s\n", summary)
		return
	}
	red.Fprintf(r.out, "✗ %s\n", summary)
}

// approve asks on the terminal; without one every request is rejected.
func (r *renderer) approve(data agentloop.ToolApprovalData) {
	approved := false
	if r.interactive {
		yellow.Fprintf(r.out, "%s wants to run with %s\n", bold.Sprint(data.Name), string(data.Args))
		yellow.Fprint(r.out, "Allow? [y/N] ")
		line, _ := r.in.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		approved = answer == "y" || answer == "yes"
	} else {
		yellow.Fprintf(r.out, "%s needs approval; rejecting (stdin is not a terminal, use --yolo)\n", data.Name)
	}
	if err := r.resolve(data.RequestID, approved); err != nil {
		red.Fprintf(r.out, "approval for %s: %v\n", data.Name, err)
	}
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}
