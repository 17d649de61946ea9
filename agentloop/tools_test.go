package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestDefaultCatalogDefinitions(t *testing.T) {
	c := DefaultCatalog()
	defs := c.Definitions()
	want := []string{ToolReadFile, ToolShell, ToolWriteFile, ToolStrReplaceFile, ToolSearchWeb, ToolFetchURL}
	if len(defs) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(defs))
	}
	for i, name := range want {
		if defs[i].Name != name {
			t.Errorf("tool %d: expected %s, got %s", i, name, defs[i].Name)
		}
		if defs[i].Description == "" {
			t.Errorf("%s has no description", name)
		}
		if defs[i].Parameters["type"] != "object" {
			t.Errorf("%s schema is not an object: %v", name, defs[i].Parameters)
		}
		if _, ok := defs[i].Parameters["$schema"]; ok {
			t.Errorf("%s schema should not carry $schema", name)
		}
	}
}

func TestCatalogSchemaRequiredFields(t *testing.T) {
	c := DefaultCatalog()
	cases := map[string][]string{
		ToolReadFile:       {"path"},
		ToolShell:          {"command"},
		ToolWriteFile:      {"path", "content"},
		ToolStrReplaceFile: {"path", "edit"},
		ToolSearchWeb:      {"query"},
		ToolFetchURL:       {"url"},
	}
	for name, want := range cases {
		params := c.Lookup(name).Parameters
		raw, _ := params["required"].([]interface{})
		got := map[string]bool{}
		for _, r := range raw {
			got[r.(string)] = true
		}
		if len(got) != len(want) {
			t.Errorf("%s: expected required %v, got %v", name, want, raw)
			continue
		}
		for _, w := range want {
			if !got[w] {
				t.Errorf("%s: %s should be required", name, w)
			}
		}
	}

	props := c.Lookup(ToolStrReplaceFile).Parameters["properties"].(map[string]interface{})
	edit := props["edit"].(map[string]interface{})
	if oneOf, ok := edit["oneOf"].([]interface{}); !ok || len(oneOf) != 2 {
		t.Errorf("edit should accept an object or an array: %v", edit)
	}
}

func TestCatalogGatedTools(t *testing.T) {
	c := DefaultCatalog()
	gated := map[string]bool{ToolShell: true, ToolWriteFile: true, ToolStrReplaceFile: true}
	for _, name := range c.Names() {
		if c.RequiresApproval(name) != gated[name] {
			t.Errorf("%s: RequiresApproval=%v", name, c.RequiresApproval(name))
		}
	}
	if c.RequiresApproval("Unknown") {
		t.Error("unknown tools are not gated")
	}
}

func TestCatalogDecodeDefaults(t *testing.T) {
	c := DefaultCatalog()

	args, err := c.Decode(ToolReadFile, json.RawMessage(`{"path":"a.go"}`))
	if err != nil {
		t.Fatal(err)
	}
	rf := args.(*ReadFileArgs)
	if rf.LineOffset != 1 || rf.NLines != 1000 {
		t.Errorf("unexpected ReadFile defaults %+v", rf)
	}

	args, err = c.Decode(ToolShell, json.RawMessage(`{"command":"ls"}`))
	if err != nil {
		t.Fatal(err)
	}
	if args.(*ShellArgs).Timeout != 60 {
		t.Errorf("expected default timeout 60, got %d", args.(*ShellArgs).Timeout)
	}

	args, err = c.Decode(ToolWriteFile, json.RawMessage(`{"path":"a","content":""}`))
	if err != nil {
		t.Fatalf("empty content is valid: %v", err)
	}
	if args.(*WriteFileArgs).Mode != WriteOverwrite {
		t.Errorf("expected overwrite mode, got %s", args.(*WriteFileArgs).Mode)
	}

	args, err = c.Decode(ToolSearchWeb, json.RawMessage(`{"query":"go"}`))
	if err != nil {
		t.Fatal(err)
	}
	if sw := args.(*SearchWebArgs); sw.Limit != 5 || sw.IncludeContent {
		t.Errorf("unexpected SearchWeb defaults %+v", sw)
	}
}

func TestCatalogDecodeEditShapes(t *testing.T) {
	c := DefaultCatalog()

	args, err := c.Decode(ToolStrReplaceFile, json.RawMessage(`{"path":"a","edit":{"old":"x","new":"y"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if edits := args.(*StrReplaceFileArgs).Edit; len(edits) != 1 || edits[0].Old != "x" {
		t.Errorf("single edit not decoded: %+v", edits)
	}

	args, err = c.Decode(ToolStrReplaceFile, json.RawMessage(`{"path":"a","edit":[{"old":"x","new":"y"},{"old":"z","new":"","replace_all":true}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if edits := args.(*StrReplaceFileArgs).Edit; len(edits) != 2 || !edits[1].ReplaceAll {
		t.Errorf("edit list not decoded: %+v", edits)
	}
}

func TestCatalogDecodeErrors(t *testing.T) {
	c := DefaultCatalog()
	cases := []struct {
		tool, args, summary string
	}{
		{ToolReadFile, `{}`, "Missing path"},
		{ToolReadFile, ``, "Missing path"},
		{ToolReadFile, `[1,2]`, "Missing path"},
		{ToolReadFile, `{"path":"a","line_offset":-3}`, "Invalid line_offset: must be >= 1"},
		{ToolShell, `{}`, "Missing command"},
		{ToolShell, `{"command":"ls","timeout":301}`, "Invalid timeout: must be <= 300"},
		{ToolShell, `{"command":"ls","timeout":"soon"}`, "Invalid arguments"},
		{ToolWriteFile, `{"path":"a"}`, "Missing content"},
		{ToolWriteFile, `{"path":"a","content":"x","mode":"prepend"}`, "Invalid mode: must be one of overwrite append"},
		{ToolStrReplaceFile, `{"path":"a"}`, "Missing edit"},
		{ToolStrReplaceFile, `{"path":"a","edit":{"new":"y"}}`, "Missing edit[0].old"},
		{ToolSearchWeb, `{}`, "Missing query"},
		{ToolSearchWeb, `{"query":"q","limit":50}`, "Invalid limit: must be <= 20"},
		{ToolFetchURL, `{}`, "Missing url"},
		{ToolFetchURL, `{"url":"not a url"}`, "Invalid url: not a valid URL"},
	}
	for _, tc := range cases {
		_, err := c.Decode(tc.tool, json.RawMessage(tc.args))
		var argErr *ArgumentError
		if !errors.As(err, &argErr) {
			t.Errorf("%s %s: expected ArgumentError, got %v", tc.tool, tc.args, err)
			continue
		}
		if argErr.Summary != tc.summary {
			t.Errorf("%s %s: expected %q, got %q", tc.tool, tc.args, tc.summary, argErr.Summary)
		}
	}

	_, err := c.Decode("Nope", nil)
	var unknown *UnknownToolError
	if !errors.As(err, &unknown) || err.Error() != "Unknown tool: Nope" {
		t.Errorf("expected UnknownToolError, got %v", err)
	}
}

func TestCatalogLabels(t *testing.T) {
	c := DefaultCatalog()
	cases := []struct {
		tool, args, label string
	}{
		{ToolReadFile, `{"path":"main.go"}`, "Reading main.go"},
		{ToolShell, `{"command":"go test ./..."}`, "Running go test ./..."},
		{ToolWriteFile, `{"path":"out.txt"}`, "Writing out.txt"},
		{ToolStrReplaceFile, `{"path":"x.go"}`, "Editing x.go"},
		{ToolSearchWeb, `{"query":"golang"}`, `Searching "golang"`},
		{ToolFetchURL, `{"url":"https://go.dev"}`, "Fetching https://go.dev"},
		{ToolReadFile, `garbage`, "Reading file"},
		{"Mystery", `{}`, "Running Mystery"},
	}
	for _, tc := range cases {
		if got := c.Label(tc.tool, json.RawMessage(tc.args)); got != tc.label {
			t.Errorf("%s: expected %q, got %q", tc.tool, tc.label, got)
		}
	}
}

func TestToolResultJSON(t *testing.T) {
	got := ToolResult{OK: true, Summary: "done", Output: "x"}.JSON()
	if got != `{"ok":true,"summary":"done","output":"x"}` {
		t.Errorf("unexpected JSON %s", got)
	}
}

type panickyToolbox struct{ recordingToolbox }

func (p *panickyToolbox) Shell(context.Context, ToolContext, ShellArgs) ToolResult {
	panic("boom")
}

func TestDispatcherNeverFails(t *testing.T) {
	d := NewDispatcher(DefaultCatalog(), &panickyToolbox{})
	ctx := context.Background()

	if r := d.Dispatch(ctx, ToolShell, json.RawMessage(`{"command":"ls"}`), ToolContext{}); r.OK || r.Summary != "Shell failed: boom" {
		t.Errorf("panic not contained: %+v", r)
	}
	if r := d.Dispatch(ctx, "Missing", nil, ToolContext{}); r.OK || r.Summary != "Unknown tool: Missing" {
		t.Errorf("unknown tool: %+v", r)
	}
	if r := d.Dispatch(ctx, ToolReadFile, json.RawMessage(`{}`), ToolContext{}); r.OK || r.Summary != "Missing path" {
		t.Errorf("missing argument: %+v", r)
	}
	if r := d.Dispatch(ctx, ToolReadFile, json.RawMessage(`{"path":"a"}`), ToolContext{}); !r.OK {
		t.Errorf("valid call failed: %+v", r)
	}
}

func TestDispatcherTruncatesOutput(t *testing.T) {
	tb := &bigOutputToolbox{}
	d := NewDispatcher(DefaultCatalog(), tb, WithOutputLimits(map[string]int{ToolReadFile: 100}, nil))
	r := d.Dispatch(context.Background(), ToolReadFile, json.RawMessage(`{"path":"a"}`), ToolContext{})
	if len(r.Output) >= 1000 {
		t.Errorf("output not truncated: %d bytes", len(r.Output))
	}
}

type bigOutputToolbox struct{ recordingToolbox }

func (b *bigOutputToolbox) ReadFile(context.Context, ToolContext, ReadFileArgs) ToolResult {
	out := make([]byte, 5000)
	for i := range out {
		out[i] = 'a'
	}
	return ToolResult{OK: true, Output: string(out)}
}
