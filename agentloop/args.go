package agentloop

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Typed argument payloads, one per catalog tool. Defaults are applied by
// defaults() before validation so a missing optional field never fails.

type ReadFileArgs struct {
	Path       string `json:"path" validate:"required" jsonschema_description:"Path of the file to read, relative to the working directory or absolute."`
	LineOffset int    `json:"line_offset,omitempty" validate:"min=1" jsonschema:"minimum=1,default=1" jsonschema_description:"1-based line number to start reading from."`
	NLines     int    `json:"n_lines,omitempty" validate:"min=1" jsonschema:"minimum=1,default=1000" jsonschema_description:"Maximum number of lines to return."`
}

func (a *ReadFileArgs) defaults() {
	if a.LineOffset == 0 {
		a.LineOffset = 1
	}
	if a.NLines == 0 {
		a.NLines = 1000
	}
}

type ShellArgs struct {
	Command string `json:"command" validate:"required" jsonschema_description:"Command line executed with bash -c in the working directory."`
	Timeout int    `json:"timeout,omitempty" validate:"min=1,max=300" jsonschema:"minimum=1,maximum=300,default=60" jsonschema_description:"Timeout in seconds."`
}

func (a *ShellArgs) defaults() {
	if a.Timeout == 0 {
		a.Timeout = 60
	}
}

// WriteMode selects whether WriteFile replaces or extends the file.
type WriteMode string

const (
	WriteOverwrite WriteMode = "overwrite"
	WriteAppend    WriteMode = "append"
)

type WriteFileArgs struct {
	Path string `json:"path" validate:"required" jsonschema_description:"Path of the file to write."`
	// Pointer so that an explicit empty string is distinct from a missing field.
	Content *string   `json:"content" validate:"required" jsonschema_description:"Full text to write."`
	Mode    WriteMode `json:"mode,omitempty" validate:"oneof=overwrite append" jsonschema:"enum=overwrite,enum=append,default=overwrite" jsonschema_description:"overwrite replaces the file, append adds to its end."`
}

func (a *WriteFileArgs) defaults() {
	if a.Mode == "" {
		a.Mode = WriteOverwrite
	}
}

// ReplaceEdit is one literal substitution applied by StrReplaceFile.
type ReplaceEdit struct {
	Old        string `json:"old" validate:"required" jsonschema_description:"Exact text to find."`
	New        string `json:"new" jsonschema_description:"Replacement text."`
	ReplaceAll bool   `json:"replace_all,omitempty" jsonschema_description:"Replace every occurrence instead of the first."`
}

// EditList accepts either a single edit object or an array of them.
type EditList []ReplaceEdit

func (l *EditList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*l = nil
		return nil
	case len(data) > 0 && data[0] == '[':
		var edits []ReplaceEdit
		if err := json.Unmarshal(data, &edits); err != nil {
			return err
		}
		*l = edits
		return nil
	case len(data) > 0 && data[0] == '{':
		var edit ReplaceEdit
		if err := json.Unmarshal(data, &edit); err != nil {
			return err
		}
		*l = EditList{edit}
		return nil
	}
	return errors.New("edit must be an object or an array of objects")
}

// JSONSchema advertises the one-or-many shape to the model.
func (EditList) JSONSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	edit := r.Reflect(&ReplaceEdit{})
	edit.Version = ""
	return &jsonschema.Schema{
		Description: "One edit or a list of edits applied in order.",
		OneOf: []*jsonschema.Schema{
			edit,
			{Type: "array", Items: edit, MinItems: ptrUint64(1)},
		},
	}
}

type StrReplaceFileArgs struct {
	Path string   `json:"path" validate:"required" jsonschema_description:"Path of the file to edit."`
	Edit EditList `json:"edit" validate:"required,min=1,dive" jsonschema_description:"One edit or a list of edits applied in order."`
}

func (a *StrReplaceFileArgs) defaults() {}

type SearchWebArgs struct {
	Query          string `json:"query" validate:"required" jsonschema_description:"Search query."`
	Limit          int    `json:"limit,omitempty" validate:"min=1,max=20" jsonschema:"minimum=1,maximum=20,default=5" jsonschema_description:"Number of results to return."`
	IncludeContent bool   `json:"include_content,omitempty" jsonschema_description:"Crawl result pages and include their content."`
}

func (a *SearchWebArgs) defaults() {
	if a.Limit == 0 {
		a.Limit = 5
	}
}

type FetchURLArgs struct {
	URL string `json:"url" validate:"required,url" jsonschema:"format=uri" jsonschema_description:"Absolute http(s) URL to fetch."`
}

func (a *FetchURLArgs) defaults() {}

// ArgumentError reports a tool call whose arguments failed to decode or
// validate. Summary is the text shown in the tool result.
type ArgumentError struct {
	Tool    string
	Summary string
	Cause   error
}

func (e *ArgumentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Tool, e.Summary, e.Cause)
	}
	return e.Tool + ": " + e.Summary
}

func (e *ArgumentError) Unwrap() error { return e.Cause }

// UnknownToolError reports a tool name absent from the catalog.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return "Unknown tool: " + e.Name
}

func ptrUint64(v uint64) *uint64 { return &v }
