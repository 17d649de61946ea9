package agentloop

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/tidwall/gjson"

	"github.com/martinemde/steward/unifiedllm"
)

// Catalog tool names.
const (
	ToolReadFile       = "ReadFile"
	ToolShell          = "Shell"
	ToolWriteFile      = "WriteFile"
	ToolStrReplaceFile = "StrReplaceFile"
	ToolSearchWeb      = "SearchWeb"
	ToolFetchURL       = "FetchURL"
)

// ToolResult is the uniform outcome of one tool call. OK=false is a value
// the model reacts to, not an error.
type ToolResult struct {
	OK      bool   `json:"ok"`
	Summary string `json:"summary"`
	Output  string `json:"output"`
}

// JSON renders the result as the content of a tool conversation entry.
func (r ToolResult) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"ok":false,"summary":%q,"output":""}`, err.Error())
	}
	return string(data)
}

// Failed builds an ok=false result.
func Failed(summary string) ToolResult {
	return ToolResult{OK: false, Summary: summary}
}

type toolArgs interface {
	defaults()
}

// ToolSpec is one catalog entry.
type ToolSpec struct {
	Name        string
	Description string
	// Gated tools have side effects on the filesystem or processes and
	// require approval unless the turn auto-approves.
	Gated      bool
	Parameters map[string]interface{}

	newArgs func() toolArgs
	label   func(args gjson.Result) string
}

// Catalog is the static, ordered list of tools offered to the model. The
// same entries drive argument decoding so the two cannot drift apart.
type Catalog struct {
	specs    []*ToolSpec
	byName   map[string]*ToolSpec
	validate *validator.Validate
}

// NewCatalog builds a catalog from the given specs, reflecting each
// argument struct into a JSON schema.
func NewCatalog(specs ...ToolSpec) *Catalog {
	c := &Catalog{
		byName:   make(map[string]*ToolSpec, len(specs)),
		validate: newArgValidator(),
	}
	for i := range specs {
		spec := specs[i]
		if spec.Parameters == nil && spec.newArgs != nil {
			spec.Parameters = reflectParameters(spec.newArgs())
		}
		c.specs = append(c.specs, &spec)
		c.byName[spec.Name] = &spec
	}
	return c
}

// DefaultCatalog returns the six built-in tools.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		ToolSpec{
			Name:        ToolReadFile,
			Description: "Read a text file. Lines are returned numbered, starting at line_offset, at most n_lines of them.",
			newArgs:     func() toolArgs { return &ReadFileArgs{} },
			label:       labelFrom("path", "Reading %s", "Reading file"),
		},
		ToolSpec{
			Name:        ToolShell,
			Description: "Run a bash command in the working directory and return its exit code, stdout and stderr.",
			Gated:       true,
			newArgs:     func() toolArgs { return &ShellArgs{} },
			label:       labelFrom("command", "Running %s", "Running command"),
		},
		ToolSpec{
			Name:        ToolWriteFile,
			Description: "Write content to a file, creating parent directories. mode=append adds to the end instead of replacing.",
			Gated:       true,
			newArgs:     func() toolArgs { return &WriteFileArgs{} },
			label:       labelFrom("path", "Writing %s", "Writing file"),
		},
		ToolSpec{
			Name:        ToolStrReplaceFile,
			Description: "Replace exact text in a file. Edits are applied in order; the call fails without writing if any old text is absent.",
			Gated:       true,
			newArgs:     func() toolArgs { return &StrReplaceFileArgs{} },
			label:       labelFrom("path", "Editing %s", "Editing file"),
		},
		ToolSpec{
			Name:        ToolSearchWeb,
			Description: "Search the web and return titles, URLs and snippets of the top results.",
			newArgs:     func() toolArgs { return &SearchWebArgs{} },
			label:       labelFrom("query", "Searching %q", "Searching the web"),
		},
		ToolSpec{
			Name:        ToolFetchURL,
			Description: "Fetch a web page and return its main text content.",
			newArgs:     func() toolArgs { return &FetchURLArgs{} },
			label:       labelFrom("url", "Fetching %s", "Fetching page"),
		},
	)
}

// Definitions returns the tool definitions sent with every model round,
// in catalog order.
func (c *Catalog) Definitions() []unifiedllm.ToolDefinition {
	defs := make([]unifiedllm.ToolDefinition, 0, len(c.specs))
	for _, s := range c.specs {
		defs = append(defs, unifiedllm.ToolDefinition{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.Parameters,
		})
	}
	return defs
}

// Lookup returns the spec for name, or nil.
func (c *Catalog) Lookup(name string) *ToolSpec {
	return c.byName[name]
}

// Names returns the tool names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.specs))
	for _, s := range c.specs {
		names = append(names, s.Name)
	}
	return names
}

// RequiresApproval reports whether name is a gated tool.
func (c *Catalog) RequiresApproval(name string) bool {
	s := c.byName[name]
	return s != nil && s.Gated
}

// Label returns the human-readable progress label for a call. It reads the
// raw arguments leniently so a label exists even when validation fails.
func (c *Catalog) Label(name string, raw json.RawMessage) string {
	s := c.byName[name]
	if s == nil || s.label == nil {
		return "Running " + name
	}
	return s.label(gjson.ParseBytes(NormalizeArguments(raw)))
}

// Decode parses and validates raw arguments for name. It returns a pointer
// to the tool's argument struct with defaults applied.
func (c *Catalog) Decode(name string, raw json.RawMessage) (interface{}, error) {
	s := c.byName[name]
	if s == nil || s.newArgs == nil {
		return nil, &UnknownToolError{Name: name}
	}
	args := s.newArgs()
	dec := json.NewDecoder(bytes.NewReader(NormalizeArguments(raw)))
	if err := dec.Decode(args); err != nil {
		return nil, &ArgumentError{Tool: name, Summary: "Invalid arguments", Cause: err}
	}
	args.defaults()
	if err := c.validate.Struct(args); err != nil {
		return nil, &ArgumentError{Tool: name, Summary: validationSummary(err), Cause: err}
	}
	return args, nil
}

// NormalizeArguments maps an empty or unparsable payload to {}.
func NormalizeArguments(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || !json.Valid(trimmed) || trimmed[0] != '{' {
		return json.RawMessage("{}")
	}
	return trimmed
}

func labelFrom(field, format, fallback string) func(gjson.Result) string {
	return func(args gjson.Result) string {
		v := args.Get(field)
		if v.Type != gjson.String || v.String() == "" {
			return fallback
		}
		return fmt.Sprintf(format, v.String())
	}
}

func reflectParameters(v interface{}) map[string]interface{} {
	r := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(v)
	schema.Version = ""
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("reflect tool schema for %T: %v", v, err))
	}
	var params map[string]interface{}
	if err := json.Unmarshal(data, &params); err != nil {
		panic(fmt.Sprintf("decode tool schema for %T: %v", v, err))
	}
	return params
}

func newArgValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationSummary turns the first validation failure into a short
// message such as "Missing path" or "Invalid timeout".
func validationSummary(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid arguments"
	}
	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return "Missing " + field
	case "min", "max":
		return fmt.Sprintf("Invalid %s: must be %s %s", field, map[string]string{"min": ">=", "max": "<="}[fe.Tag()], fe.Param())
	case "oneof":
		return fmt.Sprintf("Invalid %s: must be one of %s", field, fe.Param())
	case "url":
		return fmt.Sprintf("Invalid %s: not a valid URL", field)
	default:
		return "Invalid " + field
	}
}
