package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/martinemde/steward/logging"
)

// ToolContext is the ambient context handed to every collaborator call.
type ToolContext struct {
	SessionID  string
	ToolCallID string
	WorkDir    string
	// ConfigPath is the auxiliary tool configuration (search service
	// credentials and similar); empty when unset.
	ConfigPath string
}

// Toolbox is the set of concrete tool implementations. Each method reports
// failure through ToolResult.OK and never returns an error.
type Toolbox interface {
	ReadFile(ctx context.Context, tc ToolContext, args ReadFileArgs) ToolResult
	Shell(ctx context.Context, tc ToolContext, args ShellArgs) ToolResult
	WriteFile(ctx context.Context, tc ToolContext, args WriteFileArgs) ToolResult
	StrReplaceFile(ctx context.Context, tc ToolContext, args StrReplaceFileArgs) ToolResult
	SearchWeb(ctx context.Context, tc ToolContext, args SearchWebArgs) ToolResult
	FetchURL(ctx context.Context, tc ToolContext, args FetchURLArgs) ToolResult
}

// Dispatcher maps a tool name and raw arguments to a Toolbox call. It holds
// no approval or cancellation logic.
type Dispatcher struct {
	catalog    *Catalog
	toolbox    Toolbox
	charLimits map[string]int
	lineLimits map[string]int
	log        *logrus.Entry
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithOutputLimits overrides the per-tool truncation limits.
func WithOutputLimits(chars, lines map[string]int) DispatcherOption {
	return func(d *Dispatcher) {
		d.charLimits = chars
		d.lineLimits = lines
	}
}

// NewDispatcher creates a dispatcher over catalog and toolbox.
func NewDispatcher(catalog *Catalog, toolbox Toolbox, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		catalog: catalog,
		toolbox: toolbox,
		log:     logging.NewLogger("dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Catalog returns the catalog the dispatcher validates against.
func (d *Dispatcher) Catalog() *Catalog {
	return d.catalog
}

// Dispatch runs one tool call. Unknown tools, bad arguments, collaborator
// failures and panics all come back as OK=false results.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, raw json.RawMessage, tc ToolContext) (result ToolResult) {
	log := d.log.WithFields(logrus.Fields{"tool": name, "tool_call_id": tc.ToolCallID})
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("tool panicked")
			result = Failed(fmt.Sprintf("%s failed: %v", name, r))
		}
	}()

	args, err := d.catalog.Decode(name, raw)
	if err != nil {
		var argErr *ArgumentError
		if errors.As(err, &argErr) {
			log.WithError(err).Debug("rejected tool arguments")
			return Failed(argErr.Summary)
		}
		return Failed(err.Error())
	}

	switch a := args.(type) {
	case *ReadFileArgs:
		result = d.toolbox.ReadFile(ctx, tc, *a)
	case *ShellArgs:
		result = d.toolbox.Shell(ctx, tc, *a)
	case *WriteFileArgs:
		result = d.toolbox.WriteFile(ctx, tc, *a)
	case *StrReplaceFileArgs:
		result = d.toolbox.StrReplaceFile(ctx, tc, *a)
	case *SearchWebArgs:
		result = d.toolbox.SearchWeb(ctx, tc, *a)
	case *FetchURLArgs:
		result = d.toolbox.FetchURL(ctx, tc, *a)
	default:
		return Failed("Unknown tool: " + name)
	}

	result.Output = TruncateToolOutput(result.Output, name, d.charLimits, d.lineLimits)
	log.WithFields(logrus.Fields{"ok": result.OK, "summary": result.Summary}).Debug("tool finished")
	return result
}
