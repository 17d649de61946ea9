package agentloop

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/martinemde/steward/logging"
)

// sensitiveEnvPatterns are case-insensitive suffixes for environment variables
// that should be excluded by default.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always included regardless of filtering.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "CARGO_HOME": true,
	"NVM_DIR": true, "RUSTUP_HOME": true, "PYENV_ROOT": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

// filterEnvironment returns the process environment minus credentials, so
// model-authored commands cannot read the agent's own API keys.
func filterEnvironment() []string {
	var filtered []string
	for _, env := range os.Environ() {
		name, _, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, env)
		}
	}
	return filtered
}

// SearchService locates the web search backend.
type SearchService struct {
	BaseURL string
	APIKey  string
}

// Configured reports whether both endpoint and key are set.
func (s SearchService) Configured() bool {
	return s.BaseURL != "" && s.APIKey != ""
}

// LocalToolbox runs every tool on the local machine, relative to the
// turn's working directory.
type LocalToolbox struct {
	httpClient *http.Client
	// services resolves the search backend from the tool config path.
	services  func(configPath string) SearchService
	waitDelay time.Duration
	maxFetch  int64
	log       *logrus.Entry
}

// LocalToolboxOption configures a LocalToolbox.
type LocalToolboxOption func(*LocalToolbox)

// WithToolHTTPClient sets the client used by SearchWeb and FetchURL.
func WithToolHTTPClient(hc *http.Client) LocalToolboxOption {
	return func(t *LocalToolbox) {
		t.httpClient = hc
	}
}

// WithSearchService uses a fixed search backend.
func WithSearchService(svc SearchService) LocalToolboxOption {
	return func(t *LocalToolbox) {
		t.services = func(string) SearchService { return svc }
	}
}

// WithServiceResolver resolves the search backend per call from the tool
// config path carried in ToolContext.
func WithServiceResolver(fn func(configPath string) SearchService) LocalToolboxOption {
	return func(t *LocalToolbox) {
		t.services = fn
	}
}

// NewLocalToolbox creates a toolbox with default limits.
func NewLocalToolbox(opts ...LocalToolboxOption) *LocalToolbox {
	t := &LocalToolbox{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		services:   func(string) SearchService { return SearchService{} },
		waitDelay:  2 * time.Second,
		maxFetch:   2 << 20,
		log:        logging.NewLogger("toolbox"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func resolvePath(workDir, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(workDir, path)
}

// ReadFile returns numbered lines starting at LineOffset.
func (t *LocalToolbox) ReadFile(_ context.Context, tc ToolContext, args ReadFileArgs) ToolResult {
	f, err := os.Open(resolvePath(tc.WorkDir, args.Path))
	if err != nil {
		return Failed(fmt.Sprintf("Failed to read %s: %v", args.Path, unwrapPathError(err)))
	}
	defer f.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	lineNo, read := 0, 0
	for scanner.Scan() {
		lineNo++
		if lineNo < args.LineOffset {
			continue
		}
		if read >= args.NLines {
			break
		}
		fmt.Fprintf(&sb, "%6d\t%s\n", lineNo, scanner.Text())
		read++
	}
	if err := scanner.Err(); err != nil {
		return Failed(fmt.Sprintf("Failed to read %s: %v", args.Path, err))
	}
	return ToolResult{
		OK:      true,
		Summary: fmt.Sprintf("Read %d lines from %s", read, args.Path),
		Output:  sb.String(),
	}
}

// Shell runs the command with bash -c. The whole process group is killed
// when the timeout elapses or ctx ends.
func (t *LocalToolbox) Shell(ctx context.Context, tc ToolContext, args ShellArgs) ToolResult {
	timeout := time.Duration(args.Timeout) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/bash", "-c", args.Command)
	cmd.Dir = tc.WorkDir
	cmd.Env = filterEnvironment()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = t.waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	output := joinOutput(stdout.String(), stderr.String())
	log := t.log.WithFields(logrus.Fields{"tool_call_id": tc.ToolCallID, "duration": time.Since(start)})

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		log.Warn("shell command timed out")
		return ToolResult{OK: false, Summary: fmt.Sprintf("Command timed out after %ds", args.Timeout), Output: output}
	}
	if ctx.Err() != nil {
		return ToolResult{OK: false, Summary: "Command interrupted", Output: output}
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return ToolResult{OK: true, Summary: "Command exited with code 0", Output: output}
	case errors.As(err, &exitErr):
		return ToolResult{OK: false, Summary: fmt.Sprintf("Command exited with code %d", exitErr.ExitCode()), Output: output}
	default:
		log.WithError(err).Error("shell command failed to start")
		return ToolResult{OK: false, Summary: fmt.Sprintf("Failed to run command: %v", err), Output: output}
	}
}

func joinOutput(stdout, stderr string) string {
	if stderr == "" {
		return stdout
	}
	if stdout == "" {
		return stderr
	}
	return strings.TrimRight(stdout, "\n") + "\n" + stderr
}

// WriteFile creates parent directories and writes or appends content.
func (t *LocalToolbox) WriteFile(_ context.Context, tc ToolContext, args WriteFileArgs) ToolResult {
	path := resolvePath(tc.WorkDir, args.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Failed(fmt.Sprintf("Failed to create directory for %s: %v", args.Path, unwrapPathError(err)))
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	verb := "Wrote"
	if args.Mode == WriteAppend {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		verb = "Appended"
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return Failed(fmt.Sprintf("Failed to write %s: %v", args.Path, unwrapPathError(err)))
	}
	n, err := f.WriteString(*args.Content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Failed(fmt.Sprintf("Failed to write %s: %v", args.Path, err))
	}
	return ToolResult{OK: true, Summary: fmt.Sprintf("%s %d bytes to %s", verb, n, args.Path)}
}

// StrReplaceFile applies the edits in order. Nothing is written unless
// every edit matches.
func (t *LocalToolbox) StrReplaceFile(_ context.Context, tc ToolContext, args StrReplaceFileArgs) ToolResult {
	path := resolvePath(tc.WorkDir, args.Path)
	info, err := os.Stat(path)
	if err != nil {
		return Failed(fmt.Sprintf("Failed to edit %s: %v", args.Path, unwrapPathError(err)))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Failed(fmt.Sprintf("Failed to edit %s: %v", args.Path, unwrapPathError(err)))
	}

	content := string(data)
	replacements := 0
	for i, edit := range args.Edit {
		count := strings.Count(content, edit.Old)
		if count == 0 {
			return Failed(fmt.Sprintf("Edit %d: text not found in %s", i+1, args.Path))
		}
		if edit.ReplaceAll {
			content = strings.ReplaceAll(content, edit.Old, edit.New)
			replacements += count
		} else {
			content = strings.Replace(content, edit.Old, edit.New, 1)
			replacements++
		}
	}

	if err := os.WriteFile(path, []byte(content), info.Mode().Perm()); err != nil {
		return Failed(fmt.Sprintf("Failed to write %s: %v", args.Path, err))
	}
	return ToolResult{
		OK:      true,
		Summary: fmt.Sprintf("Applied %d edit(s) to %s (%d replacement(s))", len(args.Edit), args.Path, replacements),
	}
}

func unwrapPathError(err error) error {
	var pe *os.PathError
	if errors.As(err, &pe) {
		return pe.Err
	}
	return err
}
