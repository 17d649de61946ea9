// Package chat is the inbound surface of steward: it ties the session
// store, the turn registry and the orchestration loop together.
package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/martinemde/steward/agentloop"
	"github.com/martinemde/steward/logging"
	"github.com/martinemde/steward/sessionstore"
	"github.com/martinemde/steward/transcript"
)

// ErrEmptyMessage is returned for a blank chat message.
var ErrEmptyMessage = errors.New("message is empty")

// ChatRequest is one user submission. Empty fields fall back to the
// service defaults; an empty SessionID starts a new session.
type ChatRequest struct {
	SessionID   string
	Message     string
	Model       string
	Provider    string
	WorkDir     string
	AutoApprove bool
}

// Service owns the live-turn registry and serializes access to sessions.
// All methods are safe for concurrent use.
type Service struct {
	store *sessionstore.Store
	loop  *agentloop.Loop
	turns *agentloop.TurnRegistry

	shareDir   string
	configPath string
	model      string
	provider   string
	workDir    string

	log *logrus.Entry
}

// Option configures a Service.
type Option func(*Service)

// WithShareDir sets the kimi share dir used to find CLI wire sessions.
func WithShareDir(dir string) Option {
	return func(s *Service) { s.shareDir = dir }
}

// WithToolConfig sets the auxiliary config path passed to tools.
func WithToolConfig(path string) Option {
	return func(s *Service) { s.configPath = path }
}

// WithDefaults sets the model, provider and working directory used when a
// request leaves them empty.
func WithDefaults(provider, model, workDir string) Option {
	return func(s *Service) {
		s.provider, s.model, s.workDir = provider, model, workDir
	}
}

// NewService creates a service over store and loop.
func NewService(store *sessionstore.Store, loop *agentloop.Loop, opts ...Option) *Service {
	s := &Service{
		store: store,
		loop:  loop,
		turns: agentloop.NewTurnRegistry(),
		log:   logging.NewLogger("chat"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Chat runs one turn for req, streaming events to em. The user message is
// stored before the loop starts; the assistant reply is stored only when
// the turn finishes with done. A second Chat on a session whose turn is
// still running fails with agentloop.ErrTurnActive.
func (s *Service) Chat(ctx context.Context, req ChatRequest, em agentloop.Emitter) (*agentloop.TurnResult, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	workDir := req.WorkDir
	if workDir == "" {
		workDir = s.workDir
	}
	log := s.log.WithField("session_id", id)

	token, err := s.turns.Begin(id)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	defer s.turns.End(id, token)

	info, created, err := s.store.GetOrCreate(id, transcript.TruncateTitle(text, transcript.TitleLimit), workDir)
	if err == nil {
		err = s.store.AppendMessage(id, sessionstore.Message{Role: "user", Content: req.Message})
	}
	if err != nil {
		em.Emit(agentloop.EventError, agentloop.ErrorData{SessionID: id, Message: err.Error()})
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	if created {
		log.WithField("title", info.Title).Info("started session")
	}
	if req.WorkDir == "" {
		workDir = info.WorkDir
	}

	res, runErr := s.loop.RunTurn(ctx, agentloop.TurnRequest{
		SessionID:   id,
		UserText:    req.Message,
		Model:       firstNonEmpty(req.Model, s.model),
		Provider:    firstNonEmpty(req.Provider, s.provider),
		WorkDir:     workDir,
		ConfigPath:  s.configPath,
		AutoApprove: req.AutoApprove,
	}, em, token)

	var storeErr error
	if res != nil && res.Outcome == agentloop.OutcomeDone && (res.Content != "" || len(res.ToolCalls) > 0) {
		storeErr = s.store.AppendMessage(id, sessionstore.Message{
			Role:      "assistant",
			Content:   res.Content,
			ToolCalls: storedCalls(res),
		})
	}
	if err := s.store.Touch(id); err != nil && storeErr == nil {
		storeErr = err
	}
	if runErr != nil {
		return res, runErr
	}
	if storeErr != nil {
		log.WithError(storeErr).Error("failed to persist turn")
		return res, fmt.Errorf("session %s: %w", id, storeErr)
	}
	return res, nil
}

func storedCalls(res *agentloop.TurnResult) []sessionstore.ToolCall {
	if len(res.ToolCalls) == 0 {
		return nil
	}
	out := make([]sessionstore.ToolCall, 0, len(res.ToolCalls))
	for _, c := range res.ToolCalls {
		out = append(out, sessionstore.ToolCall{ID: c.ID, Name: c.Name, Arguments: agentloop.ArgumentsJSON(c.Arguments)})
	}
	return out
}

// Cancel cancels the running turn of one session.
func (s *Service) Cancel(sessionID string) bool {
	return s.turns.Cancel(sessionID)
}

// CancelAll cancels every running turn and returns how many there were.
func (s *Service) CancelAll() int {
	return s.turns.CancelAll()
}

// Active lists the sessions with a running turn.
func (s *Service) Active() []string {
	return s.turns.Active()
}

// ResolveApproval delivers a decision for a pending tool_approval.
func (s *Service) ResolveApproval(requestID string, approved bool) error {
	return s.loop.Approvals().Resolve(requestID, approved)
}

// Sessions lists the sessions started in workDir, both those in the store
// and those recorded by the kimi CLI, most recently updated first. A
// session present in both is reported once with the store's metadata.
func (s *Service) Sessions(workDir string) ([]sessionstore.Info, error) {
	if workDir == "" {
		workDir = s.workDir
	}
	stored, err := s.store.List()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []sessionstore.Info
	for _, info := range stored {
		if !sameDir(info.WorkDir, workDir) {
			continue
		}
		seen[info.ID] = true
		out = append(out, info)
	}

	if s.shareDir != "" {
		wire, err := transcript.ListSessions(s.shareDir, workDir)
		if err != nil {
			s.log.WithError(err).Warn("failed to list CLI sessions")
		}
		for _, info := range wire {
			if seen[info.ID] {
				continue
			}
			seen[info.ID] = true
			out = append(out, info)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt > out[j].UpdatedAt
	})
	return out, nil
}

// History returns the messages of a session, looking first at sessions
// live in this process, then the store, then the CLI wire log.
func (s *Service) History(sessionID, workDir string) ([]sessionstore.Message, error) {
	if sess, ok := s.store.Cached(sessionID); ok && len(sess.Messages) > 0 {
		return sess.Messages, nil
	}

	sess, err := s.store.Get(sessionID)
	switch {
	case err == nil:
		if len(sess.Messages) > 0 {
			return sess.Messages, nil
		}
		if workDir == "" {
			workDir = sess.WorkDir
		}
	case errors.Is(err, sessionstore.ErrSessionNotFound):
	default:
		return nil, err
	}

	if workDir == "" {
		workDir = s.workDir
	}
	if s.shareDir != "" {
		path := transcript.WirePath(s.shareDir, workDir, sessionID)
		if _, statErr := os.Stat(path); statErr == nil {
			return transcript.ReconstructFile(path)
		}
	}
	if err != nil {
		return nil, err
	}
	return nil, nil
}

// DeleteSession cancels any running turn, then removes the session from
// the store and its CLI directory, if any.
func (s *Service) DeleteSession(sessionID, workDir string) error {
	s.turns.Cancel(sessionID)

	sess, err := s.store.Get(sessionID)
	switch {
	case err == nil:
		if workDir == "" {
			workDir = sess.WorkDir
		}
	case errors.Is(err, sessionstore.ErrSessionNotFound):
	default:
		return err
	}
	if err := s.store.Delete(sessionID); err != nil {
		return err
	}

	if workDir == "" {
		workDir = s.workDir
	}
	if s.shareDir != "" {
		if err := transcript.RemoveSession(s.shareDir, workDir, sessionID); err != nil {
			return fmt.Errorf("delete CLI session: %w", err)
		}
	}
	s.log.WithField("session_id", sessionID).Info("deleted session")
	return nil
}

// Close cancels running turns and refuses new ones.
func (s *Service) Close() {
	s.turns.Close()
	s.loop.Approvals().Close()
}

func sameDir(a, b string) bool {
	if a == b {
		return true
	}
	return canonical(a) == canonical(b)
}

func canonical(dir string) string {
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return resolved
	}
	return filepath.Clean(dir)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
