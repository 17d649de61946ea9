package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/martinemde/steward/agentloop"
	"github.com/martinemde/steward/chat"
)

type chatOptions struct {
	session    string
	model      string
	workDir    string
	yolo       bool
	showOutput bool
}

func newChatCommand(a *app) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat [message...]",
		Short: "Run one turn: send a message and let the model use tools until it answers",
		Long: `Sends a message to the model and streams its progress. Shell commands and
file writes ask for approval on the terminal unless --yolo is set; when stdin
is not a terminal they are rejected.

The message is read from stdin when no arguments are given.
Ctrl-C cancels the turn; a second Ctrl-C exits immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, a, opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.session, "session", "s", "", "continue an existing session")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "model to use (default from config)")
	cmd.Flags().StringVarP(&opts.workDir, "work-dir", "w", "", "working directory for tools (default from config)")
	cmd.Flags().BoolVar(&opts.yolo, "yolo", false, "approve every tool call without asking")
	cmd.Flags().BoolVar(&opts.showOutput, "show-output", false, "print tool output")
	return cmd
}

func runChat(cmd *cobra.Command, a *app, opts *chatOptions, args []string) error {
	in := cmd.InOrStdin()
	message := strings.Join(args, " ")
	if strings.TrimSpace(message) == "" && !isTerminal(in) {
		data, err := io.ReadAll(in)
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		message = string(data)
		// stdin held the message, so there is nobody left to answer prompts.
		in = strings.NewReader("")
	}
	if strings.TrimSpace(message) == "" {
		return chat.ErrEmptyMessage
	}

	workDir, err := a.workDir(opts.workDir)
	if err != nil {
		return err
	}
	svc, cleanup, err := a.openService()
	if err != nil {
		return err
	}
	defer cleanup()

	sessionID := opts.session
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	em := agentloop.NewEventEmitter(sessionID, 256)
	r := &renderer{
		out:         cmd.OutOrStdout(),
		in:          bufio.NewReader(in),
		interactive: isTerminal(in),
		showOutput:  opts.showOutput,
		resolve:     svc.ResolveApproval,
	}
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		r.run(em.Events())
	}()

	ctx, stopSignals := interruptContext(cmd.Context(), func() { svc.Cancel(sessionID) })
	defer stopSignals()

	res, err := svc.Chat(ctx, chat.ChatRequest{
		SessionID:   sessionID,
		Message:     message,
		Model:       opts.model,
		WorkDir:     workDir,
		AutoApprove: opts.yolo || a.cfg.Yolo,
	}, em)
	em.Close()
	<-rendered

	if res != nil {
		faint.Fprintf(cmd.ErrOrStderr(), "session %s (%d rounds)\n", sessionID, res.Rounds)
	}
	return err
}

// interruptContext calls cancel on the first SIGINT and exits the process
// on the second.
func interruptContext(parent context.Context, cancel func()) (context.Context, func()) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := context.WithCancel(parent)
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
			return
		}
		select {
		case <-sigs:
			os.Exit(130)
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigs)
		stop()
	}
}
