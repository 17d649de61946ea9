package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/martinemde/steward/agentloop"
	"github.com/martinemde/steward/chat"
	"github.com/martinemde/steward/config"
	"github.com/martinemde/steward/logging"
	"github.com/martinemde/steward/sessionstore"
	"github.com/martinemde/steward/unifiedllm"
)

// app carries the flags shared by every command and the configuration
// loaded from them.
type app struct {
	configPath string
	logLevel   string
	jsonLogs   bool

	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "steward",
		Short:        "Tool-calling agent for your working directory",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.kimi/steward.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&a.jsonLogs, "json-logs", false, "write logs as JSON")

	root.AddCommand(
		newChatCommand(a),
		newSessionsCommand(a),
		newHistoryCommand(a),
		newDeleteCommand(a),
		newModelsCommand(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	level := cfg.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}
	logging.Configure(level, os.Stderr)
	logging.SetJSON(a.jsonLogs)
	return nil
}

// buildClient picks the adapter for the configured provider: Kimi and
// Moonshot speak Chat Completions, everything else goes through gollm.
func (a *app) buildClient() (*unifiedllm.Client, error) {
	provider := a.cfg.Provider
	var adapter unifiedllm.ProviderAdapter
	switch provider {
	case "kimi", "moonshot":
		creds := a.cfg.Credentials()
		adapter = unifiedllm.NewChatCompletionsAdapter(provider,
			unifiedllm.WithBaseURL(a.cfg.Auth.APIBase),
			unifiedllm.WithTokenFunc(creds.ValidToken),
			unifiedllm.WithHeader("User-Agent", "steward/1.0"),
		)
	default:
		g, err := unifiedllm.NewGollmAdapter(provider, a.cfg.Auth.APIKey, unifiedllm.WithModel(a.cfg.Model))
		if err != nil {
			return nil, err
		}
		adapter = g
	}
	return unifiedllm.NewClient(
		unifiedllm.WithProvider(provider, adapter),
		unifiedllm.WithDefaultProvider(provider),
		unifiedllm.WithMiddleware(unifiedllm.LoggingMiddleware(logging.NewLogger("llm"))),
	), nil
}

// openService wires the store, tools, loop and session service. The
// returned func releases them.
func (a *app) openService() (*chat.Service, func(), error) {
	store, err := sessionstore.Open(a.cfg.SessionDBPath())
	if err != nil {
		return nil, nil, err
	}
	client, err := a.buildClient()
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	toolbox := agentloop.NewLocalToolbox(agentloop.WithServiceResolver(a.cfg.ServiceResolver()))
	dispatcher := agentloop.NewDispatcher(agentloop.DefaultCatalog(), toolbox)
	loop := agentloop.NewLoop(client, dispatcher, agentloop.WithStepBudget(a.cfg.MaxToolSteps))
	svc := chat.NewService(store, loop,
		chat.WithShareDir(a.cfg.ShareDir),
		chat.WithToolConfig(a.cfg.ConfigPath()),
		chat.WithDefaults(a.cfg.Provider, a.cfg.Model, a.cfg.ResolvedWorkDir()),
	)

	cleanup := func() {
		svc.Close()
		if err := client.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close client: %v\n", err)
		}
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close session store: %v\n", err)
		}
	}
	return svc, cleanup, nil
}

// workDir resolves a --work-dir flag against the configured default.
func (a *app) workDir(flag string) (string, error) {
	if flag == "" {
		return a.cfg.ResolvedWorkDir(), nil
	}
	return config.ResolveWorkDir(flag)
}
