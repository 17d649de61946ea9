// Package agentloop drives tool-calling turns between a language model and
// the local machine.
//
// A turn starts from a preamble and one user message and alternates model
// rounds with tool execution until the model answers without calling a
// tool, the turn is cancelled, or the step budget runs out. Each turn ends
// in exactly one terminal event: done, cancelled or error.
//
// # Architecture
//
//   - Loop: the per-turn state machine. It races every model round and
//     every approval wait against the turn's CancelToken.
//   - Catalog: the static tool list. Typed argument structs provide both
//     the JSON schema sent to the model and dispatch-time validation.
//   - Dispatcher: maps a validated call to a Toolbox method. Failures of
//     any kind come back as ToolResult{OK: false}.
//   - ApprovalGate: single-shot decision slots for gated tools, keyed by
//     "session:tool_call".
//   - Emitter: the ordered, best-effort event stream an observer reads.
//   - TurnRegistry: the live cancellation tokens, one per session.
//
// # Quick Start
//
//	dispatcher := agentloop.NewDispatcher(agentloop.DefaultCatalog(), agentloop.NewLocalToolbox())
//	loop := agentloop.NewLoop(client, dispatcher)
//	em := agentloop.NewEventEmitter(sessionID, 256)
//	go func() {
//	    for ev := range em.Events() {
//	        fmt.Printf("[%s] %+v\n", ev.Kind, ev.Data)
//	    }
//	}()
//	result, err := loop.RunTurn(ctx, agentloop.TurnRequest{
//	    SessionID: sessionID,
//	    UserText:  "Create a hello.py file",
//	    WorkDir:   "/path/to/project",
//	}, em, agentloop.NewCancelToken())
//	em.Close()
package agentloop
