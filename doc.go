// Package shelly is the core of a long-running agent daemon that mediates
// between datagram clients and a remote Messages-style inference backend,
// interleaving model turns with local tool executions.
//
// # Architecture
//
// The daemon is composed of small, interface-driven pieces:
//
//   - [Provider] — inference backend (one HTTP call per model turn)
//   - [Tool] and [Registry] — name-keyed local capabilities the model may invoke
//   - [Journal] — bounded, process-local memory rendered into every system prompt
//   - [Agent] — the turn loop: infer, execute requested tools, repeat until
//     the model stops or the round bound trips
//
// Subpackages supply the concrete edges: comm (UDP transport with request
// deduplication and cached-response replay), provider/anthropic (HTTP client),
// tools/bash (shell executor), store/sqlite and store/postgres (journal
// archives), observer (OTLP instrumentation), internal/config (layered
// configuration).
//
// # Quick Start
//
//	client := anthropic.New(endpoint, apiKey)
//	llm := shelly.WithRetry(client, shelly.RetryMax(3))
//
//	tools := shelly.NewRegistry(bash.New())
//	journal := shelly.NewJournal(shelly.JournalIdentity("Shelly"))
//
//	cfg := shelly.DefaultConfig()
//	cfg.Model = model
//
//	agent := shelly.NewAgent(llm, tools, journal, cfg)
//	if err := agent.RunInit(ctx); err != nil {
//		log.Fatal(err)
//	}
//	reply := agent.HandleRequest(ctx, "what kernel is this?")
//
// The cmd/shellyd binary wires all of it behind the UDP transport; cmd/shelly-cli
// is the matching interactive client.
package shelly
