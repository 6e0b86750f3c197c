// Package main hosts the batchvec CLI entrypoint and command graph.
//
// The Cobra command tree translates terminal invocations into IPC calls
// against the daemon: queue submission and control, durable settings edits,
// status reporting and daemon lifecycle management. Configuration resolution
// and socket discovery are centralized in the command context so subcommands
// only deal with presentation.
//
// Queue semantics belong in internal/engine; add behaviour there first and
// surface it here through a command or flag.
package main
