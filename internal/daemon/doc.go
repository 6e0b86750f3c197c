// Package daemon coordinates the long-running batchvec process.
//
// It wires configuration, the key-value store, the queue engine, the alarm
// scheduler and the extension bridge into a single lifecycle with flock-based
// locking to prevent multiple instances. Each Start builds a fresh engine
// session that reconciles persisted snapshots before the HTTP API and the
// WebSocket endpoint accept traffic.
//
// Keep orchestration logic here: queue semantics live in the engine and
// transport framing lives in the bridge.
package daemon
