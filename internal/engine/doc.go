// Package engine runs the batch: it owns the in-memory queue, dispatches one
// item at a time to the automation agent in the worker tab, applies the delay
// and auto-pause policy between items, and rebuilds its session from durable
// snapshots after a restart.
//
// All session state sits behind a single mutex. Methods mutate state under
// the lock and collect side effects (storage writes, broadcasts, tab messages,
// alarms, notifications) that run after it is released. A generation counter,
// bumped by submit, pause, resume and cancel, lets delayed continuations and
// in-flight dispatches notice that the session moved on without them.
//
// Payloads never leave memory. Snapshots hold metadata only, so an item
// restored from storage is skipped rather than dispatched.
package engine
