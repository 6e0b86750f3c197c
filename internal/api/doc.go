// Package api defines the message contracts shared by the WebSocket bridge,
// the HTTP API and the IPC server. It translates inbound popup, extension and
// agent messages into engine calls and renders engine state into
// transport-friendly DTOs.
//
// # Key Types
//
// Dispatcher: routes a typed message (queue:add, config:setDelay, poc:done and
// the rest) to the engine and returns the reply payload.
//
// AddRequest/AddItem: a batch submission. Item data travels as base64 in JSON.
//
// DaemonStatus: aggregated runtime information including preflight checks and
// a queue summary.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for the extension's JavaScript. Message payloads
// keep the field names the extension already sends ("seconds", "format",
// "autoPause", "result", "name"), so the relay forwards them untouched.
//
// Errors are classified with ErrorStatus so every transport maps the same
// sentinel to the same outcome.
package api
