// Package queue defines the batch data model: queue items, their status
// lifecycle, and the metadata-only snapshots the engine persists.
//
// Items carry their binary payload in memory only. Everything that crosses a
// persistence boundary goes through ItemMeta, which has no payload field, so a
// restored item can never be dispatched by accident: HasData reports false and
// the engine marks it skipped.
//
// Status values are the wire strings used by the popup and the automation
// agent; add new ones to allStatuses and update IsTerminal.
package queue
