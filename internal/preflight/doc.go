// Package preflight provides readiness checks for the filesystem paths,
// listener address and push service that batchvec depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at start-up and logs every failed check so a
//     misconfigured host is visible before the first batch.
//   - The CLI "batchvec status" command renders the results returned in the
//     daemon status.
//
// Each check is gated by its config toggle; unset features are skipped.
package preflight
