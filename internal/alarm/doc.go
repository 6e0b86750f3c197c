// Package alarm provides restart-surviving one-shot wake-ups. Each alarm is
// persisted under "alarm:<name>" and scheduled on a gocron scheduler; Start
// re-arms whatever the previous process left behind.
package alarm
