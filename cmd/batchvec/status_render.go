package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"

	"batchvec/internal/ipc"
	"batchvec/internal/queue"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

// renderStatus lays out the daemon, preflight and queue sections of
// `batchvec status`.
func renderStatus(status *ipc.StatusResponse, colorize bool) []string {
	var lines []string
	lines = append(lines, renderSectionHeader("Daemon", colorize)...)
	if status.Running {
		lines = append(lines, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID), colorize))
		if status.StartedAt != "" {
			lines = append(lines, renderStatusLine("Started", statusInfo, status.StartedAt, colorize))
		}
		lines = append(lines, renderStatusLine("API", statusInfo, status.APIBind, colorize))
		extKind := statusWarn
		extDetail := "not connected; queued items wait for the browser relay"
		if status.ExtensionConnected {
			extKind, extDetail = statusOK, "connected"
		}
		lines = append(lines, renderStatusLine("Extension", extKind, extDetail, colorize))
		lines = append(lines, renderStatusLine("Popups", statusInfo, strconv.Itoa(status.PopupCount), colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusWarn, "not running; start it with `batchvec start`", colorize))
	}
	lines = append(lines, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
	lines = append(lines, "")

	lines = append(lines, renderSectionHeader("Preflight", colorize)...)
	if len(status.Checks) == 0 {
		lines = append(lines, renderStatusLine("Checks", statusInfo, "none recorded", colorize))
	}
	for _, check := range status.Checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
	lines = append(lines, "")

	lines = append(lines, renderSectionHeader("Queue", colorize)...)
	switch {
	case status.Queue.IsPaused && status.Queue.AutoPauseEndTime != "":
		lines = append(lines, renderStatusLine("State", statusWarn, "auto-paused until "+status.Queue.AutoPauseEndTime, colorize))
	case status.Queue.IsPaused:
		lines = append(lines, renderStatusLine("State", statusWarn, "paused", colorize))
	case status.Queue.IsProcessing:
		lines = append(lines, renderStatusLine("State", statusOK, "processing", colorize))
	default:
		lines = append(lines, renderStatusLine("State", statusInfo, "idle", colorize))
	}
	rows := buildQueueStatusRows(status.Queue.Counts)
	if len(rows) == 0 {
		lines = append(lines, statusIndent+"Queue is empty")
		return lines
	}
	table := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight},
		"Total", strconv.Itoa(status.Queue.Total))
	lines = append(lines, strings.Split(strings.TrimRight(table, "\n"), "\n")...)
	return lines
}

// buildQueueStatusRows lists non-zero counts in lifecycle order.
func buildQueueStatusRows(counts map[string]int) [][]string {
	rows := make([][]string, 0, len(counts))
	for _, status := range queue.AllStatuses() {
		if n := counts[string(status)]; n > 0 {
			rows = append(rows, []string{string(status), strconv.Itoa(n)})
		}
	}
	return rows
}

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
