package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"batchvec/internal/config"
	"batchvec/internal/engine"
	"batchvec/internal/ipc"
	"batchvec/internal/queue"
	"batchvec/internal/testsupport"
)

func TestQueueCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	input := filepath.Join(env.baseDir, "input")
	testsupport.WritePNG(t, filepath.Join(input, "logo.png"), 8, 4)
	testsupport.WritePNG(t, filepath.Join(input, "badge.png"), 2, 2)
	if err := os.WriteFile(filepath.Join(input, "notes.txt"), []byte("plain text"), 0o644); err != nil {
		t.Fatalf("write notes: %v", err)
	}

	out, err := env.run(t, "queue", "add", input)
	if err != nil {
		t.Fatalf("queue add: %v", err)
	}
	requireContains(t, out, "Queued 2 image(s)")
	requireContains(t, out, "notes.txt: not an image")

	out, err = env.run(t, "queue", "pause")
	if err != nil {
		t.Fatalf("queue pause: %v", err)
	}
	requireContains(t, out, "Queue paused")

	out, err = env.run(t, "queue", "list")
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, out, "badge.png")
	requireContains(t, out, "logo.png")
	requireContains(t, out, "8x4")
	requireContains(t, out, "paused")

	out, err = env.run(t, "queue", "list", "--json")
	if err != nil {
		t.Fatalf("queue list --json: %v", err)
	}
	var view engine.View
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode list json: %v\n%s", err, out)
	}
	if len(view.Queue) != 2 || view.Queue[0].Name != "badge.png" || view.Queue[0].Type != "image/png" {
		t.Fatalf("unexpected queue view: %+v", view.Queue)
	}

	out, err = env.run(t, "queue", "resume")
	if err != nil {
		t.Fatalf("queue resume: %v", err)
	}
	if strings.Contains(out, "paused") {
		t.Fatalf("expected resumed queue, got %q", out)
	}

	if _, err := env.run(t, "queue", "retry", "missing.png"); err == nil {
		t.Fatal("expected retry of unknown item to fail")
	}

	if _, err := env.run(t, "queue", "list", "--status", "bogus"); err == nil {
		t.Fatal("expected unknown status filter to fail")
	}

	out, err = env.run(t, "queue", "cancel")
	if err != nil {
		t.Fatalf("queue cancel: %v", err)
	}
	requireContains(t, out, "Queue idle")
}

func TestQueueAddRejectsEmptyInput(t *testing.T) {
	env := setupCLITestEnv(t)
	path := filepath.Join(env.baseDir, "readme.md")
	if err := os.WriteFile(path, []byte("# hi"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := env.run(t, "queue", "add", path); err == nil || !strings.Contains(err.Error(), "no image files") {
		t.Fatalf("expected no image files error, got %v", err)
	}
}

func TestConfigSetAndShow(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "config", "set", "format", "svg")
	if err != nil {
		t.Fatalf("config set format: %v", err)
	}
	requireContains(t, out, "svg")

	if _, err := env.run(t, "config", "set", "format", "png"); err == nil {
		t.Fatal("expected unsupported format to fail")
	}

	if _, err := env.run(t, "config", "set", "folder", "/../vectors/"); err != nil {
		t.Fatalf("config set folder: %v", err)
	}
	if _, err := env.run(t, "config", "set", "remove-background", "on"); err != nil {
		t.Fatalf("config set remove-background: %v", err)
	}
	if _, err := env.run(t, "config", "set", "language", "pt-BR"); err != nil {
		t.Fatalf("config set language: %v", err)
	}
	out, err = env.run(t, "config", "set", "auto-pause", "on", "--count", "3", "--min", "2", "--max", "4")
	if err != nil {
		t.Fatalf("config set auto-pause: %v", err)
	}
	requireContains(t, out, "every 3 items, 2-4 min")

	out, err = env.run(t, "config", "show", "--json")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	var resp ipc.ConfigGetResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode config json: %v\n%s", err, out)
	}
	s := resp.Settings
	if s.Format != "svg" || s.Folder != "vectors" || !s.RemoveBackground || s.Language != "pt" {
		t.Fatalf("unexpected settings: %+v", s)
	}
	if !s.AutoPause.Enabled || s.AutoPause.Count != 3 {
		t.Fatalf("unexpected auto-pause: %+v", s.AutoPause)
	}

	// Unchanged flags keep the stored values.
	if _, err := env.run(t, "config", "set", "auto-pause", "off"); err != nil {
		t.Fatalf("config set auto-pause off: %v", err)
	}
	out, err = env.run(t, "config", "show", "--json")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	resp = ipc.ConfigGetResponse{}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode config json: %v", err)
	}
	if resp.Settings.AutoPause.Enabled || resp.Settings.AutoPause.Count != 3 {
		t.Fatalf("auto-pause off should keep count: %+v", resp.Settings.AutoPause)
	}
}

func TestStatusAndTestNotify(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "running (pid")
	requireContains(t, out, "Extension:")
	requireContains(t, out, "Queue is empty")

	out, err = env.run(t, "test-notify")
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "ntfy topic not configured")
}

func TestCommandsWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	_, _, err := runCLI(t, []string{"queue", "list"}, "", configPath)
	if err == nil || !strings.Contains(err.Error(), "batchvec start") {
		t.Fatalf("expected start hint, got %v", err)
	}

	stdout, _, err := runCLI(t, []string{"status"}, "", configPath)
	if err != nil {
		t.Fatalf("offline status: %v", err)
	}
	requireContains(t, stdout, "not running")

	stdout, _, err = runCLI(t, []string{"stop"}, "", configPath)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, stdout, "Daemon is not running")
}

func TestConfigInitAndValidate(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "batchvec", "config.toml")

	stdout, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, stdout, target)

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", ""); err == nil {
		t.Fatal("expected second init without --overwrite to fail")
	}

	// Point the sample at the temp dir so validation does not touch $HOME.
	cfg, _, _, err := config.Load(target)
	if err != nil {
		t.Fatalf("load sample: %v", err)
	}
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	writeTestConfig(t, target, cfg)

	stdout, _, err = runCLI(t, []string{"config", "validate"}, "", target)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, stdout, "Configuration valid")
}

func TestParseToggle(t *testing.T) {
	cases := map[string]bool{"on": true, "OFF": false, "true": true, "0": false, "enabled": true}
	for input, want := range cases {
		got, err := parseToggle(input)
		if err != nil || got != want {
			t.Fatalf("parseToggle(%q) = %v, %v; want %v", input, got, err, want)
		}
	}
	if _, err := parseToggle("maybe"); err == nil {
		t.Fatal("expected error for maybe")
	}
}

func TestBuildQueueListRows(t *testing.T) {
	rows := buildQueueListRows([]engine.ItemView{
		{Name: "a.png", Type: "image/png", Status: queue.StatusDone, Size: 2048, Width: 10, Height: 20, HasData: true},
		{Name: "b.png", Type: "image/png", Status: queue.StatusPending, Size: 10},
		{Name: "c.png", Type: "image/png", Status: queue.StatusError, Error: "Processing failed"},
	})
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0][0] != "1" || rows[0][4] != "2.0 kB" || rows[0][5] != "10x20" {
		t.Fatalf("unexpected first row: %v", rows[0])
	}
	if rows[1][2] != "pending (no data)" {
		t.Fatalf("pending item without data should be flagged: %v", rows[1])
	}
	if rows[2][6] != "Processing failed" {
		t.Fatalf("error column missing: %v", rows[2])
	}
}

func TestBuildQueueStatusRows(t *testing.T) {
	rows := buildQueueStatusRows(map[string]int{"done": 2, "pending": 1, "error": 0})
	if len(rows) != 2 || rows[0][0] != "pending" || rows[1][0] != "done" {
		t.Fatalf("unexpected rows: %v", rows)
	}
}
