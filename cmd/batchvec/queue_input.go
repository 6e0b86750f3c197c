package main

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"batchvec/internal/api"
)

// skippedInput records a path that was not queued and why.
type skippedInput struct {
	Path   string
	Reason string
}

// collectImages expands directories one level deep and reads every image
// file into an AddItem. Arguments keep their order; directory entries are
// sorted by name. Duplicate base names after the first are skipped.
func collectImages(paths []string) ([]api.AddItem, []skippedInput, error) {
	var files []string
	for _, arg := range paths {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, nil, fmt.Errorf("inspect %q: %w", arg, err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, nil, fmt.Errorf("read directory %q: %w", arg, err)
		}
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			if entry.Type().IsRegular() {
				names = append(names, entry.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			files = append(files, filepath.Join(arg, name))
		}
	}

	items := make([]api.AddItem, 0, len(files))
	var skipped []skippedInput
	seen := make(map[string]struct{}, len(files))
	for _, path := range files {
		name := filepath.Base(path)
		if _, dup := seen[name]; dup {
			skipped = append(skipped, skippedInput{Path: path, Reason: "duplicate file name"})
			continue
		}
		item, reason, err := readImage(path)
		if err != nil {
			return nil, nil, err
		}
		if reason != "" {
			skipped = append(skipped, skippedInput{Path: path, Reason: reason})
			continue
		}
		seen[name] = struct{}{}
		items = append(items, item)
	}
	return items, skipped, nil
}

// readImage loads path and sniffs its MIME type and dimensions. A non-empty
// reason means the file is not a usable image.
func readImage(path string) (api.AddItem, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return api.AddItem{}, "", fmt.Errorf("read %q: %w", path, err)
	}
	if len(data) == 0 {
		return api.AddItem{}, "empty file", nil
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return api.AddItem{}, "not an image (" + mime + ")", nil
	}
	item := api.AddItem{
		Name: filepath.Base(path),
		Type: mime,
		Size: int64(len(data)),
		Data: data,
	}
	// Formats without a registered decoder are still queued, just without
	// dimensions.
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		item.Width = cfg.Width
		item.Height = cfg.Height
	}
	return item, "", nil
}
