// Package downloads decides the filename and folder for vectorized results the
// browser is about to save.
package downloads

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"
)

// ConflictUniquify asks the browser to append a counter on name clashes.
const ConflictUniquify = "uniquify"

const defaultExtension = "svg"

var (
	urlExtPattern  = regexp.MustCompile(`\.([a-zA-Z0-9]+)$`)
	nameExtPattern = regexp.MustCompile(`\.[^.]+$`)
)

// BuildFilename combines the original item name with the extension of the
// download URL, e.g. "cat.png" + ".../result.svg?x=1" gives "cat.svg".
func BuildFilename(originalName, downloadURL string) string {
	ext := defaultExtension
	if parsed, err := url.Parse(downloadURL); err == nil {
		if match := urlExtPattern.FindStringSubmatch(parsed.Path); match != nil {
			ext = strings.ToLower(match[1])
		}
	}
	base := nameExtPattern.ReplaceAllString(originalName, "")
	return base + "." + ext
}

// NameMap remembers which item produced each download URL for the lifetime of
// the process.
type NameMap struct {
	mu    sync.RWMutex
	names map[string]string
}

func NewNameMap() *NameMap {
	return &NameMap{names: make(map[string]string)}
}

// Add records the original item name for a download URL.
func (m *NameMap) Add(downloadURL, name string) {
	if downloadURL == "" || name == "" {
		return
	}
	m.mu.Lock()
	m.names[downloadURL] = name
	m.mu.Unlock()
}

// Lookup matches the URL exactly, then by origin and path without the query.
func (m *NameMap) Lookup(downloadURL string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if name, ok := m.names[downloadURL]; ok {
		return name, true
	}
	parsed, err := url.Parse(downloadURL)
	if err != nil || parsed.Scheme == "" {
		return "", false
	}
	name, ok := m.names[parsed.Scheme+"://"+parsed.Host+parsed.Path]
	return name, ok
}

func (m *NameMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.names)
}

// Decision is the browser-facing filename suggestion.
type Decision struct {
	Filename       string `json:"filename,omitempty"`
	ConflictAction string `json:"conflictAction,omitempty"`
	Handled        bool   `json:"handled"`
}

// Decide computes the download path for a URL. Downloads from outside the
// site host are left alone.
func Decide(names *NameMap, folder, siteHost, downloadURL, suggested string) Decision {
	parsed, err := url.Parse(downloadURL)
	if err != nil || !onSite(parsed.Hostname(), siteHost) {
		return Decision{}
	}

	var filename string
	if name, ok := names.Lookup(downloadURL); ok {
		filename = BuildFilename(name, downloadURL)
	} else {
		filename = suggested
		if folder != "" {
			filename = baseName(suggested)
		}
	}
	if folder != "" {
		filename = path.Join(folder, filename)
	}
	return Decision{Filename: filename, ConflictAction: ConflictUniquify, Handled: true}
}

func onSite(host, siteHost string) bool {
	host = strings.ToLower(host)
	siteHost = strings.ToLower(siteHost)
	if host == "" || siteHost == "" {
		return false
	}
	return host == siteHost || strings.HasSuffix(host, "."+siteHost)
}

func baseName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		return name[idx+1:]
	}
	return name
}
