// Package settings holds the durable, user-editable batch settings: the
// inter-item delay, output format, download folder, background removal,
// auto-pause policy and site language.
package settings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// Format is a supported vector output format.
type Format string

const (
	FormatEPS Format = "eps"
	FormatSVG Format = "svg"
)

// ErrUnsupportedFormat is returned for any format other than eps or svg.
var ErrUnsupportedFormat = errors.New("unsupported output format")

const (
	defaultDelaySeconds   = 5
	defaultAutoPauseCount = 10
	defaultAutoPauseMin   = 1
	defaultAutoPauseMax   = 5
	defaultLanguage       = "en"
)

// AutoPausePolicy pauses the session for a random interval after Count
// consecutive successful items.
type AutoPausePolicy struct {
	Enabled    bool `json:"enabled"`
	Count      int  `json:"count"`
	MinMinutes int  `json:"minMinutes"`
	MaxMinutes int  `json:"maxMinutes"`
}

// Settings is the durable configuration edited from the popup or CLI.
type Settings struct {
	DelaySeconds     float64         `json:"delaySeconds"`
	Format           Format          `json:"format"`
	Folder           string          `json:"folder"`
	RemoveBackground bool            `json:"removeBackground"`
	AutoPause        AutoPausePolicy `json:"autoPause"`
	Language         string          `json:"language"`
}

// Default returns the settings used before anything is stored.
func Default() Settings {
	return Settings{
		DelaySeconds: defaultDelaySeconds,
		Format:       FormatEPS,
		AutoPause: AutoPausePolicy{
			Count:      defaultAutoPauseCount,
			MinMinutes: defaultAutoPauseMin,
			MaxMinutes: defaultAutoPauseMax,
		},
		Language: defaultLanguage,
	}
}

// Delay returns the inter-item delay as a duration.
func (s Settings) Delay() time.Duration {
	return time.Duration(s.DelaySeconds * float64(time.Second))
}

// Normalize applies every field rule and returns the result.
func (s Settings) Normalize() Settings {
	s.DelaySeconds = NormalizeDelay(s.DelaySeconds)
	if parsed, err := ParseFormat(string(s.Format)); err == nil {
		s.Format = parsed
	} else {
		s.Format = FormatEPS
	}
	s.Folder = SanitizeFolder(s.Folder)
	s.AutoPause = s.AutoPause.Normalize()
	s.Language = NormalizeLanguage(s.Language)
	return s
}

// NormalizeDelay clamps negative and NaN delays to zero.
func NormalizeDelay(seconds float64) float64 {
	if math.IsNaN(seconds) || seconds < 0 {
		return 0
	}
	if math.IsInf(seconds, 1) {
		return math.MaxInt32
	}
	return seconds
}

// ParseFormat accepts eps or svg in any case.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case FormatEPS:
		return FormatEPS, nil
	case FormatSVG:
		return FormatSVG, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, value)
	}
}

// SanitizeFolder turns user input into a relative download subfolder with no
// leading slashes and no parent-directory segments.
func SanitizeFolder(input string) string {
	clean := strings.ReplaceAll(strings.TrimSpace(input), `\`, "/")
	segments := strings.Split(clean, "/")
	kept := segments[:0]
	for _, segment := range segments {
		segment = strings.TrimSpace(segment)
		if segment == "" || segment == "." || segment == ".." {
			continue
		}
		kept = append(kept, segment)
	}
	return strings.Join(kept, "/")
}

// Normalize fills unset or invalid policy fields. Max always ends up greater
// than Min.
func (p AutoPausePolicy) Normalize() AutoPausePolicy {
	if p.Count < 1 {
		p.Count = defaultAutoPauseCount
	}
	if p.MinMinutes <= 0 {
		p.MinMinutes = defaultAutoPauseMin
	}
	if p.MaxMinutes <= 0 {
		p.MaxMinutes = defaultAutoPauseMax
	}
	if p.MaxMinutes <= p.MinMinutes {
		p.MaxMinutes = p.MinMinutes + 1
	}
	return p
}

// Duration picks the pause length for r in [0,1).
func (p AutoPausePolicy) Duration(r float64) time.Duration {
	if r < 0 {
		r = 0
	}
	if r >= 1 {
		r = math.Nextafter(1, 0)
	}
	minutes := float64(p.MinMinutes) + r*float64(p.MaxMinutes-p.MinMinutes)
	return time.Duration(minutes * float64(time.Minute))
}

// Store is the persistence the settings need.
type Store interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, value any) error
}

// Key is where settings are stored.
const Key = "settings"

// Load merges stored settings over the defaults.
func Load(ctx context.Context, store Store) (Settings, error) {
	s := Default()
	if store == nil {
		return s, nil
	}
	if _, err := store.GetJSON(ctx, Key, &s); err != nil {
		return Default(), fmt.Errorf("load settings: %w", err)
	}
	return s.Normalize(), nil
}

// Save normalizes and writes settings.
func Save(ctx context.Context, store Store, s Settings) (Settings, error) {
	s = s.Normalize()
	if store == nil {
		return s, nil
	}
	if err := store.SetJSON(ctx, Key, s); err != nil {
		return s, fmt.Errorf("save settings: %w", err)
	}
	return s, nil
}

var subdomains = map[string]string{
	"en": "www",
	"pt": "pt",
	"es": "es",
	"fr": "fr",
	"de": "de",
	"it": "it",
	"ja": "ja",
	"ko": "ko",
	"ru": "ru",
	"zh": "zh",
	"hi": "hi",
	"id": "id",
	"pl": "pl",
	"th": "th",
	"tr": "tr",
	"vi": "vi",
}

// NormalizeLanguage reduces a BCP-47 tag to its base language code. Empty or
// unparsable input yields "en".
func NormalizeLanguage(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultLanguage
	}
	tag, err := language.Parse(value)
	if err != nil {
		return defaultLanguage
	}
	base, _ := tag.Base()
	return base.String()
}

// Subdomain maps a language preference to the site subdomain, falling back
// when the language has no localized site.
func Subdomain(lang, fallback string) string {
	if sub, ok := subdomains[NormalizeLanguage(lang)]; ok {
		return sub
	}
	if fallback == "" {
		return "www"
	}
	return fallback
}

// SupportedLanguages lists the base codes with a localized site.
func SupportedLanguages() []string {
	out := make([]string, 0, len(subdomains))
	for _, tag := range []language.Tag{
		language.English, language.Portuguese, language.Spanish, language.French,
		language.German, language.Italian, language.Japanese, language.Korean,
		language.Russian, language.Chinese, language.Hindi, language.Indonesian,
		language.Polish, language.Thai, language.Turkish, language.Vietnamese,
	} {
		base, _ := tag.Base()
		out = append(out, base.String())
	}
	return out
}
