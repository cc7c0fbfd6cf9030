package stealth

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

//go:embed evasions.js
var evasionsScript string

// Persona defines the browser characteristics presented to the terminal.
type Persona struct {
	UserAgent string   `json:"userAgent"`
	Platform  string   `json:"platform"`
	Languages []string `json:"languages"`
	Timezone  string   `json:"timezone"`
	Locale    string   `json:"locale"`
	Width     int      `json:"width"`
	Height    int      `json:"height"`
}

// DefaultPersona is a desktop Chrome on Windows in Nepal time.
var DefaultPersona = Persona{
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	Platform:  "Win32",
	Languages: []string{"en-US", "en"},
	Timezone:  "Asia/Kathmandu",
	Locale:    "en-US",
	Width:     1280,
	Height:    800,
}

// AcceptLanguage renders the persona's languages as a header value with
// descending q-weights.
func (p Persona) AcceptLanguage() string {
	if len(p.Languages) == 0 {
		return "en-US,en;q=0.9"
	}
	parts := make([]string, 0, len(p.Languages))
	for i, lang := range p.Languages {
		if i == 0 {
			parts = append(parts, lang)
			continue
		}
		q := 1.0 - 0.1*float64(i)
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", lang, q))
	}
	return strings.Join(parts, ",")
}

// Script returns the evasions with the persona bound as its configuration.
func (p Persona) Script() string {
	cfg, err := json.Marshal(p)
	if err != nil {
		cfg = []byte("{}")
	}
	return fmt.Sprintf("(function(persona){\n%s\n})(%s);", evasionsScript, cfg)
}

// Apply returns the CDP actions that make an automated Chrome look like the
// persona. They must run on the tab before the first navigation.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Applying browser stealth persona",
		zap.String("userAgent", p.UserAgent),
		zap.String("platform", p.Platform),
		zap.String("timezone", p.Timezone),
	)

	tasks := chromedp.Tasks{
		emulation.SetUserAgentOverride(p.UserAgent).
			WithPlatform(p.Platform).
			WithAcceptLanguage(p.AcceptLanguage()),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(p.Script()).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": p.AcceptLanguage(),
		}),
	}
	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(p.Locale))
	}
	return tasks
}
