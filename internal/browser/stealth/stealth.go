// Package stealth makes an automated Chrome target look like a normal
// user-operated browser: persona spoofing via CDP overrides plus a
// persistent evasion script injected before any page script runs.
package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"math/rand"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

//go:embed evasions.js
var evasionsScript string

// Persona defines the browser characteristics to emulate.
type Persona struct {
	UserAgent string
	Platform  string
	Languages []string
	Timezone  string
	Locale    string
	Width     int
	Height    int
}

// DefaultPersona provides a realistic default browser profile.
var DefaultPersona = Persona{
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	Platform:  "Win32",
	Languages: []string{"en-US", "en"},
	Timezone:  "America/Los_Angeles",
	Locale:    "en-US",
	Width:     1920,
	Height:    1080,
}

// common desktop viewports, weighted roughly by market share.
var viewports = [][2]int{
	{1920, 1080},
	{1920, 1080},
	{1536, 864},
	{1440, 900},
	{1366, 768},
	{1680, 1050},
	{2560, 1440},
}

// SamplePersona returns the default persona with a viewport drawn from a
// realistic distribution, so concurrent sessions do not share identical
// fingerprints.
func SamplePersona(rng *rand.Rand) Persona {
	p := DefaultPersona
	v := viewports[rng.Intn(len(viewports))]
	p.Width, p.Height = v[0], v[1]
	return p
}

// Apply constructs the CDP actions that align the target with the
// persona and inject the evasion script on every new document.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying browser stealth persona",
		zap.String("user_agent", p.UserAgent),
		zap.Int("width", p.Width),
		zap.Int("height", p.Height),
	)

	return chromedp.Tasks{
		emulation.SetUserAgentOverride(p.UserAgent),

		emulation.SetDeviceMetricsOverride(int64(p.Width), int64(p.Height), 1.0, false),

		// AddScriptToEvaluateOnNewDocument returns two values, so it needs
		// an ActionFunc wrapper.
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(evasionsScript).Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),

		emulation.SetTimezoneOverride(p.Timezone),

		emulation.SetLocaleOverride().WithLocale(p.Locale),

		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": acceptLanguage(p.Languages),
		}),
	}
}

func acceptLanguage(langs []string) string {
	switch len(langs) {
	case 0:
		return "en-US,en;q=0.9"
	case 1:
		return langs[0]
	default:
		return fmt.Sprintf("%s,%s;q=0.9", langs[0], langs[1])
	}
}
