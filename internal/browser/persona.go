package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/internal/config"
)

// Persona is the browser identity presented to the portal.
type Persona struct {
	UserAgent string
	Platform  string
	Languages []string
	Timezone  string
	Locale    string
	Width     int64
	Height    int64
}

// PersonaFromConfig builds the persona from browser settings.
func PersonaFromConfig(cfg config.BrowserConfig) Persona {
	return Persona{
		UserAgent: cfg.UserAgent,
		Platform:  "Win32",
		Languages: cfg.Languages,
		Timezone:  cfg.Timezone,
		Locale:    cfg.Locale,
		Width:     int64(cfg.ViewportWidth),
		Height:    int64(cfg.ViewportHeight),
	}
}

// Apply returns the actions that install the persona on a fresh page.
func (p Persona) Apply(logger *zap.Logger) chromedp.Action {
	l := logger.Named("persona")
	return chromedp.Tasks{
		network.Enable(),
		p.setHeaders(l),
		p.setUserAgent(l),
		p.setEnvironment(l),
		p.setViewport(l),
		p.injectNavigatorPatch(l),
	}
}

// acceptLanguage renders Languages as an Accept-Language value with
// decreasing q weights.
func (p Persona) acceptLanguage() string {
	if len(p.Languages) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(p.Languages[0])
	for i := 1; i < len(p.Languages); i++ {
		q := 1.0 - float64(i)*0.1
		if q < 0.7 {
			q = 0.7
		}
		fmt.Fprintf(&b, ",%s;q=%.1f", p.Languages[i], q)
	}
	return b.String()
}

func (p Persona) setHeaders(logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		lang := p.acceptLanguage()
		if lang == "" {
			return nil
		}
		if err := network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": lang}).Do(ctx); err != nil {
			logger.Error("Failed to set extra HTTP headers.", zap.Error(err))
			return fmt.Errorf("persona: failed to set extra http headers: %w", err)
		}
		return nil
	})
}

func (p Persona) setUserAgent(logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if p.UserAgent == "" {
			return nil
		}
		override := emulation.SetUserAgentOverride(p.UserAgent).
			WithPlatform(p.Platform).
			WithAcceptLanguage(strings.Join(p.Languages, ","))
		if err := override.Do(ctx); err != nil {
			logger.Error("Failed to set user agent override.", zap.Error(err))
			return fmt.Errorf("persona: failed to set user agent override: %w", err)
		}
		return nil
	})
}

func (p Persona) setEnvironment(logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if p.Timezone != "" {
			if err := emulation.SetTimezoneOverride(p.Timezone).Do(ctx); err != nil {
				// Chrome rejects a repeated identical override; that is harmless.
				if !strings.Contains(err.Error(), "Timezone override is already in effect") {
					logger.Warn("Failed to set timezone override.", zap.String("timezone", p.Timezone), zap.Error(err))
				}
			}
		}
		if p.Locale != "" {
			if err := emulation.SetLocaleOverride().WithLocale(p.Locale).Do(ctx); err != nil {
				logger.Warn("Failed to set locale override.", zap.String("locale", p.Locale), zap.Error(err))
			}
		}
		return nil
	})
}

func (p Persona) setViewport(logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if p.Width <= 0 || p.Height <= 0 {
			return nil
		}
		if err := emulation.SetDeviceMetricsOverride(p.Width, p.Height, 1.0, false).Do(ctx); err != nil {
			logger.Error("Failed to set device metrics override.", zap.Error(err))
			return fmt.Errorf("persona: failed to set device metrics: %w", err)
		}
		return nil
	})
}

const navigatorPatchTemplate = `(() => {
  const languages = %s;
  Object.defineProperty(Navigator.prototype, 'webdriver', { get: () => undefined, configurable: true });
  if (languages.length) {
    Object.defineProperty(Navigator.prototype, 'languages', { get: () => languages.slice(), configurable: true });
  }
})();`

func (p Persona) injectNavigatorPatch(logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		languages, err := json.Marshal(p.Languages)
		if err != nil {
			return fmt.Errorf("persona: failed to marshal languages: %w", err)
		}
		if p.Languages == nil {
			languages = []byte("[]")
		}
		script := fmt.Sprintf(navigatorPatchTemplate, languages)
		if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
			logger.Error("Failed to register navigator patch.", zap.Error(err))
			return fmt.Errorf("persona: failed to add script on new document: %w", err)
		}
		return nil
	})
}
