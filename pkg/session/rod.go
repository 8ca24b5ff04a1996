package session

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"price-scout/pkg/models"
)

// Rod drives Chrome through go-rod with the stealth evasions applied.
// Every session launches its own browser and works in an incognito context.
type Rod struct {
	lifecycle
	origin string
	cfg    Config
	ua     string

	lnch    *launcher.Launcher
	browser *rod.Browser
	page    *rod.Page
}

func NewRod(origin string, cfg Config) *Rod {
	cfg.defaults()
	return &Rod{origin: origin, cfg: cfg, ua: cfg.userAgent()}
}

func (s *Rod) Open(ctx context.Context) error {
	if err := s.opening(); err != nil {
		return err
	}
	if err := s.launch(ctx); err != nil {
		s.release()
		return fmt.Errorf("%w: rod start for %s: %v", models.ErrSession, s.origin, err)
	}
	s.set(Open)
	log.Printf("[%s] rod session open (ua=%q)", strings.ToUpper(s.origin), s.ua)
	return nil
}

func (s *Rod) launch(ctx context.Context) error {
	l := launcher.New().
		Headless(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("lang", s.cfg.Locale)
	s.lnch = l

	u, err := l.Context(ctx).Launch()
	if err != nil {
		return fmt.Errorf("launch: %w", err)
	}

	b := rod.New().Context(ctx).ControlURL(u)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	// Detach from the open ctx so later calls are bounded per operation.
	s.browser = b.Context(context.Background())

	incognito, err := s.browser.Incognito()
	if err != nil {
		return fmt.Errorf("incognito: %w", err)
	}
	page, err := stealth.Page(incognito)
	if err != nil {
		return fmt.Errorf("page: %w", err)
	}
	s.page = page

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      s.ua,
		AcceptLanguage: s.cfg.Locale,
	}); err != nil {
		return fmt.Errorf("user agent: %w", err)
	}
	if err := (proto.EmulationSetTimezoneOverride{TimezoneID: s.cfg.Timezone}).Call(page); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	return nil
}

func (s *Rod) release() {
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			log.Printf("[%s] rod page close: %v", strings.ToUpper(s.origin), err)
		}
		s.page = nil
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			log.Printf("[%s] rod browser close: %v", strings.ToUpper(s.origin), err)
		}
		s.browser = nil
	}
	if s.lnch != nil {
		s.lnch.Kill()
		s.lnch.Cleanup()
		s.lnch = nil
	}
}

func (s *Rod) Close() error {
	if !s.closing() {
		return nil
	}
	s.release()
	return nil
}

func (s *Rod) Navigate(ctx context.Context, url string) error {
	if err := s.ready(); err != nil {
		return err
	}
	log.Printf("[%s] Navigating to %s", strings.ToUpper(s.origin), url)
	p := s.page.Context(ctx).Timeout(s.cfg.Timeout)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("%w: navigate %s: %v", models.ErrTransient, url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("%w: load %s: %v", models.ErrTransient, url, err)
	}
	return nil
}

func (s *Rod) WaitFor(ctx context.Context, selector string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.page.Context(ctx).Timeout(s.cfg.WaitTimeout).Element(selector); err != nil {
		return fmt.Errorf("%w: selector %q not found: %v", models.ErrTransient, selector, err)
	}
	return nil
}

func (s *Rod) HTML(ctx context.Context) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	html, err := s.page.Context(ctx).Timeout(s.cfg.WaitTimeout).HTML()
	if err != nil {
		return "", fmt.Errorf("%w: read document: %v", models.ErrTransient, err)
	}
	return html, nil
}
