package session

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"

	"price-scout/pkg/models"
)

const snapshotTimeout = 10 * time.Second

// Chrome runs a dedicated headless Chrome per session. Each session owns
// its allocator, so profile, cookies and storage never leak across stores.
type Chrome struct {
	lifecycle
	origin string
	cfg    Config
	ua     string

	ctx         context.Context
	cancel      context.CancelFunc
	cancelAlloc context.CancelFunc
}

func NewChrome(origin string, cfg Config) *Chrome {
	cfg.defaults()
	return &Chrome{origin: origin, cfg: cfg, ua: cfg.userAgent()}
}

func (s *Chrome) Open(ctx context.Context) error {
	if err := s.opening(); err != nil {
		return err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(s.ua),
		chromedp.WindowSize(1920, 1080),
		chromedp.Flag("lang", s.cfg.Locale),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	// The first Run binds the browser to browserCtx, so the caller's
	// deadline is applied by cancelling it instead of deriving from it.
	stop := context.AfterFunc(ctx, cancel)
	err := chromedp.Run(browserCtx,
		emulation.SetLocaleOverride().WithLocale(s.cfg.Locale),
		emulation.SetTimezoneOverride(s.cfg.Timezone),
	)
	stop()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		cancelAlloc()
		return fmt.Errorf("%w: chrome start for %s: %v", models.ErrSession, s.origin, err)
	}

	s.ctx, s.cancel, s.cancelAlloc = browserCtx, cancel, cancelAlloc
	s.set(Open)
	log.Printf("[%s] chrome session open (ua=%q)", strings.ToUpper(s.origin), s.ua)
	return nil
}

func (s *Chrome) Close() error {
	if !s.closing() {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.cancelAlloc != nil {
		s.cancelAlloc()
	}
	return nil
}

// run executes actions on the session's tab, bounded by the caller's ctx.
func (s *Chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := s.ready(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (s *Chrome) Navigate(ctx context.Context, url string) error {
	log.Printf("[%s] Navigating to %s", strings.ToUpper(s.origin), url)
	err := s.run(ctx, s.cfg.Timeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		s.snapshot(ctx, "navigate")
		return fmt.Errorf("%w: navigate %s: %v", models.ErrTransient, url, err)
	}
	return nil
}

func (s *Chrome) WaitFor(ctx context.Context, selector string) error {
	if err := s.run(ctx, s.cfg.WaitTimeout, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		s.snapshot(ctx, "wait")
		return fmt.Errorf("%w: selector %q not found: %v", models.ErrTransient, selector, err)
	}
	return nil
}

func (s *Chrome) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, s.cfg.WaitTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("%w: read document: %v", models.ErrTransient, err)
	}
	return html, nil
}

// snapshot dumps a screenshot and the page markup into the debug dir. It
// is skipped once ctx has ended and never outlives it.
func (s *Chrome) snapshot(ctx context.Context, stage string) {
	if s.cfg.DebugDir == "" || ctx.Err() != nil || s.ready() != nil {
		return
	}
	debugCtx, cancel := context.WithTimeout(s.ctx, snapshotTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	base := filepath.Join(s.cfg.DebugDir, fmt.Sprintf("%s_%s_%d", s.origin, stage, time.Now().Unix()))

	var buf []byte
	if err := chromedp.Run(debugCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		log.Printf("Failed to capture screenshot: %v", err)
	} else if err := os.WriteFile(base+".png", buf, 0644); err != nil {
		log.Printf("Failed to write screenshot: %v", err)
	}

	var html string
	if err := chromedp.Run(debugCtx, chromedp.Evaluate(`document.documentElement.outerHTML`, &html)); err != nil {
		log.Printf("Failed to capture HTML: %v", err)
	} else if err := os.WriteFile(base+".html", []byte(html), 0644); err != nil {
		log.Printf("Failed to write HTML: %v", err)
	} else {
		log.Printf("Debug snapshot saved to %s.{png,html}", base)
	}
}
