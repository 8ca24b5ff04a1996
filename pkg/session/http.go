package session

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"price-scout/pkg/models"
)

// HTTP fetches static markup with colly. It renders no JavaScript, which
// makes it the lightweight backend for stores that serve results server side.
type HTTP struct {
	lifecycle
	origin string
	cfg    Config
	ua     string

	collector *colly.Collector
	body      []byte
	doc       *goquery.Document
}

func NewHTTP(origin string, cfg Config) *HTTP {
	cfg.defaults()
	return &HTTP{origin: origin, cfg: cfg, ua: cfg.userAgent()}
}

func (s *HTTP) Open(ctx context.Context) error {
	if err := s.opening(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrSession, err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("%w: cookie jar: %v", models.ErrSession, err)
	}

	c := colly.NewCollector(
		colly.UserAgent(s.ua),
		colly.AllowURLRevisit(),
	)
	c.SetCookieJar(jar)
	c.SetRequestTimeout(s.cfg.Timeout)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", s.cfg.Locale)
	})
	c.OnResponse(func(r *colly.Response) {
		s.body = r.Body
	})

	s.collector = c
	s.set(Open)
	return nil
}

func (s *HTTP) Close() error {
	if !s.closing() {
		return nil
	}
	s.collector = nil
	s.body = nil
	s.doc = nil
	return nil
}

func (s *HTTP) Navigate(ctx context.Context, url string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < s.cfg.Timeout {
			s.collector.SetRequestTimeout(remaining)
		}
	}

	log.Printf("[%s] Navigating to %s", strings.ToUpper(s.origin), url)
	s.body, s.doc = nil, nil
	if err := s.collector.Visit(url); err != nil {
		return fmt.Errorf("%w: navigate %s: %v", models.ErrTransient, url, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(s.body))
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", models.ErrTransient, url, err)
	}
	s.doc = doc
	return nil
}

func (s *HTTP) WaitFor(ctx context.Context, selector string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if s.doc == nil {
		return fmt.Errorf("%w: no document loaded", models.ErrTransient)
	}
	if s.doc.Find(selector).Length() == 0 {
		return fmt.Errorf("%w: selector %q not found", models.ErrTransient, selector)
	}
	return nil
}

func (s *HTTP) HTML(ctx context.Context) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	if s.body == nil {
		return "", fmt.Errorf("%w: no document loaded", models.ErrTransient)
	}
	return string(s.body), nil
}
