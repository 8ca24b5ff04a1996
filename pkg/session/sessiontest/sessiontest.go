// Package sessiontest provides an in-memory session.Session for tests.
package sessiontest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"price-scout/pkg/models"
	"price-scout/pkg/session"
)

// Pages is a fake session serving canned markup by URL.
type Pages struct {
	mu      sync.Mutex
	pages   map[string]string
	state   session.State
	current string
	loaded  bool

	OpenErr error
	Visited []string
	Opens   int
	Closes  int
}

func New(pages map[string]string) *Pages {
	return &Pages{pages: pages}
}

// Factory returns a session.Factory that hands out sessions over the same
// pages and records every session it created.
func Factory(pages map[string]string, created *[]*Pages) session.Factory {
	var mu sync.Mutex
	return func(string) session.Session {
		p := New(pages)
		if created != nil {
			mu.Lock()
			*created = append(*created, p)
			mu.Unlock()
		}
		return p
	}
}

func (p *Pages) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Opens++
	if p.OpenErr != nil {
		return p.OpenErr
	}
	if p.state != session.Unopened {
		return fmt.Errorf("%w: session is %s", models.ErrSession, p.state)
	}
	p.state = session.Open
	return nil
}

func (p *Pages) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closes++
	p.state = session.Closed
	return nil
}

func (p *Pages) State() session.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pages) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != session.Open {
		return fmt.Errorf("%w: session is %s", models.ErrSession, p.state)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.Visited = append(p.Visited, url)
	html, ok := p.pages[url]
	if !ok {
		p.loaded = false
		return fmt.Errorf("%w: navigate %s: 404", models.ErrTransient, url)
	}
	p.current, p.loaded = html, true
	return nil
}

func (p *Pages) WaitFor(ctx context.Context, selector string) error {
	html, err := p.HTML(ctx)
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return err
	}
	if doc.Find(selector).Length() == 0 {
		return fmt.Errorf("%w: selector %q not found", models.ErrTransient, selector)
	}
	return nil
}

func (p *Pages) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loaded {
		return "", fmt.Errorf("%w: no document loaded", models.ErrTransient)
	}
	return p.current, nil
}
