// Package session provides isolated browsing contexts for scrapers.
//
// A Session serves one store for one operation. Callers must pair every
// Open with a deferred Close; Close is idempotent and releases everything
// the session acquired, whatever state it is in.
package session

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"price-scout/pkg/models"
)

type State int

const (
	Unopened State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Unopened:
		return "unopened"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is one browser-like execution context.
type Session interface {
	Open(ctx context.Context) error
	Close() error
	// Navigate loads url and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// WaitFor blocks until selector matches an element of the current page.
	WaitFor(ctx context.Context, selector string) error
	// HTML returns the current document markup.
	HTML(ctx context.Context) (string, error)
	State() State
}

// Factory returns a fresh, unopened session for the given origin.
type Factory func(origin string) Session

const (
	BackendChromedp = "chromedp"
	BackendRod      = "rod"
	BackendHTTP     = "http"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
}

// RandomUserAgent picks a desktop user agent.
func RandomUserAgent() string {
	return userAgents[rand.IntN(len(userAgents))]
}

// Config describes the market every session emulates.
type Config struct {
	Backend     string
	UserAgent   string // empty picks a random one per session
	Locale      string
	Timezone    string
	Timeout     time.Duration // navigation timeout
	WaitTimeout time.Duration // element wait timeout
	DebugDir    string        // chromedp only: failure snapshots
}

func (c *Config) defaults() {
	if c.Backend == "" {
		c.Backend = BackendChromedp
	}
	if c.Locale == "" {
		c.Locale = "de-DE"
	}
	if c.Timezone == "" {
		c.Timezone = "Europe/Berlin"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 10 * time.Second
	}
}

func (c Config) userAgent() string {
	if c.UserAgent != "" {
		return c.UserAgent
	}
	return RandomUserAgent()
}

// NewFactory returns a Factory for the configured backend.
func NewFactory(cfg Config) (Factory, error) {
	cfg.defaults()
	switch cfg.Backend {
	case BackendChromedp:
		return func(origin string) Session { return NewChrome(origin, cfg) }, nil
	case BackendRod:
		return func(origin string) Session { return NewRod(origin, cfg) }, nil
	case BackendHTTP:
		return func(origin string) Session { return NewHTTP(origin, cfg) }, nil
	default:
		return nil, fmt.Errorf("session: unknown backend %q", cfg.Backend)
	}
}

// lifecycle tracks the Unopened -> Open -> Closed state machine shared by
// every backend.
type lifecycle struct {
	mu    sync.Mutex
	state State
}

func (l *lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// opening reports whether an Open call may proceed.
func (l *lifecycle) opening() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case Open:
		return fmt.Errorf("%w: already open", models.ErrSession)
	case Closed:
		return fmt.Errorf("%w: already closed", models.ErrSession)
	}
	return nil
}

func (l *lifecycle) set(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// closing moves to Closed and reports whether this call did the transition.
func (l *lifecycle) closing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Closed {
		return false
	}
	l.state = Closed
	return true
}

func (l *lifecycle) ready() error {
	if s := l.State(); s != Open {
		return fmt.Errorf("%w: session is %s", models.ErrSession, s)
	}
	return nil
}
