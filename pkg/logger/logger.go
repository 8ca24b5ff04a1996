package logger

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

const DefaultFlushDelay = 2 * time.Second

// New returns a logger writing to stderr with a bracketed component prefix.
func New(component string) *log.Logger {
	return log.New(os.Stderr, "["+component+"] ", log.LstdFlags|log.Lmsgprefix)
}

// OrDefault returns l, or the standard logger when l is nil.
func OrDefault(l *log.Logger) *log.Logger {
	if l == nil {
		return log.Default()
	}
	return l
}

// Deduper collapses runs of identical lines into a single "msg (n)" line,
// written once no repeat arrived for the flush delay.
type Deduper struct {
	out        *log.Logger
	flushDelay time.Duration

	mu      sync.Mutex
	lastMsg string
	count   int
	timer   *time.Timer
}

func NewDeduper(out *log.Logger, flushDelay time.Duration) *Deduper {
	if flushDelay <= 0 {
		flushDelay = DefaultFlushDelay
	}
	return &Deduper{out: OrDefault(out), flushDelay: flushDelay}
}

func (d *Deduper) Printf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	d.mu.Lock()
	defer d.mu.Unlock()

	if msg != d.lastMsg {
		d.flushLocked()
		d.lastMsg = msg
	}
	d.count++

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.flushDelay, d.Flush)
}

// Flush writes the pending line, if any.
func (d *Deduper) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushLocked()
}

func (d *Deduper) flushLocked() {
	switch {
	case d.count == 0:
		return
	case d.count == 1:
		d.out.Print(d.lastMsg)
	default:
		d.out.Printf("%s (%d)", d.lastMsg, d.count)
	}
	d.count = 0
	d.lastMsg = ""
}
