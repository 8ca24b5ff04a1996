package logger

import (
	"bytes"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}

func TestDeduper_CollapsesRepeats(t *testing.T) {
	var out syncBuffer
	d := NewDeduper(log.New(&out, "", 0), time.Hour)

	d.Printf("cache hit %s", "search:amazon:guitar")
	d.Printf("cache hit %s", "search:amazon:guitar")
	d.Printf("cache hit %s", "search:amazon:guitar")
	d.Printf("cache hit %s", "store:thomann.de")
	d.Flush()

	assert.Equal(t, []string{
		"cache hit search:amazon:guitar (3)",
		"cache hit store:thomann.de",
	}, out.Lines())
}

func TestDeduper_FlushesAfterDelay(t *testing.T) {
	var out syncBuffer
	d := NewDeduper(log.New(&out, "", 0), 20*time.Millisecond)

	d.Printf("miss")
	d.Printf("miss")

	assert.Eventually(t, func() bool {
		return out.Lines()[0] == "miss (2)"
	}, time.Second, 10*time.Millisecond)
}

func TestNew_Prefix(t *testing.T) {
	l := New("hunter")
	assert.Equal(t, "[hunter] ", l.Prefix())
	assert.Equal(t, log.Default(), OrDefault(nil))
	assert.Equal(t, l, OrDefault(l))
}
