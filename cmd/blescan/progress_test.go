package main

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// syncBuffer is a bytes.Buffer safe for the printer goroutine and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgressPrinter(t *testing.T) {
	t.Run("prints phase updates and clears the line", func(t *testing.T) {
		out := &syncBuffer{}
		p := NewProgressPrinter(out, "Connecting to AA:BB", "Connecting", 0)

		p.Start()
		assert.Contains(t, out.String(), "Connecting to AA:BB (Connecting...)")

		p.Callback()("Discovering")
		assert.Eventually(t, func() bool {
			return strings.Contains(out.String(), "(Discovering")
		}, 2*time.Second, 10*time.Millisecond)

		p.Stop()
		assert.True(t, strings.HasSuffix(out.String(), clearLineSequence), "Stop MUST clear the status line")
	})

	t.Run("stop without start writes nothing", func(t *testing.T) {
		out := &syncBuffer{}
		p := NewProgressPrinter(out, "Scanning", "Scanning", time.Second)

		p.Stop()
		p.Stop()

		assert.Empty(t, out.String())
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		out := &syncBuffer{}
		p := NewProgressPrinter(out, "Scanning", "Scanning", time.Second)
		p.Start()

		p.Stop()
		p.Stop()

		assert.Equal(t, 1, strings.Count(out.String(), clearLineSequence))
	})
}

func TestProgressPrinter_Seconds(t *testing.T) {
	countdown := NewProgressPrinter(nil, "", "", 10*time.Second)
	assert.Equal(t, 7, countdown.seconds(3300*time.Millisecond))
	assert.Equal(t, 0, countdown.seconds(11*time.Second), "countdown MUST NOT go negative")

	elapsed := NewProgressPrinter(nil, "", "", 0)
	assert.Equal(t, 3, elapsed.seconds(3900*time.Millisecond))
}
