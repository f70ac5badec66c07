package logging

import (
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// DefaultBufferCapacity is the number of log lines kept in memory.
const DefaultBufferCapacity = 1000

// RingBuffer keeps the most recent log lines for the admin log endpoints.
type RingBuffer struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

// NewRingBuffer creates a ring buffer holding up to capacity lines.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &RingBuffer{lines: make([]string, capacity)}
}

// Append adds a line, evicting the oldest when full.
func (b *RingBuffer) Append(line string) {
	b.mu.Lock()
	b.lines[b.next] = line
	b.next = (b.next + 1) % len(b.lines)
	if b.next == 0 {
		b.full = true
	}
	b.mu.Unlock()
}

// Lines returns the buffered lines, oldest first.
func (b *RingBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		out := make([]string, b.next)
		copy(out, b.lines[:b.next])
		return out
	}
	out := make([]string, 0, len(b.lines))
	out = append(out, b.lines[b.next:]...)
	out = append(out, b.lines[:b.next]...)
	return out
}

// Len returns the number of buffered lines.
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.lines)
	}
	return b.next
}

// Core returns a zapcore.Core that tees encoded entries into the buffer.
func (b *RingBuffer) Core(enc zapcore.Encoder, lvl zapcore.LevelEnabler) zapcore.Core {
	return &bufferCore{enc: enc.Clone(), lvl: lvl, buf: b}
}

type bufferCore struct {
	enc zapcore.Encoder
	lvl zapcore.LevelEnabler
	buf *RingBuffer
}

func (c *bufferCore) Enabled(l zapcore.Level) bool {
	return c.lvl.Enabled(l)
}

func (c *bufferCore) With(fields []zapcore.Field) zapcore.Core {
	clone := c.enc.Clone()
	for _, f := range fields {
		f.AddTo(clone)
	}
	return &bufferCore{enc: clone, lvl: c.lvl, buf: c.buf}
}

func (c *bufferCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *bufferCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	encoded, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	c.buf.Append(strings.TrimRight(encoded.String(), "\n"))
	encoded.Free()
	return nil
}

func (c *bufferCore) Sync() error {
	return nil
}
