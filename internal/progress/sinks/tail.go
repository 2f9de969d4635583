package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/chapterharvest/internal/progress"
)

// DefaultTailSize bounds the number of messages a Tail keeps.
const DefaultTailSize = 500

// Message is one worker log line retained by a Tail.
type Message struct {
	RunID string    `json:"run_id"`
	At    time.Time `json:"ts"`
	Error bool      `json:"error"`
	Text  string    `json:"text"`
}

// Tail keeps the most recent LOG and LOG_ERROR messages in a ring so the
// control API can show what a run has been doing.
type Tail struct {
	mu   sync.Mutex
	buf  []Message
	next int
	full bool
}

// NewTail returns a Tail holding at most size messages.
func NewTail(size int) *Tail {
	if size <= 0 {
		size = DefaultTailSize
	}
	return &Tail{buf: make([]Message, size)}
}

// Consume retains log events from batch.
func (t *Tail) Consume(_ context.Context, batch []progress.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, evt := range batch {
		if evt.Stage != progress.StageLog && evt.Stage != progress.StageLogError {
			continue
		}
		t.buf[t.next] = Message{
			RunID: evt.RunUUID().String(),
			At:    evt.TS,
			Error: evt.Stage == progress.StageLogError,
			Text:  evt.Note,
		}
		t.next = (t.next + 1) % len(t.buf)
		if t.next == 0 {
			t.full = true
		}
	}
	return nil
}

// Recent returns up to n messages, oldest first. n <= 0 returns everything
// retained.
func (t *Tail) Recent(n int) []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ordered []Message
	if t.full {
		ordered = append(ordered, t.buf[t.next:]...)
	}
	ordered = append(ordered, t.buf[:t.next]...)
	if n > 0 && len(ordered) > n {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}

// Close implements the Sink interface; it performs no action.
func (t *Tail) Close(context.Context) error {
	return nil
}
