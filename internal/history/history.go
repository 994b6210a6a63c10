package history

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"mingling-chat/internal/chat"
)

// ErrInvariantViolation means an append would break ordering or identity
// of the log. It signals a programming defect, not a user error.
var ErrInvariantViolation = errors.New("history invariant violation")

type Option func(*Log)

func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// Log is the ordered message list of one conversation. Entries are kept
// in creation order and never reordered.
type Log struct {
	mu      sync.RWMutex
	now     func() time.Time
	entries []chat.Message
	// lastStamp survives deletions so Stamp stays monotonic.
	lastStamp time.Time
}

func NewLog(opts ...Option) *Log {
	l := &Log{now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Stamp returns a creation time not earlier than anything handed out or
// appended before. A host clock that steps backwards is replaced by a
// logical clock ticking one nanosecond past the last stamp.
func (l *Log) Stamp() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.now()
	if !t.After(l.lastStamp) && !l.lastStamp.IsZero() {
		t = l.lastStamp.Add(time.Nanosecond)
	}
	l.lastStamp = t
	return t
}

func (l *Log) Append(msg chat.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if msg.ID == "" {
		return fmt.Errorf("%w: message without id", ErrInvariantViolation)
	}
	if l.indexUnlocked(msg.ID) >= 0 {
		return fmt.Errorf("%w: duplicate id %s", ErrInvariantViolation, msg.ID)
	}
	if n := len(l.entries); n > 0 && msg.CreatedAt.Before(l.entries[n-1].CreatedAt) {
		return fmt.Errorf("%w: created_at %s precedes last entry %s",
			ErrInvariantViolation, msg.CreatedAt.Format(time.RFC3339Nano), l.entries[n-1].CreatedAt.Format(time.RFC3339Nano))
	}
	l.entries = append(l.entries, msg.Clone())
	if msg.CreatedAt.After(l.lastStamp) {
		l.lastStamp = msg.CreatedAt
	}
	return nil
}

// DeleteTurn removes the message with the given id. A user message that
// is immediately followed by an assistant message is removed together with
// it. Unknown ids are ignored. It returns how many entries went.
func (l *Log) DeleteTurn(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexUnlocked(id)
	if i < 0 {
		return 0
	}
	n := 1
	if l.entries[i].IsUser() && i+1 < len(l.entries) && l.entries[i+1].IsAssistant() {
		n = 2
	}
	l.entries = append(l.entries[:i:i], l.entries[i+n:]...)
	return n
}

func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

func (l *Log) Get(id string) (chat.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i := l.indexUnlocked(id)
	if i < 0 {
		return chat.Message{}, false
	}
	return l.entries[i].Clone(), true
}

// Snapshot returns an ordered copy of the log. Callers may modify it freely.
func (l *Log) Snapshot() []chat.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]chat.Message, 0, len(l.entries))
	for _, m := range l.entries {
		out = append(out, m.Clone())
	}
	return out
}

func (l *Log) indexUnlocked(id string) int {
	for i := range l.entries {
		if l.entries[i].ID == id {
			return i
		}
	}
	return -1
}
