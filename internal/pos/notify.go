package pos

import (
	"sync"
	"time"
)

// Level is the severity of a cashier notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a transient message for the cashier.
type Notification struct {
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Notifier receives cashier notifications. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(Notification)
}

// DefaultInboxSize bounds the inbox when no size is given.
const DefaultInboxSize = 50

// Inbox buffers notifications until a surface drains them. When full the
// oldest entry is dropped.
type Inbox struct {
	mu    sync.Mutex
	items []Notification
	max   int
}

// NewInbox returns an inbox holding at most size entries.
func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{max: size}
}

// Notify implements Notifier.
func (b *Inbox) Notify(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == b.max {
		copy(b.items, b.items[1:])
		b.items = b.items[:len(b.items)-1]
	}
	b.items = append(b.items, n)
}

// Drain returns and forgets every buffered notification, oldest first.
func (b *Inbox) Drain() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	if out == nil {
		return []Notification{}
	}
	return out
}

// Len reports how many notifications are waiting.
func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
