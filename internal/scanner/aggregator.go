// Package scanner reconstructs barcode scans from keyboard-wedge keystrokes.
package scanner

import (
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

// DefaultDebounce is the gap after which a partial scan is discarded.
const DefaultDebounce = 50 * time.Millisecond

// KeyEnter is the key name scanners send to terminate a code.
const KeyEnter = "Enter"

// KeyEvent is one keystroke as seen by the focused window.
type KeyEvent struct {
	Key string `json:"key" validate:"required"`
	// Editable is set when focus is inside a text input, textarea or
	// content-editable element.
	Editable bool `json:"editable"`
}

// Timer is the subset of *time.Timer the aggregator needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Aggregator buffers fast keystrokes and emits a barcode on Enter. A gap
// longer than the debounce window discards the buffer.
type Aggregator struct {
	mu        sync.Mutex
	buf       strings.Builder
	timer     Timer
	gen       uint64
	closed    bool
	debounce  time.Duration
	afterFunc AfterFunc
	onScan    func(string)
}

// Option customises an Aggregator.
type Option func(*Aggregator)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.debounce = d
		}
	}
}

// WithAfterFunc swaps the timer source, mainly for tests.
func WithAfterFunc(fn AfterFunc) Option {
	return func(a *Aggregator) {
		if fn != nil {
			a.afterFunc = fn
		}
	}
}

// NewAggregator returns an aggregator delivering completed codes to onScan.
// onScan runs on the caller's goroutine of HandleKey.
func NewAggregator(onScan func(string), opts ...Option) *Aggregator {
	a := &Aggregator{
		debounce:  DefaultDebounce,
		afterFunc: realAfterFunc,
		onScan:    onScan,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HandleKey feeds one keystroke into the state machine.
func (a *Aggregator) HandleKey(ev KeyEvent) {
	if ev.Editable {
		return
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	if ev.Key == KeyEnter {
		code := a.buf.String()
		a.resetLocked()
		a.mu.Unlock()
		if code != "" && a.onScan != nil {
			a.onScan(code)
		}
		return
	}
	if !printable(ev.Key) {
		a.mu.Unlock()
		return
	}
	a.buf.WriteString(ev.Key)
	a.restartTimerLocked()
	a.mu.Unlock()
}

// Pending returns the buffered characters that have not been emitted yet.
func (a *Aggregator) Pending() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.String()
}

// Close stops the debounce timer and ignores further input.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.resetLocked()
}

func (a *Aggregator) restartTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.gen++
	gen := a.gen
	a.timer = a.afterFunc(a.debounce, func() { a.expire(gen) })
}

func (a *Aggregator) expire(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	// a newer keystroke already restarted the window
	if gen != a.gen {
		return
	}
	a.buf.Reset()
	a.timer = nil
}

func (a *Aggregator) resetLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.gen++
	a.buf.Reset()
}

func printable(key string) bool {
	if utf8.RuneCountInString(key) != 1 {
		return false
	}
	r, _ := utf8.DecodeRuneInString(key)
	return unicode.IsPrint(r)
}
