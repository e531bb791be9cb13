package scanner

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTimer struct {
	fn      func()
	stopped bool
}

func (f *fakeTimer) Stop() bool {
	was := !f.stopped
	f.stopped = true
	return was
}

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (f *fakeTimers) AfterFunc(_ time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{fn: fn}
	f.timers = append(f.timers, t)
	return t
}

// fireAll runs every timer that has not been stopped.
func (f *fakeTimers) fireAll() {
	f.mu.Lock()
	pending := append([]*fakeTimer(nil), f.timers...)
	f.mu.Unlock()
	for _, t := range pending {
		if !t.stopped {
			t.stopped = true
			t.fn()
		}
	}
}

func (f *fakeTimers) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

func typeString(a *Aggregator, s string) {
	for _, r := range s {
		a.HandleKey(KeyEvent{Key: string(r)})
	}
}

func TestAggregatorEmitsOnEnter(t *testing.T) {
	timers := &fakeTimers{}
	var got []string
	a := NewAggregator(func(code string) { got = append(got, code) }, WithAfterFunc(timers.AfterFunc))

	typeString(a, "8991234567890")
	a.HandleKey(KeyEvent{Key: KeyEnter})

	require.Equal(t, []string{"8991234567890"}, got)
	require.Empty(t, a.Pending())
	require.Zero(t, timers.active())
}

func TestAggregatorIgnoresEmptyEnter(t *testing.T) {
	calls := 0
	a := NewAggregator(func(string) { calls++ }, WithAfterFunc((&fakeTimers{}).AfterFunc))
	a.HandleKey(KeyEvent{Key: KeyEnter})
	require.Zero(t, calls)
}

func TestAggregatorIgnoresEditableFocus(t *testing.T) {
	var got []string
	a := NewAggregator(func(code string) { got = append(got, code) }, WithAfterFunc((&fakeTimers{}).AfterFunc))

	for _, r := range "abc" {
		a.HandleKey(KeyEvent{Key: string(r), Editable: true})
	}
	a.HandleKey(KeyEvent{Key: KeyEnter, Editable: true})
	require.Empty(t, got)
	require.Empty(t, a.Pending())
}

func TestAggregatorDiscardsAfterDebounce(t *testing.T) {
	timers := &fakeTimers{}
	var got []string
	a := NewAggregator(func(code string) { got = append(got, code) }, WithAfterFunc(timers.AfterFunc))

	typeString(a, "12")
	timers.fireAll()
	require.Empty(t, a.Pending())

	typeString(a, "34")
	a.HandleKey(KeyEvent{Key: KeyEnter})
	require.Equal(t, []string{"34"}, got)
}

func TestAggregatorSkipsNamedKeys(t *testing.T) {
	var got []string
	a := NewAggregator(func(code string) { got = append(got, code) }, WithAfterFunc((&fakeTimers{}).AfterFunc))

	a.HandleKey(KeyEvent{Key: "Shift"})
	typeString(a, "A1")
	a.HandleKey(KeyEvent{Key: "Tab"})
	a.HandleKey(KeyEvent{Key: KeyEnter})
	require.Equal(t, []string{"A1"}, got)
}

func TestAggregatorRestartsTimerPerKey(t *testing.T) {
	timers := &fakeTimers{}
	a := NewAggregator(func(string) {}, WithAfterFunc(timers.AfterFunc))
	typeString(a, "123")
	require.Equal(t, 1, timers.active())
	a.Close()
	require.Zero(t, timers.active())

	a.HandleKey(KeyEvent{Key: "4"})
	require.Empty(t, a.Pending())
}

func TestAggregatorRealTimerDiscards(t *testing.T) {
	var mu sync.Mutex
	var got []string
	a := NewAggregator(func(code string) {
		mu.Lock()
		got = append(got, code)
		mu.Unlock()
	}, WithDebounce(5*time.Millisecond))
	defer a.Close()

	typeString(a, "99")
	require.Eventually(t, func() bool { return a.Pending() == "" }, time.Second, 2*time.Millisecond)
	a.HandleKey(KeyEvent{Key: KeyEnter})

	mu.Lock()
	defer mu.Unlock()
	require.Empty(t, got)
}

func TestKeyboardSubscribeAndUnsubscribe(t *testing.T) {
	timers := &fakeTimers{}
	kb := NewKeyboard(DefaultDebounce, WithAfterFunc(timers.AfterFunc))

	var first, second []string
	unsubFirst := kb.Subscribe(func(code string) { first = append(first, code) })
	unsubSecond := kb.Subscribe(func(code string) { second = append(second, code) })
	require.Equal(t, 2, kb.Subscribers())

	for _, r := range "555" {
		kb.Dispatch(KeyEvent{Key: string(r)})
	}
	kb.Dispatch(KeyEvent{Key: KeyEnter})
	require.Equal(t, []string{"555"}, first)
	require.Equal(t, []string{"555"}, second)

	kb.Dispatch(KeyEvent{Key: "7"})
	unsubFirst()
	unsubFirst()
	require.Equal(t, 1, kb.Subscribers())
	kb.Dispatch(KeyEvent{Key: KeyEnter})
	require.Equal(t, []string{"555"}, first)
	require.Equal(t, []string{"555", "7"}, second)

	unsubSecond()
	require.Zero(t, kb.Subscribers())
	require.Zero(t, timers.active())
}
