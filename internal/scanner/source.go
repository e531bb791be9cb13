package scanner

import (
	"sync"
	"time"
)

// BarcodeSource is an input device that reports completed barcodes.
type BarcodeSource interface {
	Subscribe(onScan func(barcode string)) (unsubscribe func())
}

// Keyboard is a BarcodeSource fed with raw keystrokes forwarded from the UI.
// Every subscriber gets its own Aggregator.
type Keyboard struct {
	mu       sync.Mutex
	nextID   int
	subs     map[int]*Aggregator
	debounce time.Duration
	opts     []Option
}

// NewKeyboard returns a keyboard source using the given debounce window.
func NewKeyboard(debounce time.Duration, opts ...Option) *Keyboard {
	return &Keyboard{
		subs:     make(map[int]*Aggregator),
		debounce: debounce,
		opts:     opts,
	}
}

// Subscribe registers onScan. The returned func detaches it and stops its timer.
func (k *Keyboard) Subscribe(onScan func(string)) func() {
	opts := append([]Option{WithDebounce(k.debounce)}, k.opts...)
	agg := NewAggregator(onScan, opts...)

	k.mu.Lock()
	id := k.nextID
	k.nextID++
	k.subs[id] = agg
	k.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			delete(k.subs, id)
			k.mu.Unlock()
			agg.Close()
		})
	}
}

// Dispatch delivers a keystroke to every subscriber.
func (k *Keyboard) Dispatch(ev KeyEvent) {
	k.mu.Lock()
	aggs := make([]*Aggregator, 0, len(k.subs))
	for _, agg := range k.subs {
		aggs = append(aggs, agg)
	}
	k.mu.Unlock()
	for _, agg := range aggs {
		agg.HandleKey(ev)
	}
}

// Subscribers reports how many listeners are attached.
func (k *Keyboard) Subscribers() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.subs)
}
