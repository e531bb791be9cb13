package qris

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/kasir-pos/internal/obs"
)

// DefaultPollInterval is the gap between status checks.
const DefaultPollInterval = 3 * time.Second

// ErrPollerStopped is returned by commands sent after Run has returned.
var ErrPollerStopped = errors.New("qris poller stopped")

// Ticker is the subset of *time.Ticker the poller needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.Ticker.C }

func newRealTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

// Event is published to subscribers on every state change.
type Event struct {
	Snapshot
	Effect Effect
}

// PollerConfig wires a Poller.
type PollerConfig struct {
	Checker      StatusChecker
	Interval     time.Duration
	CheckTimeout time.Duration
	WarnAfter    int
	Logger       zerolog.Logger
	// OnSuccess and OnExpired run on their own goroutine and may call back
	// into the Poller.
	OnSuccess func(orderID string)
	OnExpired func(orderID string)
	NewTicker func(time.Duration) Ticker
}

type commandKind int

const (
	cmdAssign commandKind = iota
	cmdEnable
	cmdRefresh
)

type command struct {
	kind    commandKind
	orderID string
	enabled bool
}

type checkResult struct {
	gen     uint64
	orderID string
	resp    StatusResponse
	err     error
}

// Poller is a task that owns a Machine and polls the provider while a
// pending order is assigned and polling is enabled. All state changes happen
// on the goroutine running Run; other goroutines talk to it via commands and
// observe it through Snapshot and Subscribe.
type Poller struct {
	cfg     PollerConfig
	machine *Machine
	cmds    chan command
	results chan checkResult
	done    chan struct{}
	wg      sync.WaitGroup

	snapMu sync.RWMutex
	snap   Snapshot

	subMu sync.Mutex
	subID int
	subs  map[int]chan Event

	runMu   sync.Mutex
	running bool
}

// NewPoller validates the config and returns an idle poller. Call Run to start it.
func NewPoller(cfg PollerConfig) (*Poller, error) {
	if cfg.Checker == nil {
		return nil, errors.New("qris poller requires a status checker")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 15 * time.Second
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = newRealTicker
	}
	m := NewMachine(cfg.WarnAfter)
	return &Poller{
		cfg:     cfg,
		machine: m,
		cmds:    make(chan command),
		results: make(chan checkResult, 1),
		done:    make(chan struct{}),
		snap:    m.Snapshot(),
		subs:    make(map[int]chan Event),
	}, nil
}

// SetOrder assigns the order to poll. An empty id resets to idle.
func (p *Poller) SetOrder(ctx context.Context, orderID string) error {
	return p.send(ctx, command{kind: cmdAssign, orderID: orderID})
}

// SetEnabled turns polling on or off without touching the assigned order.
func (p *Poller) SetEnabled(ctx context.Context, enabled bool) error {
	return p.send(ctx, command{kind: cmdEnable, enabled: enabled})
}

// Refresh requests an immediate status check.
func (p *Poller) Refresh(ctx context.Context) error {
	return p.send(ctx, command{kind: cmdRefresh})
}

// Snapshot returns the latest published state.
func (p *Poller) Snapshot() Snapshot {
	p.snapMu.RLock()
	defer p.snapMu.RUnlock()
	return p.snap
}

// Subscribe returns a channel of state changes. Slow subscribers miss events
// rather than stalling the poller. Call cancel to detach.
func (p *Poller) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	p.subMu.Lock()
	id := p.subID
	p.subID++
	p.subs[id] = ch
	p.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.subMu.Lock()
			delete(p.subs, id)
			p.subMu.Unlock()
		})
	}
}

// Done is closed once Run has returned.
func (p *Poller) Done() <-chan struct{} { return p.done }

// Run drives the poller until ctx is cancelled. It may only be called once.
func (p *Poller) Run(ctx context.Context) error {
	p.runMu.Lock()
	if p.running {
		p.runMu.Unlock()
		return errors.New("qris poller already running")
	}
	p.running = true
	p.runMu.Unlock()

	defer p.wg.Wait()
	defer close(p.done)

	var (
		ticker      Ticker
		tickC       <-chan time.Time
		enabled     bool
		gen         uint64
		inFlight    bool
		inFlightGen uint64
	)
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tickC = nil, nil
		}
	}
	defer stopTicker()

	dispatch := func() {
		snap := p.machine.Snapshot()
		if !enabled || snap.OrderID == "" || inFlight {
			return
		}
		inFlight, inFlightGen = true, gen
		p.wg.Add(1)
		go p.check(ctx, gen, snap.OrderID)
	}
	reconcile := func() {
		snap := p.machine.Snapshot()
		active := enabled && snap.OrderID != "" && !snap.Status.Terminal()
		if !active {
			stopTicker()
			return
		}
		if ticker == nil {
			ticker = p.cfg.NewTicker(p.cfg.Interval)
			tickC = ticker.C()
			dispatch()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-p.cmds:
			switch cmd.kind {
			case cmdAssign:
				if cmd.orderID != p.machine.Snapshot().OrderID || cmd.orderID == "" {
					gen++
					inFlight = false
					stopTicker()
				}
				p.machine.Assign(cmd.orderID)
				p.publish(EffectNone)
			case cmdEnable:
				enabled = cmd.enabled
			case cmdRefresh:
				dispatch()
			}
			reconcile()
		case <-tickC:
			dispatch()
		case res := <-p.results:
			if res.gen == inFlightGen {
				inFlight = false
			}
			if res.gen != gen {
				continue
			}
			effect := EffectNone
			if res.err != nil {
				p.machine.Fail()
				snap := p.machine.Snapshot()
				p.cfg.Logger.Warn().Err(res.err).
					Str("order_id", res.orderID).
					Int("error_count", snap.ErrorCount).
					Bool("connectivity_warning", snap.Warning).
					Msg("qris status check failed")
			} else {
				effect = p.machine.Observe(res.resp)
			}
			p.publish(effect)
			p.notify(effect, res.orderID)
			reconcile()
		}
	}
}

func (p *Poller) send(ctx context.Context, cmd command) error {
	select {
	case p.cmds <- cmd:
		return nil
	case <-p.done:
		return ErrPollerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) check(ctx context.Context, gen uint64, orderID string) {
	defer p.wg.Done()
	res := checkResult{gen: gen, orderID: orderID}
	res.resp, res.err = p.checkOnce(ctx, orderID)
	select {
	case p.results <- res:
	case <-p.done:
	}
}

func (p *Poller) checkOnce(ctx context.Context, orderID string) (resp StatusResponse, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CheckTimeout)
	defer cancel()
	ctx, span := otel.Tracer("qris.Poller").Start(ctx, "QrisPoller.Check")
	span.SetAttributes(attribute.String("qris.order_id", orderID))
	result := "error"
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("qris status check panicked: %v", r)
		}
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		obs.CountQrisPoll(result)
		span.End()
	}()

	resp, err = p.cfg.Checker.CheckQrisStatus(ctx, orderID)
	if err == nil {
		result = NormalizeProviderStatus(resp.Status)
		if result == "" {
			result = "unknown"
		}
	}
	return resp, err
}

func (p *Poller) publish(effect Effect) {
	snap := p.machine.Snapshot()
	p.snapMu.Lock()
	p.snap = snap
	p.snapMu.Unlock()

	evt := Event{Snapshot: snap, Effect: effect}
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (p *Poller) notify(effect Effect, orderID string) {
	var fn func(string)
	switch effect {
	case EffectSuccess:
		fn = p.cfg.OnSuccess
		p.cfg.Logger.Info().Str("order_id", orderID).Msg("qris payment settled")
	case EffectExpired:
		fn = p.cfg.OnExpired
		p.cfg.Logger.Info().Str("order_id", orderID).Msg("qris payment expired")
	}
	if fn == nil {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn(orderID)
	}()
}
