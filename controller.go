package searchkit

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/letmevibethatforyou/searchkit/clock"
)

// DefaultDebounce is how long input must stay unchanged before a query is
// submitted.
const DefaultDebounce = 250 * time.Millisecond

// ControllerOption configures a Controller.
type ControllerOption func(*controllerOptions)

type controllerOptions struct {
	debounce  time.Duration
	base      []SearchOption
	listeners []func(SearchState)
	clock     clock.Clock
}

// WithDebounce sets the debounce interval.
func WithDebounce(d time.Duration) ControllerOption {
	return func(o *controllerOptions) {
		o.debounce = d
	}
}

// WithBaseQuery applies opts (filters, limit, sort) to every query the
// controller submits.
func WithBaseQuery(opts ...SearchOption) ControllerOption {
	return func(o *controllerOptions) {
		o.base = append(o.base, opts...)
	}
}

// WithStateListener registers fn as if passed to Subscribe.
func WithStateListener(fn func(SearchState)) ControllerOption {
	return func(o *controllerOptions) {
		o.listeners = append(o.listeners, fn)
	}
}

// WithControllerClock overrides the provider's clock for debounce timers.
func WithControllerClock(c clock.Clock) ControllerOption {
	return func(o *controllerOptions) {
		o.clock = c
	}
}

// Controller drives one search box: it debounces input, submits queries
// through the session's client, cancels superseded ones and publishes
// SearchState snapshots.
//
// Listeners run one at a time and in Version order, on the goroutine that
// produced the change or on one already delivering. A listener may call
// Controller methods; the snapshots that produces are delivered after it
// returns.
type Controller struct {
	id       string
	provider *Provider
	debounce time.Duration
	base     []SearchOption
	clock    clock.Clock
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        SearchState
	client       *QueryClient
	timer        clock.Timer
	pending      *Future
	closed       bool
	listeners    map[int]func(SearchState)
	nextListener int

	notifyMu  sync.Mutex
	queue     []delivery
	draining  bool
	delivered uint64
	silenced  bool
}

type delivery struct {
	snapshot  SearchState
	listeners []func(SearchState)
}

// NewController mounts a controller on the provider bound to ctx. It fails
// with ErrNoSession when no provider is bound.
func NewController(ctx context.Context, opts ...ControllerOption) (*Controller, error) {
	p, err := FromContext(ctx)
	if err != nil {
		return nil, err
	}

	o := controllerOptions{debounce: DefaultDebounce, clock: p.clock}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.System()
	}

	c := &Controller{
		id:        ksuid.New().String(),
		provider:  p,
		debounce:  o.debounce,
		base:      o.base,
		clock:     o.clock,
		listeners: make(map[int]func(SearchState)),
	}
	c.logger = p.logger.With("controller", c.id)
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for _, fn := range o.listeners {
		c.listeners[c.nextListener] = fn
		c.nextListener++
	}
	c.client = p.attach(c)
	return c, nil
}

// ID returns the controller's unique id.
func (c *Controller) ID() string {
	return c.id
}

// State returns the current snapshot.
func (c *Controller) State() SearchState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetInput records new input and restarts the debounce cycle. Blank input
// returns the controller to idle.
func (c *Controller) SetInput(text string) {
	c.dispatch(func(SearchState) Event {
		return InputChanged{Text: text}
	})
}

// NextPage requests the page after the current result, bypassing debounce.
// It reports false when there is no further page.
func (c *Controller) NextPage() bool {
	var accepted bool
	c.dispatch(func(s SearchState) Event {
		if s.Status != StatusSuccess || s.Result == nil || !s.Result.HasMore() {
			return nil
		}
		params := c.params(s.RawInput, s.Result.Cursor)
		accepted = true
		return PageRequested{Cursor: s.Result.Cursor, Fingerprint: NewFingerprint(params)}
	})
	return accepted
}

// Retry re-submits the query that failed. It reports false when the
// controller is not in the error state or the error is not recoverable.
func (c *Controller) Retry() bool {
	var accepted bool
	c.dispatch(func(s SearchState) Event {
		if s.Status != StatusError || !retryAllowed(s.Err) {
			return nil
		}
		params := c.params(s.RawInput, s.Cursor)
		accepted = true
		return RetryRequested{Fingerprint: NewFingerprint(params)}
	})
	return accepted
}

// Subscribe registers fn for state changes and returns a function removing it.
func (c *Controller) Subscribe(fn func(SearchState)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Close unmounts the controller: the debounce timer is stopped, the pending
// query is canceled and no listener is invoked after Close returns. A listener
// already running when Close is called is allowed to finish.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopTimerLocked()
	if c.pending != nil {
		c.pending.Cancel()
		c.pending = nil
	}
	c.mu.Unlock()

	c.cancel()
	c.provider.detach(c)

	c.notifyMu.Lock()
	c.silenced = true
	c.queue = nil
	c.notifyMu.Unlock()
	c.logger.Debug("search controller closed")
}

// reset moves the controller onto client after a session change.
func (c *Controller) reset(client *QueryClient) {
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	c.dispatch(func(SearchState) Event {
		return Reset{}
	})
}

// dispatch runs build under the lock, applies the resulting event and
// publishes the new state. A nil event is ignored.
func (c *Controller) dispatch(build func(SearchState) Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	ev := build(c.state)
	if ev == nil {
		c.mu.Unlock()
		return
	}
	next, fx := Transition(c.state, ev)
	changed := next.Version != c.state.Version
	c.state = next
	c.applyLocked(fx)
	snapshot := c.state
	listeners := c.listenersLocked()
	c.mu.Unlock()

	if changed {
		c.notify(snapshot, listeners)
	}
}

func (c *Controller) applyLocked(fx Effects) {
	if fx.StopTimer || fx.StartTimer {
		c.stopTimerLocked()
	}
	if fx.CancelPending && c.pending != nil {
		c.pending.Cancel()
		c.pending = nil
	}
	if fx.StartTimer {
		gen := c.state.Generation
		c.timer = c.clock.AfterFunc(c.debounce, func() {
			c.fire(gen)
		})
	}
	if sub := fx.Submit; sub != nil {
		if c.pending != nil {
			c.pending.Cancel()
		}
		params := c.params(sub.Text, sub.Cursor)
		f := c.client.Submit(c.ctx, sub.Fingerprint, params)
		c.pending = f
		c.logger.Debug("search submitted",
			"fingerprint", sub.Fingerprint.Short(),
			"generation", sub.Generation,
			"paged", sub.Cursor != "",
		)
		go c.await(f, sub.Generation)
	}
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// fire is the debounce timer callback.
func (c *Controller) fire(gen uint64) {
	c.dispatch(func(s SearchState) Event {
		if gen != s.Generation {
			return nil
		}
		c.timer = nil
		return DebounceFired{Generation: gen, Fingerprint: NewFingerprint(c.params(s.RawInput, ""))}
	})
}

// await delivers the outcome of f tagged with the generation it was
// submitted under; Transition drops it if the generation moved on.
func (c *Controller) await(f *Future, gen uint64) {
	projection, err := f.Result()
	c.dispatch(func(SearchState) Event {
		if c.pending == f {
			c.pending = nil
		}
		if err != nil {
			return Failed{Generation: gen, Err: err}
		}
		return Resolved{Generation: gen, Projection: projection}
	})
}

func (c *Controller) params(text, cursor string) QueryParams {
	opts := make([]SearchOption, 0, len(c.base)+1)
	opts = append(opts, c.base...)
	if cursor != "" {
		opts = append(opts, WithCursor(cursor))
	}
	return NewQueryParams(text, opts...)
}

func (c *Controller) listenersLocked() []func(SearchState) {
	if len(c.listeners) == 0 {
		return nil
	}
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(SearchState), 0, len(ids))
	for _, id := range ids {
		out = append(out, c.listeners[id])
	}
	return out
}

// notify queues snapshot for delivery. The first caller drains the queue
// outside notifyMu, so listeners can re-enter the controller; snapshots older
// than one already delivered are dropped.
func (c *Controller) notify(snapshot SearchState, listeners []func(SearchState)) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if c.silenced {
		return
	}
	c.queue = append(c.queue, delivery{snapshot: snapshot, listeners: listeners})
	if c.draining {
		return
	}

	c.draining = true
	defer func() { c.draining = false }()
	for len(c.queue) > 0 && !c.silenced {
		d := c.queue[0]
		c.queue = c.queue[1:]
		if d.snapshot.Version <= c.delivered {
			continue
		}
		c.delivered = d.snapshot.Version
		for _, fn := range d.listeners {
			if c.silenced {
				break
			}
			func() {
				c.notifyMu.Unlock()
				defer c.notifyMu.Lock()
				fn(d.snapshot)
			}()
		}
	}
}
