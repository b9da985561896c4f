package searchkit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/letmevibethatforyou/searchkit/clock"
)

const tracerName = "github.com/letmevibethatforyou/searchkit"

// Option configures a QueryClient (and, through NewProvider, every client a
// provider builds).
type Option func(*clientOptions)

type clientOptions struct {
	ttl            time.Duration
	maxEntries     int
	transport      Transport
	clock          clock.Clock
	logger         *slog.Logger
	registerer     prometheus.Registerer
	tracerProvider trace.TracerProvider
	secondary      SecondaryCache
}

func defaultClientOptions() clientOptions {
	return clientOptions{
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		clock:      clock.System(),
	}
}

// WithTTL sets the freshness window of cached results. Zero disables caching.
func WithTTL(ttl time.Duration) Option {
	return func(o *clientOptions) {
		o.ttl = ttl
	}
}

// WithMaxEntries bounds the local cache.
func WithMaxEntries(n int) Option {
	return func(o *clientOptions) {
		o.maxEntries = n
	}
}

// WithTransport replaces the default HTTPTransport.
func WithTransport(t Transport) Option {
	return func(o *clientOptions) {
		o.transport = t
	}
}

// WithClock sets the clock used for cache timestamps and controller timers.
func WithClock(c clock.Clock) Option {
	return func(o *clientOptions) {
		o.clock = c
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = l
	}
}

// WithPrometheus registers client metrics with reg.
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(o *clientOptions) {
		o.registerer = reg
	}
}

// WithTracerProvider sets the tracer provider. The global provider is used
// otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *clientOptions) {
		o.tracerProvider = tp
	}
}

// WithSecondaryCache adds a shared cache consulted between the local cache
// and the network.
func WithSecondaryCache(c SecondaryCache) Option {
	return func(o *clientOptions) {
		o.secondary = c
	}
}

// Stats is a point-in-time snapshot of client counters.
type Stats struct {
	Hits         int
	Misses       int
	Joined       int
	Rejected     int
	Requests     int
	Canceled     int
	CacheEntries int
	InFlight     int
}

// call is one network request shared by every waiter on its fingerprint.
type call struct {
	fp      Fingerprint
	cancel  context.CancelFunc
	waiters map[*Future]struct{}
	// discard is set when the call was canceled or invalidated in flight; its
	// result is delivered to remaining waiters but never cached.
	discard bool
}

// QueryClient issues, deduplicates, caches and cancels search requests for
// one session. It is safe for concurrent use.
type QueryClient struct {
	cfg       SessionConfig
	configErr error

	transport Transport
	clock     clock.Clock
	obs       *observer
	tracer    trace.Tracer
	secondary SecondaryCache

	baseCtx context.Context
	stop    context.CancelFunc

	mu             sync.Mutex
	cache          *resultCache
	inFlight       map[Fingerprint]*call
	invalidated    map[Fingerprint]time.Time
	invalidatedAll time.Time
	closed         bool
	stats          Stats
}

// NewQueryClient returns a client for cfg. A zero cfg yields a client that
// fails every submit with ErrConfig.
func NewQueryClient(cfg SessionConfig, opts ...Option) *QueryClient {
	var err error
	if cfg.IsZero() {
		err = configError("searchkit: session is not configured")
	}
	return newQueryClient(cfg, err, opts...)
}

// newUnconfiguredClient returns a client whose every submit fails with err.
func newUnconfiguredClient(err error, opts ...Option) *QueryClient {
	return newQueryClient(SessionConfig{}, err, opts...)
}

func newQueryClient(cfg SessionConfig, configErr error, opts ...Option) *QueryClient {
	o := defaultClientOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.transport == nil {
		o.transport = NewHTTPTransport()
	}
	if o.clock == nil {
		o.clock = clock.System()
	}
	tp := o.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	baseCtx, stop := context.WithCancel(context.Background())
	return &QueryClient{
		cfg:         cfg,
		configErr:   configErr,
		transport:   o.transport,
		clock:       o.clock,
		obs:         newObserver(o.logger, o.registerer),
		tracer:      tp.Tracer(tracerName),
		secondary:   o.secondary,
		baseCtx:     baseCtx,
		stop:        stop,
		cache:       newResultCache(o.ttl, o.maxEntries),
		inFlight:    make(map[Fingerprint]*call),
		invalidated: make(map[Fingerprint]time.Time),
	}
}

// Config returns the session config the client was built with.
func (c *QueryClient) Config() SessionConfig {
	return c.cfg
}

// Err returns the configuration error of an unconfigured client.
func (c *QueryClient) Err() error {
	return c.configErr
}

// Clock returns the client's clock.
func (c *QueryClient) Clock() clock.Clock {
	return c.clock
}

// Submit returns a future for the query identified by fp. A fresh cache entry
// resolves it immediately; a request already in flight for fp is joined;
// otherwise a new request is started. Canceling ctx detaches this waiter.
func (c *QueryClient) Submit(ctx context.Context, fp Fingerprint, params QueryParams) *Future {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.configErr != nil {
		c.stats.Rejected++
		c.obs.lookup(lookupRejected, fp)
		return resolvedFuture(fp, ResultProjection{}, c.configErr)
	}
	if c.closed {
		return resolvedFuture(fp, ResultProjection{}, canceledError("searchkit: client closed"))
	}
	if ctx.Err() != nil {
		return resolvedFuture(fp, ResultProjection{}, errors.Mark(errors.Wrap(ctx.Err(), "searchkit: submit canceled"), ErrCanceled))
	}

	if entry, ok := c.cache.get(fp, c.clock.Now()); ok {
		c.stats.Hits++
		c.obs.lookup(lookupHit, fp)
		return resolvedFuture(fp, entry.projection, nil)
	}

	f := newFuture(c, fp)
	cl, ok := c.inFlight[fp]
	if ok {
		c.stats.Joined++
		c.obs.lookup(lookupJoined, fp)
	} else {
		callCtx, cancel := context.WithCancel(c.baseCtx)
		cl = &call{fp: fp, cancel: cancel, waiters: make(map[*Future]struct{})}
		c.inFlight[fp] = cl
		c.stats.Misses++
		c.obs.lookup(lookupMiss, fp)
		go c.run(callCtx, cl, params.normalized())
	}
	cl.waiters[f] = struct{}{}
	f.call = cl
	f.stopWatch = context.AfterFunc(ctx, f.Cancel)
	return f
}

// Search fingerprints params, submits them and waits for the outcome.
func (c *QueryClient) Search(ctx context.Context, params QueryParams) (ResultProjection, error) {
	params = params.normalized()
	return c.Submit(ctx, NewFingerprint(params), params).Wait(ctx)
}

// Cancel aborts the request in flight for fp, resolving every waiter with
// ErrCanceled. It is a no-op when nothing is in flight.
func (c *QueryClient) Cancel(fp Fingerprint) {
	c.mu.Lock()
	cl, ok := c.inFlight[fp]
	if !ok {
		c.mu.Unlock()
		return
	}
	waiters := c.abortLocked(cl)
	c.mu.Unlock()

	err := canceledError("searchkit: request canceled")
	for f := range waiters {
		f.resolve(ResultProjection{}, err)
	}
}

// Invalidate drops the cache entries for fps, or every entry when called
// without arguments. Requests in flight for those fingerprints still resolve
// their waiters but are not cached.
func (c *QueryClient) Invalidate(fps ...Fingerprint) {
	c.mu.Lock()
	now := c.clock.Now()
	if len(fps) == 0 {
		c.cache.purge()
		c.invalidatedAll = now
		clear(c.invalidated)
		for _, cl := range c.inFlight {
			cl.discard = true
		}
		c.mu.Unlock()
		c.obs.logger.Debug("search cache invalidated")
		return
	}

	for fp, at := range c.invalidated {
		if !c.cache.fresh(at, now) {
			delete(c.invalidated, fp)
		}
	}
	for _, fp := range fps {
		c.cache.remove(fp)
		c.invalidated[fp] = now
		if cl, ok := c.inFlight[fp]; ok {
			cl.discard = true
		}
	}
	secondary := c.secondary
	c.mu.Unlock()

	if secondary != nil {
		go func() {
			for _, fp := range fps {
				if err := secondary.Delete(c.baseCtx, fp); err != nil {
					c.obs.logger.Warn("secondary cache delete failed", "fingerprint", fp.Short(), "error", err)
				}
			}
		}()
	}
}

// Close cancels every request in flight and makes later submits resolve with
// ErrCanceled. It is idempotent.
func (c *QueryClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	var waiters []*Future
	for _, cl := range c.inFlight {
		for f := range c.abortLocked(cl) {
			waiters = append(waiters, f)
		}
	}
	c.cache.purge()
	c.mu.Unlock()

	c.stop()
	err := canceledError("searchkit: client closed")
	for _, f := range waiters {
		f.resolve(ResultProjection{}, err)
	}
}

// Stats returns a snapshot of the client counters.
func (c *QueryClient) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.CacheEntries = c.cache.len()
	s.InFlight = len(c.inFlight)
	return s
}

// abortLocked removes cl from the in-flight table, cancels its context and
// returns the waiters it had.
func (c *QueryClient) abortLocked(cl *call) map[*Future]struct{} {
	if c.inFlight[cl.fp] == cl {
		delete(c.inFlight, cl.fp)
	}
	cl.discard = true
	cl.cancel()
	waiters := cl.waiters
	cl.waiters = nil
	c.stats.Canceled += len(waiters)
	return waiters
}

// detach removes f from its call; the last waiter to leave aborts the call.
func (c *QueryClient) detach(f *Future) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl := f.call
	if cl == nil || cl.waiters == nil {
		return
	}
	if _, ok := cl.waiters[f]; !ok {
		return
	}
	delete(cl.waiters, f)
	c.stats.Canceled++
	if len(cl.waiters) == 0 {
		if c.inFlight[cl.fp] == cl {
			delete(c.inFlight, cl.fp)
		}
		cl.discard = true
		cl.cancel()
		cl.waiters = nil
	}
}

// run performs the request for cl and resolves its waiters.
func (c *QueryClient) run(ctx context.Context, cl *call, params QueryParams) {
	defer cl.cancel()

	projection, storedAt, fromSecondary, err := c.fetch(ctx, cl.fp, params)

	c.mu.Lock()
	if c.inFlight[cl.fp] == cl {
		delete(c.inFlight, cl.fp)
	}
	waiters := cl.waiters
	cl.waiters = nil
	cacheable := err == nil && !cl.discard && !c.closed
	if cacheable {
		c.cache.put(cl.fp, projection, storedAt)
	}
	secondary := c.secondary
	c.mu.Unlock()

	for f := range waiters {
		f.resolve(projection, err)
	}

	if cacheable && secondary != nil && !fromSecondary {
		if err := secondary.Put(c.baseCtx, cl.fp, projection, storedAt); err != nil {
			c.obs.logger.Warn("secondary cache write failed", "fingerprint", cl.fp.Short(), "error", err)
		}
	}
}

// fetch consults the secondary cache, then the transport.
func (c *QueryClient) fetch(ctx context.Context, fp Fingerprint, params QueryParams) (ResultProjection, time.Time, bool, error) {
	if c.secondary != nil {
		projection, storedAt, ok, err := c.secondary.Get(ctx, fp)
		switch {
		case err != nil:
			c.obs.logger.Warn("secondary cache read failed", "fingerprint", fp.Short(), "error", err)
		case ok && c.usableSecondary(fp, storedAt):
			c.obs.logger.Debug("secondary cache hit", "fingerprint", fp.Short())
			return projection, storedAt, true, nil
		}
	}

	ctx, span := c.tracer.Start(ctx, "searchkit.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("searchkit.fingerprint", fp.Short()),
			attribute.Int("searchkit.limit", params.Limit),
			attribute.Bool("searchkit.paged", params.Cursor != ""),
			attribute.String("server.address", c.cfg.Host()),
		),
	)
	defer span.End()

	c.mu.Lock()
	c.stats.Requests++
	c.mu.Unlock()

	start := time.Now()
	projection, err := c.roundTrip(ctx, params)
	c.obs.request(fp, start, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, CodeOf(err).String())
		return ResultProjection{}, time.Time{}, false, err
	}
	span.SetAttributes(
		attribute.Int("searchkit.items", len(projection.Items)),
		attribute.Int64("searchkit.total", projection.Total),
	)
	return projection, c.clock.Now(), false, nil
}

func (c *QueryClient) roundTrip(ctx context.Context, params QueryParams) (ResultProjection, error) {
	raw, err := c.transport.Search(ctx, c.cfg, params)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrCanceled) {
			err = errors.Mark(errors.Wrap(err, "searchkit: request canceled"), ErrCanceled)
		}
		return ResultProjection{}, err
	}
	if ctx.Err() != nil {
		return ResultProjection{}, canceledError("searchkit: request canceled")
	}
	return Project(raw)
}

// usableSecondary reports whether an entry stored at storedAt is fresh and
// newer than any invalidation covering fp.
func (c *QueryClient) usableSecondary(fp Fingerprint, storedAt time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cache.fresh(storedAt, c.clock.Now()) {
		return false
	}
	if !c.invalidatedAll.IsZero() && !storedAt.After(c.invalidatedAll) {
		return false
	}
	if at, ok := c.invalidated[fp]; ok && !storedAt.After(at) {
		return false
	}
	return true
}
