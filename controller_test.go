package searchkit_test

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letmevibethatforyou/searchkit"
	"github.com/letmevibethatforyou/searchkit/clock"
	"github.com/letmevibethatforyou/searchkit/internal/testservice"
)

const waitFor = 2 * time.Second

func newTestController(t *testing.T, p *searchkit.Provider, opts ...searchkit.ControllerOption) *searchkit.Controller {
	t.Helper()
	c, err := searchkit.NewController(p.Bind(context.Background()), opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func newFakeProvider(t *testing.T, ft *fakeTransport, opts ...searchkit.Option) (*searchkit.Provider, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(epoch)
	opts = append([]searchkit.Option{searchkit.WithTransport(ft), searchkit.WithClock(clk)}, opts...)
	p := searchkit.NewProvider("k1", "https://svc.example.com", opts...)
	require.NoError(t, p.Err())
	t.Cleanup(p.Close)
	return p, clk
}

func waitStatus(t *testing.T, c *searchkit.Controller, status searchkit.Status) searchkit.SearchState {
	t.Helper()
	require.Eventually(t, func() bool { return c.State().Status == status }, waitFor, time.Millisecond,
		"controller never reached %v", status)
	return c.State()
}

func TestController_ShoesScenario(t *testing.T) {
	svc := testservice.New("k1", func(req testservice.Request) testservice.Response {
		return testservice.Page(5, "c1", 42)
	})
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	clk := clock.NewManual(epoch)
	p := searchkit.NewProvider("k1", srv.URL, searchkit.WithClock(clk))
	defer p.Close()
	c := newTestController(t, p)

	c.SetInput("shoes")
	assert.Equal(t, searchkit.StatusDebouncing, c.State().Status)

	clk.Advance(249 * time.Millisecond)
	assert.Equal(t, 0, svc.Calls(), "nothing is sent before the debounce interval")

	clk.Advance(time.Millisecond)
	state := waitStatus(t, c, searchkit.StatusSuccess)

	require.Equal(t, 1, svc.Calls())
	req := svc.Requests()[0]
	assert.Equal(t, "shoes", req.Text)
	assert.Equal(t, "k1", req.APIKey)
	assert.NotEmpty(t, req.RequestID)

	require.NotNil(t, state.Result)
	assert.Len(t, state.Result.Items, 5)
	assert.Equal(t, "c1", state.Result.Cursor)
	assert.Equal(t, int64(42), state.Result.Total)
	assert.Empty(t, state.PendingFingerprint)
}

func TestController_DebounceCollapsesBursts(t *testing.T) {
	ft := &fakeTransport{}
	p, clk := newFakeProvider(t, ft)
	c := newTestController(t, p)

	c.SetInput("a")
	clk.Advance(100 * time.Millisecond)
	c.SetInput("ab")
	clk.Advance(100 * time.Millisecond)
	c.SetInput("abc")
	clk.Advance(250 * time.Millisecond)

	state := waitStatus(t, c, searchkit.StatusSuccess)
	assert.Equal(t, []string{"abc"}, ft.texts())
	assert.Equal(t, "abc-1", state.Result.Items[0].ID)
	assert.Equal(t, 0, clk.Pending())
}

func TestController_SharedFingerprintSharesCall(t *testing.T) {
	ft := &fakeTransport{}
	release := ft.hold()
	p, clk := newFakeProvider(t, ft)
	c1 := newTestController(t, p)
	c2 := newTestController(t, p)

	c1.SetInput("shoes")
	c2.SetInput("shoes")
	clk.Advance(250 * time.Millisecond)

	require.Eventually(t, func() bool {
		return c1.State().Status == searchkit.StatusLoading && c2.State().Status == searchkit.StatusLoading
	}, waitFor, time.Millisecond)
	release()

	s1 := waitStatus(t, c1, searchkit.StatusSuccess)
	s2 := waitStatus(t, c2, searchkit.StatusSuccess)
	assert.Equal(t, 1, ft.callCount())
	assert.Equal(t, s1.Result, s2.Result)
}

func TestController_NewInputCancelsPendingQuery(t *testing.T) {
	ft := &fakeTransport{}
	p, clk := newFakeProvider(t, ft)
	c := newTestController(t, p)

	// Block only the first query.
	release := ft.hold()
	defer release()
	c.SetInput("sho")
	clk.Advance(250 * time.Millisecond)
	waitStatus(t, c, searchkit.StatusLoading)
	require.Eventually(t, func() bool { return ft.callCount() == 1 }, waitFor, time.Millisecond)

	ft.mu.Lock()
	ft.gate = nil
	ft.mu.Unlock()

	c.SetInput("shoes")
	assert.Equal(t, 0, p.Client().Stats().InFlight, "superseded query was canceled in the client")
	assert.Equal(t, 1, p.Client().Stats().Canceled)

	clk.Advance(250 * time.Millisecond)
	state := waitStatus(t, c, searchkit.StatusSuccess)

	assert.Equal(t, "shoes-1", state.Result.Items[0].ID)
	assert.Nil(t, state.Err)
	assert.Equal(t, []string{"sho", "shoes"}, ft.texts())
}

func TestController_CloseStopsCallbacks(t *testing.T) {
	ft := &fakeTransport{}
	release := ft.hold()
	p, clk := newFakeProvider(t, ft)

	var calls atomic.Int32
	c := newTestController(t, p, searchkit.WithStateListener(func(searchkit.SearchState) {
		calls.Add(1)
	}))

	c.SetInput("shoes")
	clk.Advance(250 * time.Millisecond)
	require.Eventually(t, func() bool { return ft.callCount() == 1 }, waitFor, time.Millisecond)
	waitStatus(t, c, searchkit.StatusLoading)

	c.Close()
	before := calls.Load()
	release()

	assert.Never(t, func() bool { return calls.Load() != before }, 100*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, searchkit.StatusLoading, c.State().Status, "state is frozen after close")
	assert.Equal(t, 0, p.Client().Stats().InFlight)
	assert.Equal(t, 0, p.Client().Stats().CacheEntries, "canceled result is discarded")

	// Input after close is ignored.
	c.SetInput("boots")
	assert.Equal(t, 0, clk.Pending())
}

func TestController_DebouncedInputCanceledOnClose(t *testing.T) {
	ft := &fakeTransport{}
	p, clk := newFakeProvider(t, ft)
	c := newTestController(t, p)

	c.SetInput("shoes")
	c.Close()
	clk.Advance(time.Second)

	assert.Equal(t, 0, ft.callCount())
}

func TestController_MalformedResponseIsAnError(t *testing.T) {
	svc := testservice.New("k1", func(testservice.Request) testservice.Response {
		return testservice.Raw(`{"items":[{"id":"1"}]}`)
	})
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	clk := clock.NewManual(epoch)
	p := searchkit.NewProvider("k1", srv.URL, searchkit.WithClock(clk))
	defer p.Close()
	c := newTestController(t, p)

	c.SetInput("shoes")
	clk.Advance(250 * time.Millisecond)

	state := waitStatus(t, c, searchkit.StatusError)
	assert.True(t, errors.Is(state.Err, searchkit.ErrMalformedResponse))
	assert.Nil(t, state.Result)
}

func TestController_Pagination(t *testing.T) {
	ft := &fakeTransport{
		respond: func(_ int, params searchkit.QueryParams) (searchkit.RawResponse, error) {
			if params.Cursor == "" {
				return pageBody("p1", 2, "c1", 3), nil
			}
			return pageBody("p2", 1, "", 3), nil
		},
	}
	p, clk := newFakeProvider(t, ft)
	c := newTestController(t, p, searchkit.WithBaseQuery(searchkit.WithLimit(2)))

	assert.False(t, c.NextPage(), "no result yet")

	c.SetInput("shoes")
	clk.Advance(250 * time.Millisecond)
	waitStatus(t, c, searchkit.StatusSuccess)

	require.True(t, c.NextPage())
	require.Eventually(t, func() bool {
		s := c.State()
		return s.Status == searchkit.StatusSuccess && s.Cursor == "c1"
	}, waitFor, time.Millisecond)

	state := c.State()
	assert.Equal(t, "p2-1", state.Result.Items[0].ID)
	assert.False(t, state.Result.HasMore())
	assert.False(t, c.NextPage())

	ft.mu.Lock()
	defer ft.mu.Unlock()
	require.Len(t, ft.calls, 2)
	assert.Equal(t, "c1", ft.calls[1].Cursor)
	assert.Equal(t, 2, ft.calls[1].Limit)
}

func TestController_RetryAfterTransportError(t *testing.T) {
	ft := &fakeTransport{
		respond: func(call int, params searchkit.QueryParams) (searchkit.RawResponse, error) {
			if call == 1 {
				return nil, searchkit.TransportError(errors.New("connection reset"), "search request failed")
			}
			return pageBody(params.Text, 1, "", 1), nil
		},
	}
	p, clk := newFakeProvider(t, ft)
	c := newTestController(t, p)

	c.SetInput("shoes")
	clk.Advance(250 * time.Millisecond)
	state := waitStatus(t, c, searchkit.StatusError)
	assert.Equal(t, searchkit.ErrCodeTransport, searchkit.CodeOf(state.Err))
	assert.True(t, searchkit.CodeOf(state.Err).Retryable())

	require.True(t, c.Retry())
	waitStatus(t, c, searchkit.StatusSuccess)
	assert.Equal(t, 2, ft.callCount())
	assert.False(t, c.Retry())
}

func TestController_UnconfiguredProvider(t *testing.T) {
	ft := &fakeTransport{}
	clk := clock.NewManual(epoch)
	p := searchkit.NewProvider("", "https://svc.example.com", searchkit.WithTransport(ft), searchkit.WithClock(clk))
	defer p.Close()
	require.True(t, errors.Is(p.Err(), searchkit.ErrConfig))

	c := newTestController(t, p)
	c.SetInput("shoes")
	clk.Advance(250 * time.Millisecond)

	state := waitStatus(t, c, searchkit.StatusError)
	assert.True(t, errors.Is(state.Err, searchkit.ErrConfig))
	assert.False(t, c.Retry())
	assert.Equal(t, 0, ft.callCount())
}

func TestController_BlankInputGoesIdle(t *testing.T) {
	ft := &fakeTransport{}
	p, clk := newFakeProvider(t, ft)
	c := newTestController(t, p)

	c.SetInput("shoes")
	clk.Advance(250 * time.Millisecond)
	waitStatus(t, c, searchkit.StatusSuccess)

	c.SetInput("  ")
	state := c.State()
	assert.Equal(t, searchkit.StatusIdle, state.Status)
	assert.Nil(t, state.Result)
	clk.Advance(time.Second)
	assert.Equal(t, 1, ft.callCount())
}

func TestController_ListenersSeeOrderedSnapshots(t *testing.T) {
	ft := &fakeTransport{}
	release := ft.hold()
	defer release()
	p, clk := newFakeProvider(t, ft)

	var mu sync.Mutex
	var seen []searchkit.SearchState
	statuses := func() []searchkit.Status {
		mu.Lock()
		defer mu.Unlock()
		out := make([]searchkit.Status, 0, len(seen))
		for _, s := range seen {
			out = append(out, s.Status)
		}
		return out
	}

	c := newTestController(t, p)
	unsubscribe := c.Subscribe(func(s searchkit.SearchState) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	c.SetInput("shoes")
	clk.Advance(250 * time.Millisecond)
	assert.Equal(t, []searchkit.Status{searchkit.StatusDebouncing, searchkit.StatusLoading}, statuses())

	release()
	waitStatus(t, c, searchkit.StatusSuccess)
	require.Eventually(t, func() bool { return len(statuses()) == 3 }, waitFor, time.Millisecond)
	assert.Equal(t, searchkit.StatusSuccess, statuses()[2])

	mu.Lock()
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i].Version, seen[i-1].Version)
	}
	mu.Unlock()

	unsubscribe()
	c.SetInput("boots")
	assert.Len(t, statuses(), 3)
}

func TestController_ListenerMayCallBack(t *testing.T) {
	ft := &fakeTransport{}
	p, _ := newFakeProvider(t, ft)

	var mu sync.Mutex
	var inputs []string
	var c *searchkit.Controller
	c = newTestController(t, p, searchkit.WithStateListener(func(s searchkit.SearchState) {
		mu.Lock()
		inputs = append(inputs, s.RawInput)
		mu.Unlock()
		if s.RawInput == "a" {
			c.SetInput("ab")
		}
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.SetInput("a")
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("SetInput from a listener blocked")
	}

	assert.Equal(t, "ab", c.State().RawInput)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "ab"}, inputs, "the nested change is delivered after the outer one")
}

func TestController_ListenerMayClose(t *testing.T) {
	ft := &fakeTransport{}
	p, clk := newFakeProvider(t, ft)

	var calls atomic.Int32
	var c *searchkit.Controller
	c = newTestController(t, p,
		searchkit.WithStateListener(func(searchkit.SearchState) {
			calls.Add(1)
			c.Close()
		}),
		searchkit.WithStateListener(func(searchkit.SearchState) {
			t.Error("listener ran after Close")
		}),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.SetInput("shoes")
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Close from a listener blocked")
	}

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0, clk.Pending(), "debounce timer stopped by Close")
}

func TestController_RequiresSession(t *testing.T) {
	_, err := searchkit.NewController(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, searchkit.ErrNoSession))
	assert.Equal(t, searchkit.ErrCodeNoSession, searchkit.CodeOf(err))
}

func TestProvider_NestedBindingShadows(t *testing.T) {
	outer := searchkit.NewProvider("outer", "https://outer.example.com")
	defer outer.Close()
	inner := searchkit.NewProvider("inner", "https://inner.example.com")
	defer inner.Close()

	ctx := outer.Bind(context.Background())
	nested := inner.Bind(ctx)

	client, err := searchkit.ClientFromContext(nested)
	require.NoError(t, err)
	assert.Same(t, inner.Client(), client)
	assert.Equal(t, "inner", client.Config().APIKey())

	client, err = searchkit.ClientFromContext(ctx)
	require.NoError(t, err)
	assert.Same(t, outer.Client(), client)

	_, err = searchkit.ClientFromContext(context.Background())
	assert.True(t, errors.Is(err, searchkit.ErrNoSession))
}

func TestProvider_UpdateReinitializesSubtree(t *testing.T) {
	ft := &fakeTransport{}
	p, clk := newFakeProvider(t, ft)
	c := newTestController(t, p)

	c.SetInput("shoes")
	clk.Advance(250 * time.Millisecond)
	waitStatus(t, c, searchkit.StatusSuccess)
	old := p.Client()

	p.Update("k1", "https://svc.example.com")
	assert.Same(t, old, p.Client(), "unchanged props are a no-op")

	release := ft.hold()
	c.SetInput("boots")
	clk.Advance(250 * time.Millisecond)
	require.Eventually(t, func() bool { return ft.callCount() == 2 }, waitFor, time.Millisecond)

	p.Update("k2", "https://svc.example.com")
	assert.NotSame(t, old, p.Client())
	assert.Equal(t, 0, old.Stats().InFlight, "previous client's requests were canceled")

	state := c.State()
	assert.Equal(t, searchkit.StatusDebouncing, state.Status)
	assert.Nil(t, state.Result)
	release()

	ft.mu.Lock()
	ft.gate = nil
	ft.mu.Unlock()
	clk.Advance(250 * time.Millisecond)
	waitStatus(t, c, searchkit.StatusSuccess)

	keys := ft.apiKeys()
	assert.Equal(t, "k2", keys[len(keys)-1])

	_, err := old.Search(context.Background(), searchkit.NewQueryParams("x"))
	assert.True(t, errors.Is(err, searchkit.ErrCanceled), "closed client rejects queries")
}

// recordHandler hands every log record to onRecord as it is written.
type recordHandler struct {
	onRecord func(slog.Record)
}

func (h recordHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h recordHandler) Handle(_ context.Context, r slog.Record) error {
	h.onRecord(r)
	return nil
}
func (h recordHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h recordHandler) WithGroup(string) slog.Handler      { return h }

func TestProvider_UpdateCancelsBeforeRebuilding(t *testing.T) {
	started := make(chan context.Context, 1)
	transport := searchkit.TransportFunc(func(ctx context.Context, _ searchkit.SessionConfig, _ searchkit.QueryParams) (searchkit.RawResponse, error) {
		started <- ctx
		<-ctx.Done()
		return nil, ctx.Err()
	})

	var (
		mu          sync.Mutex
		inFlightCtx context.Context
		canceled    []bool
	)
	logger := slog.New(recordHandler{onRecord: func(r slog.Record) {
		if r.Message != "search session configured" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if inFlightCtx != nil {
			canceled = append(canceled, inFlightCtx.Err() != nil)
		}
	}})

	p := searchkit.NewProvider("k1", "https://svc.example.com", searchkit.WithTransport(transport), searchkit.WithLogger(logger))
	t.Cleanup(p.Close)

	params := searchkit.NewQueryParams("shoes")
	future := p.Client().Submit(context.Background(), searchkit.NewFingerprint(params), params)
	select {
	case ctx := <-started:
		mu.Lock()
		inFlightCtx = ctx
		mu.Unlock()
	case <-time.After(waitFor):
		t.Fatal("request never reached the transport")
	}

	p.Update("k2", "https://svc.example.com")

	mu.Lock()
	assert.Equal(t, []bool{true}, canceled, "old request must be canceled before the new client is built")
	mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	_, err := future.Wait(ctx)
	assert.True(t, errors.Is(err, searchkit.ErrCanceled))
}

func TestProvider_UpdateToInvalidCredentials(t *testing.T) {
	ft := &fakeTransport{}
	p, _ := newFakeProvider(t, ft)

	p.Update("", "")
	assert.True(t, errors.Is(p.Err(), searchkit.ErrConfig))
	assert.True(t, p.Config().IsZero())

	_, err := p.Client().Search(context.Background(), searchkit.NewQueryParams("shoes"))
	assert.True(t, errors.Is(err, searchkit.ErrConfig))
	assert.Equal(t, 0, ft.callCount())

	p.Update("k3", "https://svc.example.com")
	assert.NoError(t, p.Err())
}

func TestProviderFromCredentials(t *testing.T) {
	p := searchkit.NewProviderFromCredentials(searchkit.StaticCredentials("k1", "https://svc.example.com/"))
	defer p.Close()
	require.NoError(t, p.Err())
	assert.Equal(t, "https://svc.example.com", p.Config().BaseURL())

	failing := searchkit.NewProviderFromCredentials(func() (searchkit.Credentials, error) {
		return searchkit.Credentials{}, errors.New("vault sealed")
	})
	defer failing.Close()
	assert.True(t, errors.Is(failing.Err(), searchkit.ErrConfig))
	assert.Contains(t, failing.Err().Error(), "vault sealed")
}
