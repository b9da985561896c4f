package searchkit

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/letmevibethatforyou/searchkit/clock"
)

// Provider owns the session config and query client of one search session
// and re-initializes its controllers when the credentials change.
type Provider struct {
	opts   []Option
	clock  clock.Clock
	logger *slog.Logger

	mu          sync.Mutex
	apiKey      string
	url         string
	cfg         SessionConfig
	err         error
	client      *QueryClient
	controllers map[*Controller]struct{}
	closed      bool
}

// NewProvider builds a provider for apiKey and url. It never fails: empty or
// invalid credentials produce an unconfigured provider whose Err reports the
// problem and whose client fails every query with ErrConfig.
func NewProvider(apiKey, url string, opts ...Option) *Provider {
	o := defaultClientOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	p := &Provider{
		opts:        opts,
		clock:       o.clock,
		logger:      logger,
		controllers: make(map[*Controller]struct{}),
	}
	p.cfg, p.client, p.err = p.build(apiKey, url)
	p.apiKey, p.url = apiKey, url
	return p
}

// NewProviderFromCredentials resolves credentials once with fetch. A fetch
// failure yields an unconfigured provider carrying that failure.
func NewProviderFromCredentials(fetch FetchCredentials, opts ...Option) *Provider {
	creds, err := fetch()
	if err != nil {
		p := NewProvider("", "", opts...)
		p.mu.Lock()
		p.err = errors.Mark(errors.Wrap(err, "searchkit: fetch credentials"), ErrConfig)
		p.client.Close()
		p.client = newUnconfiguredClient(p.err, p.opts...)
		p.mu.Unlock()
		return p
	}
	return NewProvider(creds.APIKey, creds.URL, opts...)
}

func (p *Provider) build(apiKey, url string) (SessionConfig, *QueryClient, error) {
	cfg, err := NewSessionConfig(apiKey, url)
	if err != nil {
		p.logger.Warn("search session not configured", "error", err)
		return SessionConfig{}, newUnconfiguredClient(err, p.opts...), err
	}
	p.logger.Debug("search session configured", "url", cfg.BaseURL())
	return cfg, NewQueryClient(cfg, p.opts...), nil
}

// Err returns the configuration error, or nil for a configured provider.
func (p *Provider) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Config returns the current session config; zero when unconfigured.
func (p *Provider) Config() SessionConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Client returns the current query client.
func (p *Provider) Client() *QueryClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

// Update replaces the credentials. Unchanged values are a no-op. Otherwise
// the previous client is closed first, canceling its requests in flight, and
// mounted controllers are then reset onto a new client.
func (p *Provider) Update(apiKey, url string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Warn("update on closed search session ignored")
		return
	}
	if apiKey == p.apiKey && url == p.url {
		p.mu.Unlock()
		return
	}
	p.client.Close()
	p.apiKey, p.url = apiKey, url
	p.cfg, p.client, p.err = p.build(apiKey, url)
	client := p.client
	controllers := make([]*Controller, 0, len(p.controllers))
	for c := range p.controllers {
		controllers = append(controllers, c)
	}
	p.mu.Unlock()

	for _, c := range controllers {
		c.reset(client)
	}
}

// Close closes the client. Controllers still mounted stop receiving results.
func (p *Provider) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	client := p.client
	p.mu.Unlock()

	client.Close()
}

func (p *Provider) attach(c *Controller) *QueryClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.controllers[c] = struct{}{}
	return p.client
}

func (p *Provider) detach(c *Controller) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.controllers, c)
}

type providerKey struct{}

// Bind returns a context carrying p. A binding shadows any provider bound
// further up the context chain.
func (p *Provider) Bind(ctx context.Context) context.Context {
	return context.WithValue(ctx, providerKey{}, p)
}

// FromContext returns the nearest provider bound to ctx, or an error marked
// ErrNoSession.
func FromContext(ctx context.Context) (*Provider, error) {
	if ctx != nil {
		if p, ok := ctx.Value(providerKey{}).(*Provider); ok && p != nil {
			return p, nil
		}
	}
	return nil, errors.Mark(errors.New("searchkit: no provider bound to context"), ErrNoSession)
}

// ClientFromContext returns the client of the nearest bound provider.
func ClientFromContext(ctx context.Context) (*QueryClient, error) {
	p, err := FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return p.Client(), nil
}
