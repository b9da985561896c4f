// Package algolia provides a searchkit Transport backed by the Algolia search API.
//
// The session URL names the Algolia application, e.g.
// https://APPID-dsn.algolia.net, and the session API key is used as the
// search-only key.
package algolia

import (
	"strings"
	"sync"

	"github.com/algolia/algoliasearch-client-go/v3/algolia/search"
	"github.com/cockroachdb/errors"

	"github.com/letmevibethatforyou/searchkit"
)

// Index is the part of *search.Index the transport uses.
type Index interface {
	Search(query string, opts ...interface{}) (search.QueryRes, error)
}

// IndexOpener returns the index named indexName for the given credentials.
type IndexOpener func(appID, apiKey, indexName string) Index

type credentials struct {
	appID  string
	apiKey string
}

// clientPool lazily creates one Algolia client per credential pair, so a
// session change does not rebuild clients for credentials seen before.
type clientPool struct {
	mu      sync.Mutex
	clients map[credentials]*search.Client
}

func newClientPool() *clientPool {
	return &clientPool{clients: make(map[credentials]*search.Client)}
}

func (p *clientPool) open(appID, apiKey, indexName string) Index {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := credentials{appID: appID, apiKey: apiKey}
	client, ok := p.clients[key]
	if !ok {
		client = search.NewClient(appID, apiKey)
		p.clients[key] = client
	}
	return client.InitIndex(indexName)
}

// AppIDFromConfig extracts the application id from a session URL of the form
// https://APPID-dsn.algolia.net or https://APPID.algolia.net.
func AppIDFromConfig(cfg searchkit.SessionConfig) (string, error) {
	host := strings.ToLower(cfg.Host())
	if !strings.HasSuffix(host, ".algolia.net") {
		return "", errors.Mark(errors.Newf("algolia: host %q is not an algolia.net host", host), searchkit.ErrConfig)
	}
	label := strings.TrimSuffix(host, ".algolia.net")
	label = strings.TrimSuffix(label, "-dsn")
	if label == "" || strings.Contains(label, ".") {
		return "", errors.Mark(errors.Newf("algolia: cannot derive application id from host %q", host), searchkit.ErrConfig)
	}
	return strings.ToUpper(label), nil
}
