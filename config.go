package searchkit

import (
	"net/url"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
)

// SessionConfig holds the credentials of one search session. It is validated
// once and never mutated; build a new one to change credentials.
type SessionConfig struct {
	apiKey  string
	baseURL string
}

// NewSessionConfig validates apiKey and rawURL. It fails with ErrConfig when
// either is empty or the URL is not an absolute http(s) URL.
func NewSessionConfig(apiKey, rawURL string) (SessionConfig, error) {
	apiKey = strings.TrimSpace(apiKey)
	rawURL = strings.TrimSpace(rawURL)

	if apiKey == "" {
		return SessionConfig{}, configError("searchkit: api key is empty")
	}
	if rawURL == "" {
		return SessionConfig{}, configError("searchkit: service url is empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return SessionConfig{}, errors.Mark(errors.Wrapf(err, "searchkit: invalid service url %q", rawURL), ErrConfig)
	}
	if !u.IsAbs() || u.Host == "" {
		return SessionConfig{}, configError("searchkit: service url %q is not absolute", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return SessionConfig{}, configError("searchkit: service url %q must use http or https", rawURL)
	}
	u.RawQuery = ""
	u.Fragment = ""

	return SessionConfig{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(u.String(), "/"),
	}, nil
}

// APIKey returns the API key sent with every request.
func (c SessionConfig) APIKey() string {
	return c.apiKey
}

// BaseURL returns the service URL without a trailing slash.
func (c SessionConfig) BaseURL() string {
	return c.baseURL
}

// Endpoint joins path onto the base URL.
func (c SessionConfig) Endpoint(path string) string {
	if path == "" {
		return c.baseURL
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// Host returns the host component of the base URL.
func (c SessionConfig) Host() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// IsZero reports whether c is the zero value (never validated).
func (c SessionConfig) IsZero() bool {
	return c.apiKey == "" && c.baseURL == ""
}

// Equal reports whether both configs carry the same credentials.
func (c SessionConfig) Equal(other SessionConfig) bool {
	return c.apiKey == other.apiKey && c.baseURL == other.baseURL
}

// String hides the API key.
func (c SessionConfig) String() string {
	if c.IsZero() {
		return "SessionConfig{}"
	}
	return "SessionConfig{url: " + c.baseURL + ", apiKey: <redacted>}"
}

// Credentials are the raw provider inputs before validation.
type Credentials struct {
	// APIKey is the service API key.
	APIKey string `json:"api_key"`
	// URL is the service base URL.
	URL string `json:"url"`
}

// FetchCredentials is a function type that retrieves search credentials.
// It allows for different retrieval strategies (static, environment variables, etc.).
type FetchCredentials func() (Credentials, error)

// StaticCredentials returns a FetchCredentials function that provides fixed values.
// This is useful for testing or when credentials are known at compile time.
func StaticCredentials(apiKey, url string) FetchCredentials {
	return func() (Credentials, error) {
		return Credentials{APIKey: apiKey, URL: url}, nil
	}
}

// Default environment variable names read by EnvCredentials.
const (
	EnvAPIKey = "SEARCH_API_KEY"
	EnvURL    = "SEARCH_API_URL"
)

// EnvCredentials reads credentials from environment variables. Empty names
// fall back to SEARCH_API_KEY and SEARCH_API_URL.
func EnvCredentials(keyVar, urlVar string) FetchCredentials {
	if keyVar == "" {
		keyVar = EnvAPIKey
	}
	if urlVar == "" {
		urlVar = EnvURL
	}
	return func() (Credentials, error) {
		apiKey := os.Getenv(keyVar)
		if apiKey == "" {
			return Credentials{}, configError("%s environment variable is not set", keyVar)
		}

		serviceURL := os.Getenv(urlVar)
		if serviceURL == "" {
			return Credentials{}, configError("%s environment variable is not set", urlVar)
		}

		return Credentials{APIKey: apiKey, URL: serviceURL}, nil
	}
}
