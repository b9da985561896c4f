// Package testservice is a scriptable stand-in for the remote search service.
// It speaks the wire format of the default HTTP transport and records every
// request it receives.
package testservice

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Request is a decoded search request as the service saw it.
type Request struct {
	Text    string           `json:"text"`
	Filters []map[string]any `json:"filters"`
	Cursor  *string          `json:"cursor"`
	Limit   int              `json:"limit"`
	Sort    []SortField      `json:"sort"`

	APIKey    string `json:"-"`
	RequestID string `json:"-"`
}

// SortField is one entry of the request's sort list.
type SortField struct {
	Field string `json:"field"`
	Order string `json:"order"`
}

// Response is what the service answers with.
type Response struct {
	Status int
	Body   []byte
	// Delay postpones the answer; a canceled request returns early.
	Delay time.Duration
}

// Responder computes the response for a request.
type Responder func(Request) Response

// Service is the fake search service.
type Service struct {
	apiKey string
	router *chi.Mux

	mu        sync.Mutex
	responder Responder
	requests  []Request
	held      chan struct{}
}

// New returns a service accepting apiKey as bearer token. A nil responder
// answers every query with an empty page.
func New(apiKey string, responder Responder) *Service {
	if responder == nil {
		responder = func(Request) Response { return Page(0, "", 0) }
	}
	s := &Service{apiKey: apiKey, responder: responder}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Group(func(r chi.Router) {
		r.Use(s.bearerAuth)
		r.Post("/search", s.handleSearch)
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler, suitable for httptest.NewServer.
func (s *Service) Handler() http.Handler {
	return s.router
}

// SetResponder replaces the responder.
func (s *Service) SetResponder(r Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responder = r
}

// Calls returns the number of search requests received.
func (s *Service) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Requests returns the search requests received so far.
func (s *Service) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Hold blocks every search request until the returned release function is
// called or the request is canceled.
func (s *Service) Hold() (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.held = ch
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.held == ch {
				s.held = nil
			}
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Service) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const bearerPrefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, bearerPrefix) {
			writeError(w, http.StatusUnauthorized, "authorization header must use Bearer scheme")
			return
		}
		if auth[len(bearerPrefix):] != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.APIKey = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	req.RequestID = r.Header.Get("X-Request-Id")

	s.mu.Lock()
	s.requests = append(s.requests, req)
	responder := s.responder
	held := s.held
	s.mu.Unlock()

	if held != nil {
		select {
		case <-held:
		case <-r.Context().Done():
			return
		}
	}

	resp := responder(req)
	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

// JSON returns a response with v marshaled as body.
func JSON(status int, v any) Response {
	body, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("testservice: marshal response: %v", err))
	}
	return Response{Status: status, Body: body}
}

// Page returns a canonical page of n generated items.
func Page(n int, cursor string, total int) Response {
	items := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, map[string]any{
			"id":    fmt.Sprintf("doc-%d", i+1),
			"score": float64(n - i),
			"title": fmt.Sprintf("Result %d", i+1),
		})
	}
	var c any
	if cursor != "" {
		c = cursor
	}
	return JSON(http.StatusOK, map[string]any{"items": items, "cursor": c, "total": total})
}

// Raw returns a 200 response with body verbatim.
func Raw(body string) Response {
	return Response{Status: http.StatusOK, Body: []byte(body)}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
