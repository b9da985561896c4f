package searchkit

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Status is the phase of a controller's search.
type Status int

const (
	// StatusIdle means no query is active.
	StatusIdle Status = iota
	// StatusDebouncing means input changed and the debounce timer is running.
	StatusDebouncing
	// StatusLoading means a query was submitted and has not resolved.
	StatusLoading
	// StatusSuccess means the latest query produced a result.
	StatusSuccess
	// StatusError means the latest query failed.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusDebouncing:
		return "debouncing"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// SearchState is the observable state of one controller.
type SearchState struct {
	// RawInput is the text exactly as last entered.
	RawInput string
	// Cursor is the page requested by the current query; empty for the first page.
	Cursor string
	// PendingFingerprint identifies the outstanding query, empty when none.
	PendingFingerprint Fingerprint
	Status             Status
	// Result is the latest projection. It survives new input until replaced.
	Result *ResultProjection
	Err    error
	// Generation increases with every submission-invalidating event.
	// Completions carrying an older generation are ignored.
	Generation uint64
	// Version increases with every change and orders delivered snapshots.
	Version uint64
}

// Event drives Transition.
type Event interface {
	event()
}

// InputChanged reports new user input.
type InputChanged struct {
	Text string
}

// DebounceFired reports that the debounce timer of Generation elapsed.
// Fingerprint identifies the first page of the current input.
type DebounceFired struct {
	Generation  uint64
	Fingerprint Fingerprint
}

// PageRequested asks for the page at Cursor of the current input.
type PageRequested struct {
	Cursor      string
	Fingerprint Fingerprint
}

// RetryRequested re-issues a failed query.
type RetryRequested struct {
	Fingerprint Fingerprint
}

// Resolved delivers the projection of the submission made at Generation.
type Resolved struct {
	Generation uint64
	Projection ResultProjection
}

// Failed delivers the error of the submission made at Generation.
type Failed struct {
	Generation uint64
	Err        error
}

// Reset re-initializes the controller after its session changed.
type Reset struct{}

func (InputChanged) event()   {}
func (DebounceFired) event()  {}
func (PageRequested) event()  {}
func (RetryRequested) event() {}
func (Resolved) event()       {}
func (Failed) event()         {}
func (Reset) event()          {}

// Submission asks the controller to submit a query.
type Submission struct {
	Generation  uint64
	Fingerprint Fingerprint
	Text        string
	Cursor      string
}

// Effects are the side effects a transition requests.
type Effects struct {
	// StartTimer (re)starts the debounce timer for the new generation.
	StartTimer bool
	// StopTimer stops a running debounce timer.
	StopTimer bool
	// CancelPending cancels the outstanding query.
	CancelPending bool
	// Submit is non-nil when a query must be submitted.
	Submit *Submission
}

// Transition computes the state following ev. It has no side effects; a
// transition that changes nothing returns s unchanged (same Version).
func Transition(s SearchState, ev Event) (SearchState, Effects) {
	var fx Effects
	next := s

	switch ev := ev.(type) {
	case InputChanged:
		next.Generation++
		next.RawInput = ev.Text
		next.Cursor = ""
		next.Err = nil
		fx.CancelPending = s.PendingFingerprint != ""
		next.PendingFingerprint = ""
		if isBlank(ev.Text) {
			next.Status = StatusIdle
			next.Result = nil
			fx.StopTimer = true
		} else {
			next.Status = StatusDebouncing
			fx.StartTimer = true
		}

	case DebounceFired:
		if ev.Generation != s.Generation || s.Status != StatusDebouncing {
			return s, fx
		}
		next.Status = StatusLoading
		next.PendingFingerprint = ev.Fingerprint
		fx.Submit = &Submission{
			Generation:  next.Generation,
			Fingerprint: ev.Fingerprint,
			Text:        s.RawInput,
		}

	case PageRequested:
		if s.Status != StatusSuccess || isBlank(s.RawInput) || ev.Cursor == "" {
			return s, fx
		}
		next.Generation++
		next.Cursor = ev.Cursor
		next.Status = StatusLoading
		next.PendingFingerprint = ev.Fingerprint
		fx.Submit = &Submission{
			Generation:  next.Generation,
			Fingerprint: ev.Fingerprint,
			Text:        s.RawInput,
			Cursor:      ev.Cursor,
		}

	case RetryRequested:
		if s.Status != StatusError || isBlank(s.RawInput) || !retryAllowed(s.Err) {
			return s, fx
		}
		next.Generation++
		next.Err = nil
		next.Status = StatusLoading
		next.PendingFingerprint = ev.Fingerprint
		fx.Submit = &Submission{
			Generation:  next.Generation,
			Fingerprint: ev.Fingerprint,
			Text:        s.RawInput,
			Cursor:      s.Cursor,
		}

	case Resolved:
		if ev.Generation != s.Generation || s.Status != StatusLoading {
			return s, fx
		}
		projection := ev.Projection
		next.Status = StatusSuccess
		next.Result = &projection
		next.PendingFingerprint = ""
		next.Err = nil

	case Failed:
		if ev.Generation != s.Generation || s.Status != StatusLoading {
			return s, fx
		}
		next.PendingFingerprint = ""
		if errors.Is(ev.Err, ErrCanceled) {
			// Canceled from outside the controller: fall back without an error.
			if s.Result != nil {
				next.Status = StatusSuccess
			} else {
				next.Status = StatusIdle
			}
			break
		}
		next.Status = StatusError
		next.Err = ev.Err

	case Reset:
		next.Generation++
		next.Cursor = ""
		next.Err = nil
		next.Result = nil
		next.PendingFingerprint = ""
		fx.CancelPending = s.PendingFingerprint != ""
		if isBlank(s.RawInput) {
			next.Status = StatusIdle
			fx.StopTimer = true
		} else {
			next.Status = StatusDebouncing
			fx.StartTimer = true
		}

	default:
		return s, fx
	}

	next.Version++
	return next, fx
}

// retryAllowed reports whether re-sending the same query could succeed.
func retryAllowed(err error) bool {
	code := CodeOf(err)
	return code != ErrCodeConfig && code != ErrCodeInvalidQuery
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
