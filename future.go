package searchkit

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// Future is one waiter's handle on a submitted query. Several futures may
// share a single network call when they carry the same fingerprint.
type Future struct {
	fp     Fingerprint
	client *QueryClient
	call   *call

	once       sync.Once
	done       chan struct{}
	projection ResultProjection
	err        error

	// stopWatch releases the context.AfterFunc registered on the submit ctx.
	stopWatch func() bool
}

func newFuture(client *QueryClient, fp Fingerprint) *Future {
	return &Future{fp: fp, client: client, done: make(chan struct{})}
}

func resolvedFuture(fp Fingerprint, projection ResultProjection, err error) *Future {
	f := &Future{fp: fp, done: make(chan struct{})}
	f.resolve(projection, err)
	return f
}

// Fingerprint returns the fingerprint the future was submitted with.
func (f *Future) Fingerprint() Fingerprint {
	return f.fp
}

// Done is closed once the future holds a result or an error.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Resolved reports whether Done is closed.
func (f *Future) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result blocks until the future resolves and returns its outcome.
func (f *Future) Result() (ResultProjection, error) {
	<-f.done
	return f.projection, f.err
}

// Wait blocks until the future resolves or ctx is done. Giving up on ctx does
// not detach the waiter; use Cancel for that.
func (f *Future) Wait(ctx context.Context) (ResultProjection, error) {
	select {
	case <-f.done:
		return f.projection, f.err
	case <-ctx.Done():
		return ResultProjection{}, errors.Mark(errors.Wrap(ctx.Err(), "searchkit: wait aborted"), ErrCanceled)
	}
}

// Cancel detaches this waiter and resolves it with ErrCanceled. The shared
// network call is aborted only when no other waiter remains.
func (f *Future) Cancel() {
	if f.client != nil {
		f.client.detach(f)
	}
	f.resolve(ResultProjection{}, canceledError("searchkit: request canceled by caller"))
}

// resolve is a no-op after the first call.
func (f *Future) resolve(projection ResultProjection, err error) {
	f.once.Do(func() {
		f.projection = projection
		f.err = err
		if f.stopWatch != nil {
			f.stopWatch()
		}
		close(f.done)
	})
}

func canceledError(msg string) error {
	return errors.Mark(errors.New(msg), ErrCanceled)
}
