package intercept

import (
	"context"
	"errors"

	"github.com/rocketbitz/colloffload-go/coll"
	"github.com/rocketbitz/colloffload-go/offload"
)

// request adapts a library handle to the host request contract. The handle
// is released exactly once, by Free. A completion error is translated once
// and reported on every later Wait or Test.
type request struct {
	coll.BaseRequest
	mod    *Module
	kind   coll.OpKind
	handle offload.Handle
}

var _ coll.Request = (*request)(nil)

func (r *request) bind(m *Module, kind coll.OpKind, h offload.Handle) {
	r.mod = m
	r.kind = kind
	r.handle = h
}

func (r *request) reset() {
	r.BaseRequest.Reset()
	r.mod = nil
	r.kind = 0
	r.handle = nil
}

// settle records the library result, translating a failure on first sight.
func (r *request) settle(err error) error {
	if err != nil {
		err = &coll.OpError{Kind: r.kind, Code: coll.ErrCollective, Err: err}
	}
	if r.Complete(err) && err != nil {
		r.mod.comp.logEvent("completion_failed", append(r.mod.dispatchFields(r.kind, modeNonblocking), logKV("error", err))...)
		r.mod.comp.metricCompletionFailed(err, r.mod.dispatchFields(r.kind, modeNonblocking)...)
	}
	_, result := r.Completed()
	return result
}

func (r *request) Wait(ctx context.Context) error {
	if r.Freed() {
		return coll.ErrRequestFreed
	}
	if done, err := r.Completed(); done {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := r.handle.Wait(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return ctxErr
	}
	return r.settle(err)
}

func (r *request) Test() (bool, error) {
	if r.Freed() {
		return false, coll.ErrRequestFreed
	}
	if done, err := r.Completed(); done {
		return true, err
	}
	done, err := r.handle.Test()
	if !done {
		return false, err
	}
	return true, r.settle(err)
}

// Cancel forwards to the library and returns its status unchanged.
func (r *request) Cancel() error {
	if r.Freed() {
		return coll.ErrRequestFreed
	}
	return r.handle.Cancel()
}

// Free releases the library handle. The request is not reused afterwards,
// so later calls keep reporting coll.ErrRequestFreed.
func (r *request) Free() error {
	if !r.MarkFreed() {
		return coll.ErrRequestFreed
	}
	err := r.handle.Release()
	r.mod.comp.metricRequestFreed(r.mod.dispatchFields(r.kind, modeNonblocking)...)
	return err
}
