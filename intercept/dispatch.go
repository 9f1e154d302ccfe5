package intercept

import (
	"context"
	"errors"

	"github.com/rocketbitz/colloffload-go/coll"
	"github.com/rocketbitz/colloffload-go/offload"
)

// submit posts desc to the team. A rejected post is a fallback outcome:
// nothing was submitted, so the saved implementation can still run.
func (m *Module) submit(desc *offload.CollArgs) (offload.Handle, outcome) {
	h, err := m.team.Post(desc)
	if err != nil {
		return nil, fallBack(reasonSubmission, err)
	}
	return h, offloadable()
}

func (m *Module) dispatchFields(kind coll.OpKind, mode string) []logField {
	return []logField{
		logKV(labelGroup, m.group.Name()),
		logKV(labelOperation, kind),
		logKV(labelMode, mode),
	}
}

func (m *Module) noteFallback(span Span, kind coll.OpKind, mode string, out outcome) {
	fields := m.dispatchFields(kind, mode)
	logFields := append(fields, logKV(labelReason, out.reason))
	if out.err != nil {
		logFields = append(logFields, logKV("error", out.err))
	}
	m.comp.logVerbose(3, "fallback", logFields...)
	spanAddEvent(span, "fallback", append(fields, logKV(labelReason, out.reason))...)
	m.comp.metricFallback(string(out.reason), fields...)
}

func (m *Module) noteOffload(span Span, kind coll.OpKind, mode string) {
	fields := m.dispatchFields(kind, mode)
	m.comp.logVerbose(3, "offload", fields...)
	spanAddEvent(span, "offload", fields...)
	m.comp.metricOffloaded(fields...)
}

// completionError converts a failed library completion into the host
// convention and records it.
func (m *Module) completionError(span Span, kind coll.OpKind, mode string, err error) error {
	fields := m.dispatchFields(kind, mode)
	m.comp.logEvent("completion_failed", append(fields, logKV("status", offload.StatusOf(err)), logKV("error", err))...)
	spanAddEvent(span, "completion_error", append(fields, logKV(labelStatus, offload.StatusOf(err)))...)
	spanRecordError(span, err)
	m.comp.metricCompletionFailed(err, fields...)
	return &coll.OpError{Kind: kind, Code: coll.ErrCollective, Err: err}
}

func (m *Module) startDispatchSpan(kind coll.OpKind, mode string) Span {
	return m.comp.startSpan("collective-offload."+kind.String(),
		logKV(labelGroup, m.group.Name()),
		logKV(labelOperation, kind),
		logKV(labelMode, mode),
		logKV("rank", m.group.Rank()),
		logKV("module_id", m.id.String()),
	)
}

func (m *Module) blocking(kind coll.OpKind, prev coll.Entry) coll.BlockingFunc {
	return func(ctx context.Context, g *coll.Group, args *coll.Args, _ coll.Module) (err error) {
		if ctx == nil {
			ctx = context.Background()
		}
		span := m.startDispatchSpan(kind, modeBlocking)
		defer func() { finishSpan(span, err) }()

		desc, out := m.describe(kind, args, true)
		var h offload.Handle
		if !out.fallback {
			h, out = m.submit(&desc)
		}
		if out.fallback {
			m.noteFallback(span, kind, modeBlocking, out)
			return prev.Impl.Blocking(ctx, g, args, prev.Owner)
		}
		m.noteOffload(span, kind, modeBlocking)

		waitErr := h.Wait(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(waitErr, ctxErr) {
			// The round still completes for the other ranks.
			_ = h.Release()
			return ctxErr
		}
		if relErr := h.Release(); relErr != nil && waitErr == nil {
			m.comp.logEvent("release_failed", append(m.dispatchFields(kind, modeBlocking), logKV("error", relErr))...)
		}
		if waitErr != nil {
			return m.completionError(span, kind, modeBlocking, waitErr)
		}
		return nil
	}
}

func (m *Module) nonblocking(kind coll.OpKind, prev coll.Entry) coll.NonblockingFunc {
	return func(g *coll.Group, args *coll.Args, _ coll.Module) (_ coll.Request, err error) {
		span := m.startDispatchSpan(kind, modeNonblocking)
		defer func() { finishSpan(span, err) }()

		desc, out := m.describe(kind, args, false)
		if !out.fallback {
			req := m.pool.acquire()
			var h offload.Handle
			h, out = m.submit(&desc)
			if !out.fallback {
				req.bind(m, kind, h)
				m.noteOffload(span, kind, modeNonblocking)
				return req, nil
			}
			m.pool.release(req)
		}
		m.noteFallback(span, kind, modeNonblocking, out)
		return prev.Impl.Nonblocking(g, args, prev.Owner)
	}
}
