// Package rpc implements cluster-wide invocation: one logical call fanned
// out to every member of a group, gathered into a full response set, and
// reduced to a single value or an explicit absence.
//
// The executor is transport-agnostic; any group.Channel (in-memory, Redis
// pub/sub, gRPC fan-out) can back it. Per-member failures are absorbed by
// the reduction; only whole-dispatch failures (a broadcast that never went
// out, an exhausted wait) surface as errors.
package rpc

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/oriys/quasar/internal/group"
	"github.com/oriys/quasar/internal/logging"
	"github.com/oriys/quasar/internal/metrics"
	"github.com/oriys/quasar/internal/taskpool"
	"github.com/oriys/quasar/internal/tracing"
)

// dispatchSlack is how long past its window a channel may run before the
// dispatch is abandoned as stuck.
const dispatchSlack = time.Second

// Options tunes an executor. All fields are optional.
type Options struct {
	Group     string        // group name, used in logs and history rows
	Transport string        // transport label for metrics
	Limiter   *rate.Limiter // outbound flow control; nil means unlimited
	History   History       // dispatch history sink; nil disables recording
}

// Executor dispatches actions to a process group. One executor serves one
// group over one channel; Stop closes it for remote dispatch permanently.
type Executor struct {
	ch        group.Channel
	pool      *taskpool.Pool
	open      atomic.Bool
	groupName string
	transport string
	limiter   *rate.Limiter
	history   History
}

// New creates an executor dispatching on ch. The pool runs async broadcast
// waits and RunAsync work. The caller keeps ownership of both
// collaborators and closes them after Stop.
func New(ch group.Channel, pool *taskpool.Pool, opts Options) *Executor {
	e := &Executor{
		ch:        ch,
		pool:      pool,
		groupName: opts.Group,
		transport: opts.Transport,
		limiter:   opts.Limiter,
		history:   opts.History,
	}
	if e.transport == "" {
		e.transport = "unknown"
	}
	e.open.Store(true)
	return e
}

// RunAsync offloads fn to the task pool and delivers its outcome to done
// exactly once. RunAsync keeps working after Stop: stopping the executor
// halts remote dispatch, not local work already owed to callers.
func (e *Executor) RunAsync(fn func() (any, error), done func(value any, err error)) {
	if err := e.pool.Submit(fn, done); err != nil {
		if done != nil {
			done(nil, fmt.Errorf("rpc: submit local task: %w", err))
		}
	}
}

// Execute broadcasts action to every group member and blocks until the
// full response set has been gathered and reduced, or until timeout
// elapses. A non-positive timeout is rejected: the calling goroutine must
// never wait unbounded.
func (e *Executor) Execute(ctx context.Context, action group.Action, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		return nil, ErrInvalidTimeout
	}
	if !e.open.Load() {
		return nil, ErrClosed
	}
	return e.dispatch(ctx, action, timeout)
}

// ExecuteAsync broadcasts action and delivers the reduced outcome to done
// without blocking the caller. The collection window is the channel's
// default wait; there is no explicit deadline on this form.
func (e *Executor) ExecuteAsync(action group.Action, done func(value any, err error)) {
	e.executeAsync(action, 0, done)
}

// ExecuteAsyncTimeout is ExecuteAsync with an explicit collection window.
func (e *Executor) ExecuteAsyncTimeout(action group.Action, timeout time.Duration, done func(value any, err error)) {
	e.executeAsync(action, timeout, done)
}

// executeAsync runs the broadcast wait on the task pool. done fires exactly
// once: with the reduced outcome after the wait resolves, or synchronously
// with the rejection when the dispatch cannot be scheduled at all.
func (e *Executor) executeAsync(action group.Action, timeout time.Duration, done func(any, error)) {
	if timeout < 0 {
		timeout = 0
	}
	if !e.open.Load() {
		if done != nil {
			done(nil, ErrClosed)
		}
		return
	}
	err := e.pool.Submit(func() (any, error) {
		return e.dispatch(context.Background(), action, timeout)
	}, done)
	if err != nil {
		if done != nil {
			done(nil, fmt.Errorf("rpc: submit dispatch: %w", err))
		}
	}
}

// Stop closes the executor for remote dispatch. It is idempotent; later
// Execute/ExecuteAsync calls fail with ErrClosed while RunAsync keeps
// working. The channel and pool stay open; their lifecycle belongs to the
// caller.
func (e *Executor) Stop() {
	if e.open.CompareAndSwap(true, false) {
		logging.Op().Info("rpc executor stopped", "group", e.groupName)
	}
}

// Active reports whether the executor still accepts remote dispatch.
func (e *Executor) Active() bool {
	return e.open.Load()
}

// dispatch runs one broadcast end to end: flow control, the channel call,
// the reduction, and bookkeeping. timeout 0 leaves the collection window to
// the channel's default.
func (e *Executor) dispatch(ctx context.Context, action group.Action, timeout time.Duration) (any, error) {
	callID := uuid.New().String()
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "quasar.dispatch",
		tracing.AttrGroup.String(e.groupName),
		tracing.AttrAction.String(action.Name),
		tracing.AttrCallID.String(callID),
		tracing.AttrTransport.String(e.transport),
		tracing.AttrTimeoutMs.Int64(timeout.Milliseconds()),
	)
	defer span.End()

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			err = fmt.Errorf("rpc: limiter wait: %w", err)
			tracing.SetSpanError(span, err)
			return nil, err
		}
	}

	if timeout > 0 {
		// The channel owns the collection window; the outer deadline only
		// catches a transport stalled past it, so it gets extra slack.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout+dispatchSlack)
		defer cancel()
	}

	metrics.IncInflightBroadcasts()
	set, err := e.ch.Broadcast(ctx, action, group.CallOptions{
		Timeout:      timeout,
		NoTotalOrder: true,
		Mode:         group.RspAll,
	})
	metrics.DecInflightBroadcasts()
	if err != nil {
		err = fmt.Errorf("rpc: broadcast %s: %w", action.Name, err)
		tracing.SetSpanError(span, err)
		e.record(span, callID, action, set, start, false, err)
		return nil, err
	}

	logging.Op().Debug("broadcast gathered",
		"call_id", callID, "action", action.Name, "responses", set.Size())

	value, err := reduce(set)
	resolved := err == nil && value != nil
	if err != nil {
		tracing.SetSpanError(span, err)
	} else {
		span.SetAttributes(tracing.AttrResolved.Bool(resolved))
		tracing.SetSpanOK(span)
	}
	e.record(span, callID, action, set, start, resolved, err)
	return value, err
}

// record emits the per-broadcast bookkeeping: metrics, the dispatch log
// line, and the optional history row. History failures are logged, never
// propagated.
func (e *Executor) record(span trace.Span, callID string, action group.Action, set *group.RspSet, start time.Time, resolved bool, dispatchErr error) {
	duration := time.Since(start)

	status := "resolved"
	switch {
	case dispatchErr != nil:
		status = "failed"
	case !resolved:
		status = "absent"
	}
	metrics.RecordBroadcastResult(action.Name, e.transport, status, duration.Milliseconds())

	errText := ""
	if dispatchErr != nil {
		errText = dispatchErr.Error()
	}
	traceID := ""
	if sc := span.SpanContext(); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}

	logging.Dispatches().Log(&logging.DispatchLog{
		CallID:      callID,
		TraceID:     traceID,
		Group:       e.groupName,
		Action:      action.Name,
		Transport:   e.transport,
		Members:     set.Size(),
		Values:      set.CountKind(group.RspValue),
		Faults:      set.CountKind(group.RspFault),
		Unreachable: set.CountKind(group.RspUnreachable),
		Absent:      set.CountKind(group.RspAbsent),
		DurationMs:  duration.Milliseconds(),
		Resolved:    resolved,
		Error:       errText,
	})

	if e.history == nil {
		return
	}
	hctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := DispatchRecord{
		CallID:      callID,
		Group:       e.groupName,
		Action:      action.Name,
		Transport:   e.transport,
		Members:     set.Size(),
		Values:      set.CountKind(group.RspValue),
		Faults:      set.CountKind(group.RspFault),
		Unreachable: set.CountKind(group.RspUnreachable),
		Absent:      set.CountKind(group.RspAbsent),
		Resolved:    resolved,
		Error:       errText,
		Duration:    duration,
		StartedAt:   start,
	}
	if err := e.history.RecordDispatch(hctx, rec); err != nil {
		logging.Op().Warn("record dispatch history failed", "call_id", callID, "error", err)
	}
}
