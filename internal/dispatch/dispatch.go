// Package dispatch executes registered operations in dry-run or live mode
// and writes the paired audit events for every call.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ppiankov/carewatch/internal/model"
	"github.com/ppiankov/carewatch/internal/registry"
	"github.com/ppiankov/carewatch/internal/tracer"
)

// DefaultTimeout bounds a live backend call when none is configured.
const DefaultTimeout = 5 * time.Second

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carewatch_dispatch_total",
		Help: "Dispatches by tool, mode and outcome",
	}, []string{"tool", "mode", "outcome"})

	dispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "carewatch_dispatch_duration_seconds",
		Help:    "Live backend call latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	lateCompletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carewatch_dispatch_late_completions_total",
		Help: "Backend calls that finished after their deadline; results discarded",
	}, []string{"tool"})
)

// Recorder receives audit events. A non-nil return is a non-fatal warning.
type Recorder interface {
	Record(ev model.AuditEvent) *model.AuditWriteWarning
}

// Config configures a Dispatcher.
type Config struct {
	Registry *registry.Registry
	Recorder Recorder
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Dispatcher is the single path through which operations are executed.
// It is safe for concurrent use.
type Dispatcher struct {
	reg     *registry.Registry
	rec     Recorder
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("dispatch: registry is required")
	}
	if cfg.Recorder == nil {
		return nil, fmt.Errorf("dispatch: recorder is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		reg:     cfg.Registry,
		rec:     cfg.Recorder,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		now:     time.Now,
	}, nil
}

// Registry returns the registry the dispatcher resolves against.
func (d *Dispatcher) Registry() *registry.Registry {
	return d.reg
}

// Dispatch resolves and validates the operation, then executes it in mode.
//
// The returned error is non-nil only for *model.NotFoundError and
// *model.ValidationError, in which case nothing was audited. Backend
// failures are reported through DispatchResult.Error after a TOOL_FAILED
// event. The trace ID is taken from ctx (see tracer.WithTraceID).
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any, mode model.Mode) (*model.DispatchResult, error) {
	op, err := d.reg.Resolve(name)
	if err != nil {
		return nil, err
	}
	if err := d.reg.Validate(op, args); err != nil {
		dispatchTotal.WithLabelValues(name, string(mode), "invalid").Inc()
		return nil, err
	}
	if mode != model.Live {
		mode = model.DryRun
	}

	args = maps.Clone(args)
	if args == nil {
		args = map[string]any{}
	}
	res := &model.DispatchResult{Mode: mode, Tool: name, Arguments: args}
	span := spanRecorder{d: d, res: res, traceID: tracer.TraceIDFrom(ctx), spanID: tracer.NewSpanID()}

	selectedAt := span.emit(model.ToolSelected, time.Time{}, nil, nil)

	if mode == model.DryRun {
		res.Output = res.PlanView()
		span.emit(model.DryRunExecuted, selectedAt, res.Output, nil)
		dispatchTotal.WithLabelValues(name, string(mode), "dry_run").Inc()
		return res, nil
	}

	start := time.Now()
	out, callErr := d.call(ctx, op, args, span.spanID)
	dispatchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if callErr != nil {
		res.Error = model.DetailOf(callErr)
		span.emit(model.ToolFailed, selectedAt, nil, res.Error)
		dispatchTotal.WithLabelValues(name, string(mode), "failed").Inc()
		d.logger.Error("dispatch failed",
			"tool", name,
			"trace_id", span.traceID,
			"span_id", span.spanID,
			"kind", res.Error.Kind,
			"error", callErr)
		return res, nil
	}

	res.Output = out
	span.emit(model.ToolExecuted, selectedAt, out, nil)
	dispatchTotal.WithLabelValues(name, string(mode), "executed").Inc()
	return res, nil
}

// call runs the backend under the configured timeout. The backend runs in
// its own goroutine so a backend that ignores ctx cannot hold the caller
// past the deadline; panics are converted into backend errors. A backend
// that finishes after the deadline is logged and its result discarded.
func (d *Dispatcher) call(ctx context.Context, op *registry.Operation, args map[string]any, spanID string) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		out any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: model.NewBackendError(op.Name, fmt.Errorf("backend panic: %v", p))}
			}
		}()
		out, err := op.Backend(ctx, maps.Clone(args))
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, asBackendError(op.Name, o.err)
		}
		return o.out, nil
	case <-ctx.Done():
		traceID := tracer.TraceIDFrom(ctx)
		go func() {
			o := <-done
			lateCompletions.WithLabelValues(op.Name).Inc()
			d.logger.Warn("late backend completion",
				"tool", op.Name,
				"trace_id", traceID,
				"span_id", spanID,
				"succeeded", o.err == nil,
				"error", o.err)
		}()
		return nil, model.NewBackendError(op.Name, ctx.Err())
	}
}

func asBackendError(tool string, err error) error {
	var be *model.BackendError
	if errors.As(err, &be) {
		return err
	}
	return model.NewBackendError(tool, err)
}

// spanRecorder writes the events of one dispatch under a shared span ID.
type spanRecorder struct {
	d       *Dispatcher
	res     *model.DispatchResult
	traceID string
	spanID  string
}

// emit records one event and returns its timestamp. Completion events are
// never stamped before their SELECTED event.
func (s spanRecorder) emit(kind model.EventKind, notBefore time.Time, result any, errDetail *model.ErrorDetail) time.Time {
	ts := s.d.now().UTC()
	if ts.Before(notBefore) {
		ts = notBefore
	}
	warn := s.d.rec.Record(model.AuditEvent{
		Timestamp: ts,
		Kind:      kind,
		TraceID:   s.traceID,
		SpanID:    s.spanID,
		Tool:      s.res.Tool,
		Mode:      s.res.Mode,
		Arguments: s.res.Arguments,
		Result:    result,
		Error:     errDetail,
	})
	if warn != nil {
		s.res.Warnings = append(s.res.Warnings, warn.Error())
	}
	return ts
}
