// Package workflow runs the booking workflow: gate, fill, then the fixed
// step sequence through the dispatcher.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ppiankov/carewatch/internal/alert"
	"github.com/ppiankov/carewatch/internal/dispatch"
	"github.com/ppiankov/carewatch/internal/intent"
	"github.com/ppiankov/carewatch/internal/model"
	"github.com/ppiankov/carewatch/internal/registry"
	"github.com/ppiankov/carewatch/internal/slots"
	"github.com/ppiankov/carewatch/internal/tracer"
)

var workflowTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "carewatch_workflow_total",
	Help: "Workflow turns by resulting status",
}, []string{"status"})

// Notifier receives alert events. *alert.Dispatcher implements it.
type Notifier interface {
	Dispatch(event alert.AlertEvent)
}

// Config wires an Orchestrator.
type Config struct {
	Gate       *intent.Gate
	Slots      *slots.Engine
	Dispatcher *dispatch.Dispatcher
	// Recorder audits refusals. Usually the dispatcher's recorder.
	Recorder dispatch.Recorder
	Mode     model.Mode
	Alerts   Notifier
	Logger   *slog.Logger
}

type policy struct {
	gate  *intent.Gate
	slots *slots.Engine
}

// Orchestrator is stateless between calls: conversation state lives in the
// caller's WorkflowState. It is safe for concurrent use.
type Orchestrator struct {
	policy atomic.Pointer[policy]
	disp   *dispatch.Dispatcher
	rec    dispatch.Recorder
	mode   model.Mode
	alerts Notifier
	logger *slog.Logger
}

// New validates the wiring and returns an Orchestrator. Every workflow step
// must resolve to a registered operation whose parameters match what the
// step supplies, and the slot engine must provide every slot the steps read.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Gate == nil || cfg.Slots == nil || cfg.Dispatcher == nil || cfg.Recorder == nil {
		return nil, fmt.Errorf("workflow: gate, slots, dispatcher and recorder are required")
	}
	if err := checkSteps(cfg.Dispatcher.Registry()); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	o := &Orchestrator{
		disp:   cfg.Dispatcher,
		rec:    cfg.Recorder,
		mode:   cfg.Mode,
		alerts: cfg.Alerts,
		logger: cfg.Logger,
	}
	if o.mode != model.Live {
		o.mode = model.DryRun
	}
	if err := o.Reload(cfg.Gate, cfg.Slots); err != nil {
		return nil, err
	}
	return o, nil
}

// Reload atomically swaps the gate and slot engine. In-flight turns finish
// with the configuration they started with.
func (o *Orchestrator) Reload(gate *intent.Gate, engine *slots.Engine) error {
	have := make(map[string]bool)
	for _, n := range engine.Names() {
		have[n] = true
	}
	for _, need := range []string{SlotPatient, SlotDepartment, SlotTime} {
		if !have[need] {
			return fmt.Errorf("workflow: slot configuration lacks required slot %q", need)
		}
	}
	o.policy.Store(&policy{gate: gate, slots: engine})
	return nil
}

// Mode returns the default dispatch mode.
func (o *Orchestrator) Mode() model.Mode {
	return o.mode
}

// Handle runs a single-shot request.
func (o *Orchestrator) Handle(ctx context.Context, text string) model.Response {
	_, resp := o.Step(ctx, model.WorkflowState{Status: model.Pending}, text)
	return resp
}

// Step advances the conversation by one turn in the default mode.
func (o *Orchestrator) Step(ctx context.Context, prev model.WorkflowState, input string) (model.WorkflowState, model.Response) {
	return o.StepMode(ctx, prev, input, o.mode)
}

// StepMode is Step with an explicit dispatch mode.
//
// Input is appended to the accumulated text of a PENDING or NEEDS_MORE_INFO
// state. A terminal previous state (REFUSED, COMPLETED, FAILED) starts a
// new request.
func (o *Orchestrator) StepMode(ctx context.Context, prev model.WorkflowState, input string, mode model.Mode) (model.WorkflowState, model.Response) {
	text := strings.TrimSpace(input)
	if !prev.Status.Terminal() {
		text = strings.TrimSpace(prev.Text + " " + input)
	}

	traceID := tracer.TraceIDFrom(ctx)
	if traceID == "" {
		traceID = tracer.NewTraceID()
		ctx = tracer.WithTraceID(ctx, traceID)
	}

	state, resp := o.step(ctx, traceID, text, mode)
	resp.TraceID = traceID
	workflowTotal.WithLabelValues(string(resp.Status)).Inc()
	return state, resp
}

func (o *Orchestrator) step(ctx context.Context, traceID, text string, mode model.Mode) (model.WorkflowState, model.Response) {
	p := o.policy.Load()
	state := model.WorkflowState{Text: text}

	decision := p.gate.Classify(text)
	if !decision.Allowed {
		state.Status = model.Refused
		resp := model.Response{
			Status:         model.Refused,
			Reason:         decision.Reason,
			AllowedActions: decision.AllowedActions,
		}
		if warn := o.rec.Record(model.AuditEvent{
			Kind:      model.RequestRefused,
			TraceID:   traceID,
			Arguments: map[string]any{"text": text},
			Reason:    decision.Reason,
		}); warn != nil {
			resp.Warnings = append(resp.Warnings, warn.Error())
		}
		o.notify(alert.AlertEvent{Type: alert.RequestRefused, TraceID: traceID, Reason: decision.Reason})
		o.logger.Info("request refused", "trace_id", traceID)
		return state, resp
	}

	filled := p.slots.Evaluate(text)
	state.Resolved = filled.Resolved
	if !filled.Ready {
		state.Status = model.NeedsMoreInfo
		return state, model.Response{Status: model.NeedsMoreInfo, Questions: filled.Questions}
	}

	state.Status = model.Ready
	resp := o.execute(ctx, traceID, filled.Resolved, mode)
	state.Status = resp.Status
	return state, resp
}

// execute runs the booking steps, stopping at the first failure.
func (o *Orchestrator) execute(ctx context.Context, traceID string, resolved map[string]string, mode model.Mode) model.Response {
	r := &run{mode: mode, resolved: resolved}
	if mode == model.DryRun {
		r.patientID, r.slotID = RefPatientID, RefSlotID
	}
	results := make(map[string]any, len(bookingSteps))
	var warnings []string

	for _, s := range bookingSteps {
		fail := func(kind model.ErrorKind, detail string) model.Response {
			f := &model.Failure{Step: s.name, ErrorKind: kind, Detail: detail}
			o.logger.Error("workflow failed", "trace_id", traceID, "step", s.name, "kind", kind, "detail", detail)
			o.notify(alert.AlertEvent{Type: alert.WorkflowFailed, TraceID: traceID, Tool: s.tool, Step: s.name, ErrorKind: string(kind), Reason: detail})
			return model.Response{Status: model.Failed, CompletedResults: results, Failure: f, Warnings: warnings}
		}

		args, err := s.build(r)
		if err != nil {
			return fail(model.KindOf(err), err.Error())
		}
		res, err := o.disp.Dispatch(ctx, s.tool, args, mode)
		if err != nil {
			return fail(model.KindOf(err), err.Error())
		}
		warnings = append(warnings, res.Warnings...)
		if res.Error != nil {
			return fail(res.Error.Kind, res.Error.Detail)
		}
		results[s.name] = res.Output

		if mode == model.Live && s.absorb != nil {
			if err := s.absorb(r, res.Output); err != nil {
				return fail(model.KindBackend, err.Error())
			}
		}
	}

	return model.Response{Status: model.Completed, Results: results, Warnings: warnings}
}

func (o *Orchestrator) notify(ev alert.AlertEvent) {
	if o.alerts != nil {
		o.alerts.Dispatch(ev)
	}
}

// checkSteps verifies that every step's tool is registered and that the
// arguments it builds match the declared parameters exactly.
func checkSteps(reg *registry.Registry) error {
	sample := &run{
		mode:      model.DryRun,
		resolved:  map[string]string{SlotPatient: "x", SlotDepartment: "x", SlotTime: "2000-01-01"},
		patientID: RefPatientID,
		slotID:    RefSlotID,
	}
	for _, s := range bookingSteps {
		op, err := reg.Resolve(s.tool)
		if err != nil {
			return fmt.Errorf("workflow: step %s: %w", s.name, err)
		}
		args, err := s.build(sample)
		if err != nil {
			return fmt.Errorf("workflow: step %s: %w", s.name, err)
		}
		declared := make(map[string]bool, len(op.Params))
		for _, p := range op.Params {
			declared[p.Name] = true
			if _, ok := args[p.Name]; !ok && !p.Optional {
				return fmt.Errorf("workflow: step %s does not supply required parameter %q of %s", s.name, p.Name, s.tool)
			}
		}
		for k := range args {
			if !declared[k] {
				return fmt.Errorf("workflow: step %s supplies undeclared parameter %q to %s", s.name, k, s.tool)
			}
		}
	}
	return nil
}
