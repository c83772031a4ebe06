// Package pipeline assembles the governance pipeline from configuration.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ppiankov/carewatch/internal/alert"
	"github.com/ppiankov/carewatch/internal/audit"
	"github.com/ppiankov/carewatch/internal/clinic"
	"github.com/ppiankov/carewatch/internal/config"
	"github.com/ppiankov/carewatch/internal/dispatch"
	"github.com/ppiankov/carewatch/internal/model"
	"github.com/ppiankov/carewatch/internal/registry"
	"github.com/ppiankov/carewatch/internal/workflow"
)

// Options override parts of the assembly. Zero values use the config.
type Options struct {
	// Backend replaces the sandbox backend.
	Backend clinic.Backend
	// Sink replaces the configured audit destinations.
	Sink   audit.Sink
	Logger *slog.Logger
	// Now is the slot engine clock.
	Now func() time.Time
	// Mode, when set, overrides the configured mode.
	Mode model.Mode
}

// Pipeline holds the wired components.
type Pipeline struct {
	Config       *config.Config
	Registry     *registry.Registry
	Dispatcher   *dispatch.Dispatcher
	Orchestrator *workflow.Orchestrator
	Recorder     *audit.Recorder
	Alerts       *alert.Dispatcher
	// Sandbox is set when no Backend option was given.
	Sandbox *clinic.Sandbox
	Logger  *slog.Logger
}

// Build wires the pipeline described by cfg.
func Build(cfg *config.Config, opts Options) (*Pipeline, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{Config: cfg, Logger: logger}

	backend := opts.Backend
	if backend == nil {
		p.Sandbox = clinic.NewSandbox(cfg.Patients...)
		backend = p.Sandbox
	}
	reg, err := clinic.NewRegistry(backend)
	if err != nil {
		return nil, err
	}
	p.Registry = reg

	sink := opts.Sink
	if sink == nil {
		if sink, err = OpenSinks(cfg.Audit); err != nil {
			return nil, err
		}
	}

	p.Alerts = alert.NewDispatcher(cfg.Alerts, logger)
	p.Recorder = audit.NewRecorder(audit.RecorderConfig{
		Sink:       sink,
		Logger:     logger,
		RedactKeys: cfg.Audit.RedactKeys,
		TextKeys:   cfg.Audit.TextKeys,
		Names:      cfg.Patients,
		OnFailure: func(ev model.AuditEvent, err error) {
			p.Alerts.Dispatch(alert.AlertEvent{
				Type:    alert.AuditWriteFailed,
				TraceID: ev.TraceID,
				Tool:    ev.Tool,
				Reason:  fmt.Sprintf("%s not recorded: %v", ev.Kind, err),
			})
		},
	})

	timeout, err := cfg.Timeout()
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	p.Dispatcher, err = dispatch.New(dispatch.Config{
		Registry: reg,
		Recorder: p.Recorder,
		Timeout:  timeout,
		Logger:   logger,
	})
	if err != nil {
		p.Close()
		return nil, err
	}

	engine, err := cfg.SlotEngine(opts.Now)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	mode := opts.Mode
	if mode == "" {
		mode = cfg.DispatchMode()
	}
	p.Orchestrator, err = workflow.New(workflow.Config{
		Gate:       cfg.Gate(),
		Slots:      engine,
		Dispatcher: p.Dispatcher,
		Recorder:   p.Recorder,
		Mode:       mode,
		Alerts:     p.Alerts,
		Logger:     logger,
	})
	if err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// OpenSinks opens the JSONL log and, when configured, the SQLite mirror.
func OpenSinks(cfg config.AuditConfig) (audit.Sink, error) {
	path := cfg.Path
	if path == "" {
		path = config.DefaultAuditPath()
	}
	log, err := audit.Open(path)
	if err != nil {
		return nil, err
	}
	if cfg.SQLitePath == "" {
		return log, nil
	}
	db, err := audit.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, errors.Join(err, log.Close())
	}
	return audit.Multi{log, db}, nil
}

// Reload applies the gate and slot settings of cfg to the running
// orchestrator. Registry, audit and mode are fixed for the process lifetime.
func (p *Pipeline) Reload(cfg *config.Config, now func() time.Time) error {
	engine, err := cfg.SlotEngine(now)
	if err != nil {
		return err
	}
	return p.Orchestrator.Reload(cfg.Gate(), engine)
}

// Close flushes alerts and closes the audit sinks.
func (p *Pipeline) Close() error {
	p.Alerts.Wait()
	if p.Recorder == nil {
		return nil
	}
	return p.Recorder.Close()
}
