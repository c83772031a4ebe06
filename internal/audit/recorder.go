package audit

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ppiankov/carewatch/internal/model"
	"github.com/ppiankov/carewatch/internal/redact"
)

var (
	eventsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carewatch_audit_events_total",
		Help: "Audit events successfully appended, by event kind",
	}, []string{"event"})

	writeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carewatch_audit_write_failures_total",
		Help: "Audit appends that failed and were reported on the fallback channel",
	}, []string{"event"})
)

// Recorder applies the audit failure policy on top of a Sink: a failed
// append never fails the caller, but it is always logged, counted and
// handed to OnFailure (webhook alerts).
type Recorder struct {
	sink      Sink
	logger    *slog.Logger
	redactor  redact.Redactor
	onFailure func(ev model.AuditEvent, err error)
	now       func() time.Time
}

// RecorderConfig configures a Recorder. Only Sink is required.
type RecorderConfig struct {
	Sink       Sink
	Logger     *slog.Logger
	RedactKeys []string
	// TextKeys name free-text fields scanned for PHI, such as the
	// request text of a refusal. Names extends the scan with known patients.
	TextKeys   []string
	Names      []string
	OnFailure  func(ev model.AuditEvent, err error)
}

// NewRecorder builds a Recorder. A nil sink discards events; a nil logger
// uses slog.Default.
func NewRecorder(cfg RecorderConfig) *Recorder {
	r := &Recorder{
		sink:      cfg.Sink,
		logger:    cfg.Logger,
		redactor:  redact.New(cfg.RedactKeys, cfg.TextKeys, cfg.Names),
		onFailure: cfg.OnFailure,
		now:       time.Now,
	}
	if r.sink == nil {
		r.sink = Discard{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Record stamps, redacts and appends ev. It returns a warning instead of an
// error when the sink fails; nil means the event is durably appended.
func (r *Recorder) Record(ev model.AuditEvent) *model.AuditWriteWarning {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now().UTC()
	}
	ev.Arguments = r.redactor.Map(ev.Arguments)
	ev.Result = r.redactor.Value(ev.Result)

	err := r.sink.Record(ev)
	if err == nil {
		eventsRecorded.WithLabelValues(string(ev.Kind)).Inc()
		return nil
	}

	writeFailures.WithLabelValues(string(ev.Kind)).Inc()
	r.logger.Warn("audit write failed",
		"event", ev.Kind,
		"tool", ev.Tool,
		"trace_id", ev.TraceID,
		"span_id", ev.SpanID,
		"error", err)
	if r.onFailure != nil {
		r.onFailure(ev, err)
	}
	return &model.AuditWriteWarning{Event: ev.Kind, Err: err}
}

// Close closes the underlying sink.
func (r *Recorder) Close() error {
	return r.sink.Close()
}
