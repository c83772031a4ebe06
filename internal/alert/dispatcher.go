package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ppiankov/carewatch/internal/tracer"
)

// deliveryBudget bounds one webhook delivery including retries.
const deliveryBudget = 15 * time.Second

// Dispatcher fans out alert events to matching webhook configurations.
type Dispatcher struct {
	configs []AlertConfig
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty (callers should nil-check).
func NewDispatcher(configs []AlertConfig, logger *slog.Logger) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{configs: configs, logger: logger}
}

// Dispatch sends the event to all webhooks whose Events list contains its
// type. Sends run in goroutines and never block the caller.
func (d *Dispatcher) Dispatch(event AlertEvent) {
	if d == nil {
		return
	}
	if event.Timestamp == "" {
		event.Timestamp = tracer.UTCNowISO()
	}
	for _, cfg := range d.configs {
		if !matches(cfg.Events, event) {
			continue
		}
		d.wg.Add(1)
		go func(cfg AlertConfig) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), deliveryBudget)
			defer cancel()
			if err := Send(ctx, cfg, event); err != nil {
				d.logger.Warn("alert delivery failed", "url", cfg.URL, "type", event.Type, "error", err)
			}
		}(cfg)
	}
}

// Wait blocks until in-flight sends finish. Called before process exit.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func matches(events []string, event AlertEvent) bool {
	for _, e := range events {
		if e == event.Type {
			return true
		}
	}
	return false
}
