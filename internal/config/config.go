// Package config loads carewatch configuration from YAML.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/carewatch/internal/alert"
	"github.com/ppiankov/carewatch/internal/clinic"
	"github.com/ppiankov/carewatch/internal/intent"
	"github.com/ppiankov/carewatch/internal/model"
	"github.com/ppiankov/carewatch/internal/redact"
	"github.com/ppiankov/carewatch/internal/slots"
)

// AuditConfig selects audit destinations.
type AuditConfig struct {
	Path       string   `yaml:"path"`
	SQLitePath string   `yaml:"sqlite_path"`
	RedactKeys []string `yaml:"redact_keys"`
	TextKeys   []string `yaml:"text_keys"`
}

// IntentConfig configures the intent gate.
type IntentConfig struct {
	Keywords       []string `yaml:"keywords"`
	AllowedActions []string `yaml:"allowed_actions"`
	RefusalReason  string   `yaml:"refusal_reason"`
}

// Config holds all configurable parameters.
type Config struct {
	Mode           string              `yaml:"mode"`
	BackendTimeout string              `yaml:"backend_timeout"`
	Audit          AuditConfig         `yaml:"audit"`
	Intent         IntentConfig        `yaml:"intent"`
	Slots          []slots.Spec        `yaml:"slots"`
	Patients       []string            `yaml:"patients"`
	Alerts         []alert.AlertConfig `yaml:"alerts"`
}

// DefaultConfig returns the built-in configuration: dry-run, 5s backend
// timeout, the booking keywords and questions, and the sandbox roster.
func DefaultConfig() *Config {
	return &Config{
		Mode:           "dry_run",
		BackendTimeout: "5s",
		Audit: AuditConfig{
			Path:       DefaultAuditPath(),
			RedactKeys: append([]string(nil), redact.DefaultPHIKeys...),
			TextKeys:   append([]string(nil), redact.DefaultTextKeys...),
		},
		Intent: IntentConfig{
			Keywords:       append([]string(nil), intent.DefaultKeywords...),
			AllowedActions: append([]string(nil), intent.DefaultAllowedActions...),
			RefusalReason:  intent.DefaultRefusalReason,
		},
		Slots:    slots.DefaultSpecs(),
		Patients: append([]string(nil), clinic.DefaultPatients...),
	}
}

// Dir returns ~/.carewatch, or "." when the home directory is unknown.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".carewatch")
}

// DefaultPath is where Load looks when given an empty path.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// DefaultAuditPath is the default JSONL audit log location.
func DefaultAuditPath() string {
	return filepath.Join(Dir(), "audit.jsonl")
}

// Load reads configuration from a YAML file.
// Empty path falls back to ~/.carewatch/config.yaml.
// Missing file returns defaults. Invalid YAML or values return an error.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash is Load plus the SHA-256 of the raw file bytes. When no
// file exists the hash is that of empty input.
func LoadWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), hashOf(nil), nil
		}
		return nil, "", fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, "", fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, hashOf(data), nil
}

// Parse overlays YAML onto the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	cfg.Audit.Path = ExpandHome(cfg.Audit.Path)
	cfg.Audit.SQLitePath = ExpandHome(cfg.Audit.SQLitePath)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Mode {
	case "dry_run", "DRY_RUN", "live", "LIVE":
	default:
		return fmt.Errorf("unknown mode %q (want dry_run or live)", c.Mode)
	}
	if _, err := c.Timeout(); err != nil {
		return err
	}
	if _, err := slots.Build(c.Slots, c.Patients, nil); err != nil {
		return err
	}
	for i, a := range c.Alerts {
		if a.URL == "" {
			return fmt.Errorf("alerts[%d]: url is required", i)
		}
		for _, ev := range a.Events {
			switch ev {
			case alert.RequestRefused, alert.WorkflowFailed, alert.AuditWriteFailed:
			default:
				return fmt.Errorf("alerts[%d]: unknown event %q", i, ev)
			}
		}
	}
	return nil
}

// DispatchMode returns the configured mode.
func (c *Config) DispatchMode() model.Mode {
	return model.ParseMode(c.Mode)
}

// Timeout parses backend_timeout. Empty means the dispatcher default.
func (c *Config) Timeout() (time.Duration, error) {
	if c.BackendTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.BackendTimeout)
	if err != nil {
		return 0, fmt.Errorf("backend_timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("backend_timeout must be positive, got %s", d)
	}
	return d, nil
}

// Gate builds the intent gate.
func (c *Config) Gate() *intent.Gate {
	return intent.New(intent.Config{
		Keywords:       c.Intent.Keywords,
		AllowedActions: c.Intent.AllowedActions,
		RefusalReason:  c.Intent.RefusalReason,
	})
}

// SlotEngine builds the slot-filling engine with now as its clock.
func (c *Config) SlotEngine(now func() time.Time) (*slots.Engine, error) {
	s, err := slots.Build(c.Slots, c.Patients, now)
	if err != nil {
		return nil, err
	}
	return slots.NewEngine(s), nil
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

func hashOf(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// DefaultYAML returns a commented YAML file for init-config.
func DefaultYAML() string {
	return `# carewatch configuration
# Generated by: carewatch init-config
#
# Every request passes, in order:
#   1. Intent gate      -> REFUSED (audited) when no keyword matches
#   2. Slot filling     -> NEEDS_MORE_INFO with one question per missing slot
#   3. Booking workflow -> patient, insurance, slots, appointment

# dry_run validates and audits the whole plan without calling the backend.
# live executes it.
mode: dry_run

# Upper bound for a single backend call.
backend_timeout: 5s

audit:
  # Hash-chained JSONL log (verify with: carewatch audit verify)
  path: ~/.carewatch/audit.jsonl
  # Optional queryable SQLite mirror
  sqlite_path: ""
  # Argument and result keys masked before anything is written
  redact_keys: [name, dob, date_of_birth]
  # Free-text keys scanned for names, emails, phones, dates and SSNs
  text_keys: [text]

intent:
  keywords: [book, schedule, appointment, follow-up]
  allowed_actions:
    - Appointment booking
    - Follow-up scheduling
    - Insurance eligibility checks
  refusal_reason: "Input is not a clinical or operational request."

# Asked in this order. kind: roster (matches patients below),
# keyword (values map trigger word -> canonical value), date.
slots:
  - name: patient
    kind: roster
    question: "What is the patient's full name?"
  - name: department
    kind: keyword
    question: "Which department or specialty is the appointment for?"
    values:
      cardiology: Cardiology
      neurology: Neurology
      orthopedic: Orthopedic
  - name: time
    kind: date
    question: "When would you like to schedule the appointment?"

patients:
  - Ravi Kumar

# Webhooks. events: request_refused, workflow_failed, audit_write_failed
# format: generic | slack | pagerduty
alerts: []
`
}
