package scenario

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/carewatch/internal/audit"
	"github.com/ppiankov/carewatch/internal/config"
	"github.com/ppiankov/carewatch/internal/model"
	"github.com/ppiankov/carewatch/internal/pipeline"
)

// Run evaluates all cases in a scenario against cfg. Each case gets a fresh
// pipeline (new sandbox, in-memory audit) so cases are independent.
func Run(ctx context.Context, s *Scenario, cfg *config.Config) (*RunResult, error) {
	now := time.Now
	if s.Today != "" {
		day, err := time.Parse("2006-01-02", s.Today)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: today: %w", s.Name, err)
		}
		now = func() time.Time { return day }
	}
	base := *cfg
	if len(s.Patients) > 0 {
		base.Patients = s.Patients
	}

	result := &RunResult{Name: s.Name, Total: len(s.Cases)}

	for i, c := range s.Cases {
		mode := cfg.DispatchMode()
		if c.Mode != "" {
			mode = model.ParseMode(c.Mode)
		} else if s.Mode != "" {
			mode = model.ParseMode(s.Mode)
		}
		p, err := pipeline.Build(&base, pipeline.Options{
			Sink: audit.NewMemory(),
			Now:  now,
			Mode: mode,
		})
		if err != nil {
			return nil, fmt.Errorf("scenario %s case %d: %w", s.Name, i+1, err)
		}

		resp := converse(ctx, p, c)
		p.Close()

		cr := CaseResult{
			Index:    i + 1,
			Input:    c.Input,
			Expected: strings.ToUpper(c.Expect),
			Actual:   string(resp.Status),
		}
		cr.Detail = check(c, resp)
		if cr.Detail == "" && cr.Actual != cr.Expected {
			cr.Detail = describe(resp)
		}
		if cr.Actual == cr.Expected && cr.Detail == "" {
			cr.Passed = true
			result.Passed++
		} else {
			result.Failed++
		}
		result.Cases = append(result.Cases, cr)
	}

	return result, nil
}

func converse(ctx context.Context, p *pipeline.Pipeline, c Case) model.Response {
	state, resp := p.Orchestrator.Step(ctx, model.NewWorkflowState(""), c.Input)
	for _, answer := range c.Answers {
		if resp.Status != model.NeedsMoreInfo {
			break
		}
		state, resp = p.Orchestrator.Step(ctx, state, answer)
	}
	return resp
}

// check returns a mismatch description, or "" when every assertion holds.
func check(c Case, resp model.Response) string {
	var problems []string
	if c.Questions != nil && len(resp.Questions) != *c.Questions {
		problems = append(problems, fmt.Sprintf("expected %d questions, got %d", *c.Questions, len(resp.Questions)))
	}
	if c.FailureStep != "" || c.FailureKind != "" {
		switch {
		case resp.Failure == nil:
			problems = append(problems, "expected a failure, got none")
		case c.FailureStep != "" && resp.Failure.Step != c.FailureStep:
			problems = append(problems, fmt.Sprintf("expected failure at %s, got %s", c.FailureStep, resp.Failure.Step))
		case c.FailureKind != "" && string(resp.Failure.ErrorKind) != c.FailureKind:
			problems = append(problems, fmt.Sprintf("expected failure kind %s, got %s", c.FailureKind, resp.Failure.ErrorKind))
		}
	}

	results := resp.Results
	if results == nil {
		results = resp.CompletedResults
	}
	paths := make([]string, 0, len(c.Results))
	for path := range c.Results {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		got, ok := Lookup(results, path)
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: missing", path))
			continue
		}
		if fmt.Sprint(got) != c.Results[path] {
			problems = append(problems, fmt.Sprintf("%s: expected %q, got %q", path, c.Results[path], fmt.Sprint(got)))
		}
	}
	return strings.Join(problems, "; ")
}

func describe(resp model.Response) string {
	switch {
	case resp.Failure != nil:
		return fmt.Sprintf("%s: %s", resp.Failure.Step, resp.Failure.Detail)
	case resp.Reason != "":
		return resp.Reason
	case len(resp.Questions) > 0:
		return strings.Join(resp.Questions, " | ")
	default:
		return ""
	}
}

// Lookup walks a dotted path through nested maps and slices.
func Lookup(v any, path string) (any, bool) {
	cur := v
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = next
		case []map[string]any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Load parses a scenario YAML file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	return &s, nil
}

// LoadAndRun loads a scenario file and the config at configPath, and runs.
func LoadAndRun(ctx context.Context, path, configPath string) (*RunResult, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	result, err := Run(ctx, s, cfg)
	if err != nil {
		return nil, err
	}
	result.File = path
	return result, nil
}
