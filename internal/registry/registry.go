// Package registry holds the immutable catalogue of governed operations.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ppiankov/carewatch/internal/model"
)

// Param types.
const (
	TypeString = "string"
	TypeDate   = "date"
)

// DateLayout is the wire format of date parameters.
const DateLayout = "2006-01-02"

// Backend performs an operation. Backends never write audit events.
type Backend func(ctx context.Context, args map[string]any) (any, error)

// Param declares one named parameter of an operation.
type Param struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
	// Rule is a validator tag (e.g. "required,min=2") applied to the value.
	Rule     string `json:"rule,omitempty" yaml:"rule,omitempty"`
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// Operation is a named, schema-described backend call.
type Operation struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`
	Backend     Backend `json:"-"`
}

// Registry maps operation names to operations. It is built once and never
// mutated, so lookups need no locking.
type Registry struct {
	ops      map[string]*Operation
	order    []string
	validate *validator.Validate
}

// New builds a registry. Duplicate or empty names, operations without a
// backend and malformed parameter declarations are rejected.
func New(ops ...Operation) (*Registry, error) {
	r := &Registry{
		ops:      make(map[string]*Operation, len(ops)),
		validate: validator.New(),
	}
	for i := range ops {
		op := ops[i]
		if op.Name == "" {
			return nil, fmt.Errorf("registry: operation %d has no name", i)
		}
		if _, dup := r.ops[op.Name]; dup {
			return nil, fmt.Errorf("registry: duplicate operation %q", op.Name)
		}
		if op.Backend == nil {
			return nil, fmt.Errorf("registry: operation %q has no backend", op.Name)
		}
		seen := make(map[string]bool, len(op.Params))
		for _, p := range op.Params {
			if p.Name == "" || seen[p.Name] {
				return nil, fmt.Errorf("registry: operation %q: bad or duplicate parameter %q", op.Name, p.Name)
			}
			if p.Type != TypeString && p.Type != TypeDate {
				return nil, fmt.Errorf("registry: operation %q: parameter %q has unknown type %q", op.Name, p.Name, p.Type)
			}
			seen[p.Name] = true
		}
		op.Params = append([]Param(nil), op.Params...)
		r.ops[op.Name] = &op
		r.order = append(r.order, op.Name)
	}
	return r, nil
}

// Resolve returns the operation registered under name.
func (r *Registry) Resolve(name string) (*Operation, error) {
	op, ok := r.ops[name]
	if !ok {
		return nil, &model.NotFoundError{Name: name}
	}
	return op, nil
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Operations returns copies of all operations in registration order.
func (r *Registry) Operations() []Operation {
	out := make([]Operation, 0, len(r.order))
	for _, name := range r.order {
		op := *r.ops[name]
		op.Params = append([]Param(nil), op.Params...)
		out = append(out, op)
	}
	return out
}

// Validate checks args against op's declared parameters: every required
// parameter present, no undeclared parameter, every value satisfying its rule.
func (r *Registry) Validate(op *Operation, args map[string]any) error {
	declared := make(map[string]bool, len(op.Params))
	for _, p := range op.Params {
		declared[p.Name] = true
	}

	var extra []string
	for k := range args {
		if !declared[k] {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return &model.ValidationError{
			Tool:   op.Name,
			Param:  extra[0],
			Reason: "undeclared parameter (declared: " + strings.Join(paramNames(op.Params), ", ") + ")",
		}
	}

	for _, p := range op.Params {
		v, ok := args[p.Name]
		if !ok || v == nil {
			if p.Optional {
				continue
			}
			return &model.ValidationError{Tool: op.Name, Param: p.Name, Reason: "required parameter missing"}
		}
		s, ok := v.(string)
		if !ok {
			return &model.ValidationError{Tool: op.Name, Param: p.Name, Reason: fmt.Sprintf("expected string, got %T", v)}
		}
		if err := r.validate.Var(s, ruleFor(p)); err != nil {
			return &model.ValidationError{Tool: op.Name, Param: p.Name, Reason: describe(err)}
		}
	}
	return nil
}

func ruleFor(p Param) string {
	var parts []string
	if !p.Optional {
		parts = append(parts, "required")
	} else {
		parts = append(parts, "omitempty")
	}
	if p.Type == TypeDate {
		parts = append(parts, "datetime="+DateLayout)
	}
	if p.Rule != "" {
		for _, r := range strings.Split(p.Rule, ",") {
			if r != "required" && r != "omitempty" {
				parts = append(parts, r)
			}
		}
	}
	return strings.Join(parts, ",")
}

func describe(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return fmt.Sprintf("failed rule %s=%s", fe.Tag(), fe.Param())
		}
		return "failed rule " + fe.Tag()
	}
	return err.Error()
}

func paramNames(params []Param) []string {
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
	}
	return names
}
