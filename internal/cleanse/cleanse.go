// Package cleanse applies named cleansing rules to source columns before
// resolution. Rules live in an explicitly constructed registry and are bound
// to their arguments up front, so a bad rule name or arity fails when the
// pipeline is compiled, not per record.
package cleanse

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sagepoint-data/identity-cli/internal/model"
	"github.com/sagepoint-data/identity-cli/internal/normalize"
)

// Func transforms one column value.
type Func func(value string) string

// Builder validates args and returns the bound rule function.
type Builder func(args []string) (Func, error)

// Registry maps rule names to builders. Construct one and pass it by
// reference; there is no process-wide registry.
type Registry struct {
	builders map[string]Builder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds a rule builder. Duplicate names are an error.
func (r *Registry) Register(name string, b Builder) error {
	if name == "" || b == nil {
		return eris.New("cleanse: rule name and builder are required")
	}
	if _, exists := r.builders[name]; exists {
		return eris.Errorf("cleanse: rule %q already registered", name)
	}
	r.builders[name] = b
	return nil
}

// Bind looks a rule up by name and binds its arguments.
func (r *Registry) Bind(name string, args []string) (Func, error) {
	b, ok := r.builders[name]
	if !ok {
		return nil, eris.Errorf("cleanse: unknown rule %q", name)
	}
	f, err := b(args)
	if err != nil {
		return nil, eris.Wrapf(err, "cleanse: bind rule %q", name)
	}
	return f, nil
}

func exactArgs(name string, n int, args []string) error {
	if len(args) != n {
		return eris.Errorf("rule %q takes %d argument(s), got %d", name, n, len(args))
	}
	return nil
}

// DefaultRegistry returns a registry preloaded with the standard rules:
//
//	trim              — strip surrounding whitespace
//	upper             — uppercase
//	normalize_key     — full key canonicalization
//	strip_prefix(p)   — remove a leading literal
//	strip_suffix(s)   — remove a trailing literal
//	replace(old, new) — replace every occurrence
//	pad_left(n, c)    — left-pad to n runes with c (plan codes, account numbers)
//	default(v)        — substitute v when the value is empty
func DefaultRegistry() *Registry {
	r := NewRegistry()

	must := func(name string, b Builder) {
		if err := r.Register(name, b); err != nil {
			panic(err)
		}
	}

	must("trim", func(args []string) (Func, error) {
		if err := exactArgs("trim", 0, args); err != nil {
			return nil, err
		}
		return strings.TrimSpace, nil
	})
	must("upper", func(args []string) (Func, error) {
		if err := exactArgs("upper", 0, args); err != nil {
			return nil, err
		}
		return strings.ToUpper, nil
	})
	must("normalize_key", func(args []string) (Func, error) {
		if err := exactArgs("normalize_key", 0, args); err != nil {
			return nil, err
		}
		return normalize.Key, nil
	})
	must("strip_prefix", func(args []string) (Func, error) {
		if err := exactArgs("strip_prefix", 1, args); err != nil {
			return nil, err
		}
		prefix := args[0]
		return func(v string) string { return strings.TrimPrefix(v, prefix) }, nil
	})
	must("strip_suffix", func(args []string) (Func, error) {
		if err := exactArgs("strip_suffix", 1, args); err != nil {
			return nil, err
		}
		suffix := args[0]
		return func(v string) string { return strings.TrimSuffix(v, suffix) }, nil
	})
	must("replace", func(args []string) (Func, error) {
		if err := exactArgs("replace", 2, args); err != nil {
			return nil, err
		}
		oldStr, newStr := args[0], args[1]
		return func(v string) string { return strings.ReplaceAll(v, oldStr, newStr) }, nil
	})
	must("pad_left", func(args []string) (Func, error) {
		if err := exactArgs("pad_left", 2, args); err != nil {
			return nil, err
		}
		width, err := strconv.Atoi(args[0])
		if err != nil || width <= 0 {
			return nil, eris.Errorf("rule %q needs a positive width, got %q", "pad_left", args[0])
		}
		if len([]rune(args[1])) != 1 {
			return nil, eris.Errorf("rule %q needs a single pad rune, got %q", "pad_left", args[1])
		}
		pad := args[1]
		return func(v string) string {
			for len([]rune(v)) < width {
				v = pad + v
			}
			return v
		}, nil
	})
	must("default", func(args []string) (Func, error) {
		if err := exactArgs("default", 1, args); err != nil {
			return nil, err
		}
		fallback := args[0]
		return func(v string) string {
			if v == "" {
				return fallback
			}
			return v
		}, nil
	})

	return r
}

// Step names one rule application against one column.
type Step struct {
	Column string   `yaml:"column"`
	Rule   string   `yaml:"rule"`
	Args   []string `yaml:"args"`
}

// Pipeline is a compiled, ordered sequence of bound rule applications.
type Pipeline struct {
	steps []boundStep
}

type boundStep struct {
	column string
	fn     Func
}

// Compile binds every step against the registry. Any unknown rule or bad
// argument list fails here, before a single record is touched.
func Compile(reg *Registry, steps []Step) (*Pipeline, error) {
	p := &Pipeline{steps: make([]boundStep, 0, len(steps))}
	for i, s := range steps {
		if s.Column == "" {
			return nil, eris.Errorf("cleanse: step %d has an empty column", i)
		}
		fn, err := reg.Bind(s.Rule, s.Args)
		if err != nil {
			return nil, err
		}
		p.steps = append(p.steps, boundStep{column: s.Column, fn: fn})
	}
	return p, nil
}

// Apply runs the pipeline over every record in place, in step order.
func (p *Pipeline) Apply(records []model.BusinessRecord) {
	for i := range records {
		for _, s := range p.steps {
			records[i].Set(s.column, s.fn(records[i].Get(s.column)))
		}
	}
}
