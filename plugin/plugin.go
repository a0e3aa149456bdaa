// Package plugin describes auxiliary tools the bot can run on demand.
//
// Every plugin declares the functions it offers with a JSON-schema style
// Spec. Plugins are registered once at startup and invoked by function name
// through a Registry.
package plugin

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrUnknownFunction   = errors.New("unknown function")
	ErrDuplicateFunction = errors.New("function already registered")
	ErrMissingArgument   = errors.New("missing required argument")
)

type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

type Spec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  Schema `json:"parameters"`
}

func (s Spec) JSON() string {
	b, _ := json.MarshalIndent(s, "", "  ")
	return string(b)
}

// Check returns ErrMissingArgument unless every required parameter is set.
func (s Spec) Check(args map[string]any) error {
	for _, name := range s.Parameters.Required {
		v, ok := args[name]
		if !ok || v == nil {
			return errors.Wrapf(ErrMissingArgument, "%s: %s", s.Name, name)
		}
		if str, isStr := v.(string); isStr && str == "" {
			return errors.Wrapf(ErrMissingArgument, "%s: %s", s.Name, name)
		}
	}
	return nil
}

type Plugin interface {
	SourceName() string
	Specs() []Spec
	Execute(ctx context.Context, function string, args map[string]any) (string, error)
}

type entry struct {
	spec   Spec
	plugin Plugin
}

type Registry struct {
	mx        sync.RWMutex
	functions map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{functions: make(map[string]entry)}
}

// Register adds every function of p. Nothing is added if any name clashes.
func (r *Registry) Register(p Plugin) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	specs := p.Specs()
	for _, s := range specs {
		if _, ok := r.functions[s.Name]; ok {
			return errors.Wrapf(ErrDuplicateFunction, "%s from %s", s.Name, p.SourceName())
		}
	}
	for _, s := range specs {
		r.functions[s.Name] = entry{spec: s, plugin: p}
	}
	return nil
}

// Specs lists every registered function, sorted by name.
func (r *Registry) Specs() []Spec {
	r.mx.RLock()
	defer r.mx.RUnlock()

	out := make([]Spec, 0, len(r.functions))
	for _, e := range r.functions {
		out = append(out, e.spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Source names the plugin providing function.
func (r *Registry) Source(function string) (string, bool) {
	r.mx.RLock()
	defer r.mx.RUnlock()

	e, ok := r.functions[function]
	if !ok {
		return "", false
	}
	return e.plugin.SourceName(), true
}

// Execute runs function with args. Plugin errors are returned as they are;
// callers decide what the user sees.
func (r *Registry) Execute(ctx context.Context, function string, args map[string]any) (string, error) {
	r.mx.RLock()
	e, ok := r.functions[function]
	r.mx.RUnlock()
	if !ok {
		return "", errors.Wrap(ErrUnknownFunction, function)
	}
	if err := e.spec.Check(args); err != nil {
		return "", err
	}
	return e.plugin.Execute(ctx, function, args)
}
