// Package pipeline loads YAML pipeline definitions and runs them as a chain
// of parallel operators.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nemanja-m/goparallel/pkg/core"
	"github.com/nemanja-m/goparallel/pkg/funcs"
	"github.com/nemanja-m/goparallel/pkg/parallel"
)

// Definition is a pipeline file:
//
//	name: wordcount
//	input: lines
//	env:
//	  pattern: Gregor
//	require: [arith]
//	stages:
//	  - op: map
//	    fn: wordcount.Count
//	  - op: reduce
//	    fn: wordcount.Merge
type Definition struct {
	Name    string         `yaml:"name"`
	Input   string         `yaml:"input"`
	Env     map[string]any `yaml:"env"`
	Require []string       `yaml:"require"`
	Stages  []Stage        `yaml:"stages"`
}

type Stage struct {
	Op  core.Kind      `yaml:"op"`
	Fn  string         `yaml:"fn"`
	Env map[string]any `yaml:"env"`
}

func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) Validate() error {
	if len(d.Stages) == 0 {
		return errors.New("pipeline has no stages")
	}
	for i, stage := range d.Stages {
		if !stage.Op.Valid() {
			return fmt.Errorf("stage %d: unknown op %q", i, stage.Op)
		}
		if stage.Fn == "" {
			return fmt.Errorf("stage %d: fn is required", i)
		}
	}
	return nil
}

// Resolve finds the function registered under name. name is either a full
// symbol or a suffix of one such as "wordcount.Count".
func Resolve(registry *funcs.Registry, name string) (core.Func, error) {
	if fn, ok := registry.Lookup(name); ok {
		return fn, nil
	}

	var matches []string
	for _, symbol := range registry.List() {
		if strings.HasSuffix(symbol, "/"+name) {
			if _, ok := registry.Lookup(symbol); ok {
				matches = append(matches, symbol)
			}
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no function registered as %q", name)
	case 1:
		fn, _ := registry.Lookup(matches[0])
		return fn, nil
	default:
		return nil, fmt.Errorf("%q is ambiguous: %s", name, strings.Join(matches, ", "))
	}
}

// Apply chains the definition's requirements and stages onto p and returns
// the final stage. Every function is resolved before anything is chained.
func (d *Definition) Apply(p *parallel.Parallel, registry *funcs.Registry) (*parallel.Parallel, error) {
	fns := make([]core.Func, len(d.Stages))
	for i, stage := range d.Stages {
		fn, err := Resolve(registry, stage.Fn)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		fns[i] = fn
	}

	if len(d.Require) > 0 {
		items := make([]any, len(d.Require))
		for i, name := range d.Require {
			items[i] = name
		}
		p.Require(items...)
	}

	stage := p
	for i, s := range d.Stages {
		var env []map[string]any
		if s.Env != nil {
			env = append(env, s.Env)
		}
		switch s.Op {
		case core.KindSpawn:
			stage = stage.Spawn(fns[i], env...)
		case core.KindMap:
			stage = stage.Map(fns[i], env...)
		case core.KindReduce:
			stage = stage.Reduce(fns[i], env...)
		}
	}
	return stage, nil
}

// Run applies the definition to p and waits for the result.
func (d *Definition) Run(ctx context.Context, p *parallel.Parallel, registry *funcs.Registry) (any, error) {
	stage, err := d.Apply(p, registry)
	if err != nil {
		return nil, err
	}
	return stage.Wait(ctx)
}
