package core

import "maps"

// Scope is the per-task view a callable gets inside a worker. It is built
// fresh for every task, so bindings never leak between tasks.
type Scope struct {
	namespace string
	env       map[string]any
	helpers   map[string]Helper
}

func NewScope(namespace string, env map[string]any, helpers map[string]Helper) *Scope {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if env == nil {
		env = map[string]any{}
	}
	return &Scope{
		namespace: namespace,
		env:       env,
		helpers:   maps.Clone(helpers),
	}
}

// Env returns the merged environment of the task.
func (s *Scope) Env() map[string]any {
	return s.env
}

// Global resolves a global binding by name. Only the configured environment
// namespace is bound.
func (s *Scope) Global(name string) (map[string]any, bool) {
	if name != s.namespace {
		return nil, false
	}
	return s.env, true
}

func (s *Scope) Namespace() string {
	return s.namespace
}

// Has reports whether a helper is bound under name.
func (s *Scope) Has(name string) bool {
	_, ok := s.helpers[name]
	return ok
}

// Call invokes the helper bound under name.
func (s *Scope) Call(name string, args ...any) (any, error) {
	fn, ok := s.helpers[name]
	if !ok || fn == nil {
		return nil, &UndefinedError{Name: name}
	}
	return fn(args...)
}
