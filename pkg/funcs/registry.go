// Package funcs is the symbol table callables cross the worker boundary
// through. A callable is transmitted by its registered name and resolved
// again inside the worker, which must carry the same registrations (the
// same binary, or one that imports the same registering packages).
package funcs

import (
	"fmt"
	"maps"
	"reflect"
	"regexp"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/nemanja-m/goparallel/pkg/core"
)

// lazySeparator joins a declared name and the sequence number of a symbol
// registered by Serialize for one function value.
const lazySeparator = "#"

// closureName matches the runtime names of function literals, method values
// and range-over-func bodies. Values sharing such a name may capture
// different state.
var closureName = regexp.MustCompile(`(\.func\d+|-fm|-range\d+)(\.\d+)*$`)

type Registry struct {
	mu        sync.RWMutex
	seq       uint64
	operators map[string]core.Func
	helpers   map[string]core.Helper
	libraries map[string]map[string]core.Helper
}

func NewRegistry() *Registry {
	return &Registry{
		operators: make(map[string]core.Func),
		helpers:   make(map[string]core.Helper),
		libraries: make(map[string]map[string]core.Helper),
	}
}

// Default is the process-wide registry used by the package level functions.
var Default = NewRegistry()

func (r *Registry) Register(name string, fn core.Func) error {
	if name == "" || fn == nil {
		return fmt.Errorf("invalid registration: name and function are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.operators[name]; exists {
		return fmt.Errorf("function already registered: %s", name)
	}
	r.operators[name] = fn
	return nil
}

func (r *Registry) RegisterHelper(name string, fn core.Helper) error {
	if name == "" || fn == nil {
		return fmt.Errorf("invalid registration: name and helper are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.helpers[name]; exists {
		return fmt.Errorf("helper already registered: %s", name)
	}
	r.helpers[name] = fn
	return nil
}

// RegisterLibrary registers a named group of helpers. Requiring the library
// by name binds every helper in it under its map key.
func (r *Registry) RegisterLibrary(name string, helpers map[string]core.Helper) error {
	if name == "" {
		return fmt.Errorf("invalid registration: library name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.libraries[name]; exists {
		return fmt.Errorf("library already registered: %s", name)
	}
	r.libraries[name] = maps.Clone(helpers)
	return nil
}

func (r *Registry) Lookup(symbol string) (core.Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.operators[symbol]
	return fn, ok
}

func (r *Registry) LookupHelper(symbol string) (core.Helper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.helpers[symbol]
	return fn, ok
}

func (r *Registry) LookupLibrary(name string) (map[string]core.Helper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lib, ok := r.libraries[name]
	return lib, ok
}

// Serialize returns the symbol fn is transmitted under. A declared function
// is registered under its name when it is not registered yet. A closure gets
// a symbol of its own on every call, since two closures of one literal share
// a name but not their captured state; Release drops it again.
func (r *Registry) Serialize(fn core.Func) (string, error) {
	name, err := NameOf(fn)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if IsClosure(name) {
		name = r.nextSymbol(name)
		r.operators[name] = fn
		return name, nil
	}
	if _, exists := r.operators[name]; !exists {
		r.operators[name] = fn
	}
	return name, nil
}

func (r *Registry) SerializeHelper(fn core.Helper) (string, error) {
	name, err := NameOf(fn)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if IsClosure(name) {
		name = r.nextSymbol(name)
		r.helpers[name] = fn
		return name, nil
	}
	if _, exists := r.helpers[name]; !exists {
		r.helpers[name] = fn
	}
	return name, nil
}

func (r *Registry) nextSymbol(name string) string {
	r.seq++
	return fmt.Sprintf("%s%s%d", name, lazySeparator, r.seq)
}

// Release removes a symbol returned by Serialize or SerializeHelper for a
// closure. Other symbols are left registered.
func (r *Registry) Release(symbol string) {
	if !IsLazy(symbol) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.operators, symbol)
	delete(r.helpers, symbol)
}

// List returns every registered function, helper and library name, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name := range r.operators {
		names = append(names, name)
	}
	for name := range r.helpers {
		names = append(names, name)
	}
	for name := range r.libraries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func Register(name string, fn core.Func) error {
	return Default.Register(name, fn)
}

func RegisterHelper(name string, fn core.Helper) error {
	return Default.RegisterHelper(name, fn)
}

func RegisterLibrary(name string, helpers map[string]core.Helper) error {
	return Default.RegisterLibrary(name, helpers)
}

// MustRegister registers fn under its declared name and returns it. It is
// meant for init functions and panics on duplicates.
func MustRegister(fn core.Func) string {
	name, err := NameOf(fn)
	if err != nil {
		panic(err)
	}
	if err := Default.Register(name, fn); err != nil {
		panic(err)
	}
	return name
}

func MustRegisterHelper(fn core.Helper) string {
	name, err := NameOf(fn)
	if err != nil {
		panic(err)
	}
	if err := Default.RegisterHelper(name, fn); err != nil {
		panic(err)
	}
	return name
}

func Lookup(symbol string) (core.Func, bool) {
	return Default.Lookup(symbol)
}

func List() []string {
	return Default.List()
}

// NameOf derives the symbol of a function value from its declaration.
func NameOf(fn any) (string, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return "", &core.SerializationError{Name: fmt.Sprintf("%T", fn), Message: fmt.Sprintf("cannot serialize %T: not a function", fn)}
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil || f.Name() == "" {
		return "", &core.SerializationError{Message: "cannot serialize function: no symbol information"}
	}
	return f.Name(), nil
}

// ShortName strips the package path from a symbol, leaving the declared name.
func ShortName(symbol string) string {
	symbol, _, _ = strings.Cut(symbol, lazySeparator)
	if i := strings.LastIndex(symbol, "/"); i >= 0 {
		symbol = symbol[i+1:]
	}
	if i := strings.LastIndex(symbol, "."); i >= 0 {
		symbol = symbol[i+1:]
	}
	return symbol
}

// IsClosure reports whether a runtime function name belongs to a function
// literal or a bound method value.
func IsClosure(name string) bool {
	return closureName.MatchString(name)
}

// IsLazy reports whether symbol was handed out for a single closure value.
func IsLazy(symbol string) bool {
	return strings.Contains(symbol, lazySeparator)
}
