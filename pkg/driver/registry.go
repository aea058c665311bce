package driver

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/fxctl/fxctl/pkg/engine"
)

// SourceDriver is the error source for registry failures.
const SourceDriver = "driver"

var namePattern = regexp.MustCompile(`^[a-z0-9-]+/[a-z0-9-]+$`)

// Registry maps "group/action" names to drivers.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

// Register adds a driver. Names must look like "group/action" and may only
// be registered once.
func (r *Registry) Register(name string, d Driver) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid driver name %q: expected group/action", name)
	}
	if d == nil {
		return fmt.Errorf("driver %s is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.drivers[name]; exists {
		return fmt.Errorf("driver %s already registered", name)
	}
	r.drivers[name] = d
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(name string, d Driver) {
	if err := r.Register(name, d); err != nil {
		panic(err)
	}
}

// Get returns the driver registered under name.
func (r *Registry) Get(name string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.drivers[name]
	if !ok {
		return nil, engine.NewUserError(SourceDriver, engine.NameDriverNotFound,
			fmt.Sprintf("driver %q is not registered", name)).WithDetail("driver", name)
	}
	return d, nil
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builtin driver names.
const (
	NameScriptRun   = "script/run"
	NameEnvGenerate = "env/generate"
	NameWasmRun     = "wasm/run"
	NameSFTPUpload  = "sftp/upload"
)

// NewBuiltinRegistry returns a registry holding every builtin driver.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(NameScriptRun, &ScriptDriver{})
	r.MustRegister(NameEnvGenerate, &EnvGenerateDriver{})
	r.MustRegister(NameWasmRun, NewWasmDriver())
	r.MustRegister(NameSFTPUpload, &SFTPUploadDriver{})
	return r
}
