package envstore

import (
	"os"
	"sync"

	"github.com/fxctl/fxctl/pkg/engine"
)

// ProcessEnv merges environment sets into the process environment and
// remembers what it overwrote.
//
// Values stay visible to child processes until Restore is called. A
// ProcessEnv is scoped to one operation; concurrent operations in the same
// process still share os.Environ and must not overlap.
type ProcessEnv struct {
	mu    sync.Mutex
	saved map[string]savedVar
}

type savedVar struct {
	value string
	set   bool
}

// NewProcessEnv creates an empty guard.
func NewProcessEnv() *ProcessEnv {
	return &ProcessEnv{saved: make(map[string]savedVar)}
}

// Merge sets every key in values, overwriting existing variables.
func (p *ProcessEnv) Merge(values map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, value := range values {
		if _, seen := p.saved[key]; !seen {
			prev, set := os.LookupEnv(key)
			p.saved[key] = savedVar{value: prev, set: set}
		}
		if err := os.Setenv(key, value); err != nil {
			return engine.NewSystemError(source, engine.NameUnhandled, "failed to set environment variable").
				WithCause(err).WithDetail("key", key)
		}
	}
	return nil
}

// Restore puts back every variable touched by Merge.
func (p *ProcessEnv) Restore() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for key, prev := range p.saved {
		var err error
		if prev.set {
			err = os.Setenv(key, prev.value)
		} else {
			err = os.Unsetenv(key)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.saved = make(map[string]savedVar)
	return firstErr
}

// Keys returns the variables touched since the last Restore.
func (p *ProcessEnv) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([]string, 0, len(p.saved))
	for k := range p.saved {
		keys = append(keys, k)
	}
	return keys
}
