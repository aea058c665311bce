package policy

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Loader reads policy files. A .rego file is one policy named after the file;
// .json, .yaml and .yml files hold a full Policy definition.
//
// Parsed files are cached until their size or modification time changes.
type Loader struct {
	logger zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedPolicy
}

type cachedPolicy struct {
	modTime time.Time
	size    int64
	policy  *Policy
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		cache:  make(map[string]cachedPolicy),
	}
}

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// LoadFromPaths loads every policy file below paths, in walk order.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var policies []Policy
	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() || (path != root && !isPolicyFile(path)) {
				return nil
			}
			p, err := l.Load(path)
			if err != nil {
				return err
			}
			policies = append(policies, *p)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load policies from %s: %w", root, err)
		}
	}

	l.logger.Debug().Int("total", len(policies)).Int("sources", len(paths)).Msg("Policies loaded")
	return policies, nil
}

// Load reads one policy file.
func (l *Loader) Load(path string) (*Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	c, ok := l.cache[path]
	l.mu.Unlock()
	if ok && c.size == info.Size() && c.modTime.Equal(info.ModTime()) {
		return c.policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p *Policy
	switch filepath.Ext(path) {
	case ".rego":
		p, err = parseRego(path, data)
	case ".json", ".yaml", ".yml":
		p, err = parseDefinition(data)
	default:
		err = fmt.Errorf("unsupported policy file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.Source = path

	l.mu.Lock()
	l.cache[path] = cachedPolicy{modTime: info.ModTime(), size: info.Size(), policy: p}
	l.mu.Unlock()

	l.logger.Debug().Str("path", path).Str("policy", p.Name).Msg("Policy file parsed")
	return p, nil
}

// parseRego builds a policy from a Rego module. A package-scoped METADATA
// block may set the description and, as a custom "severity" field, the
// default severity. Without metadata the leading comment block is the
// description.
func parseRego(path string, data []byte) (*Policy, error) {
	module, err := ast.ParseModuleWithOpts(path, string(data), ast.ParserOptions{
		ProcessAnnotation: true,
		RegoVersion:       ast.RegoV1,
	})
	if err != nil {
		return nil, err
	}

	p := &Policy{
		Name:     strings.TrimSuffix(filepath.Base(path), ".rego"),
		Rego:     string(data),
		Severity: SeverityError,
		Enabled:  true,
	}

	for _, a := range module.Annotations {
		if a.Scope != "package" {
			continue
		}
		p.Description = a.Description
		if p.Description == "" {
			p.Description = a.Title
		}
		if s, ok := a.Custom["severity"].(string); ok && s != "" {
			p.Severity = Severity(s)
		}
	}
	if p.Description == "" {
		p.Description = leadingComment(string(data))
	}
	return p, nil
}

// parseDefinition decodes a JSON or YAML policy definition.
func parseDefinition(data []byte) (*Policy, error) {
	p := Policy{Enabled: true}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid policy definition: %w", err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("policy definition has no name")
	}
	if p.Rego == "" {
		return nil, fmt.Errorf("policy %s has no rego", p.Name)
	}
	if p.Severity == "" {
		p.Severity = SeverityError
	}
	return &p, nil
}

// leadingComment joins the comment lines before the first statement.
func leadingComment(src string) string {
	var parts []string
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "#") {
			if line != "" || len(parts) > 0 {
				break
			}
			continue
		}
		if c := strings.TrimSpace(strings.TrimPrefix(line, "#")); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, " ")
}

// ClearCache drops every parsed file.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.cache)
}
