// Package core is the facade the CLI drives. Every operation runs through
// the action middleware; operations that change a project also hold its
// lock for their whole duration.
package core

import (
	"github.com/fxctl/fxctl/pkg/config"
	"github.com/fxctl/fxctl/pkg/driver"
	"github.com/fxctl/fxctl/pkg/engine"
	"github.com/fxctl/fxctl/pkg/envstore"
	"github.com/fxctl/fxctl/pkg/lifecycle"
	"github.com/fxctl/fxctl/pkg/lock"
	"github.com/fxctl/fxctl/pkg/middleware"
	"github.com/fxctl/fxctl/pkg/policy"
	"github.com/fxctl/fxctl/pkg/telemetry"
	"github.com/fxctl/fxctl/pkg/ui"
)

// Input keys shared by the operations.
const (
	InputProjectPath = "projectPath"
	InputEnv         = "env"
	InputConfirm     = "confirm"
	InputName        = "name"
	InputCopyFrom    = "copyFrom"
)

// DefaultEnv is created by InitProject.
const DefaultEnv = "dev"

// CredentialPrefix is the environment prefix of the default credential provider.
const CredentialPrefix = "FX_CRED_"

// FxCore runs project operations.
type FxCore struct {
	ui          ui.UserInteraction
	logger      *telemetry.Logger
	store       *envstore.Store
	guard       *lock.Guard
	exec        *middleware.Executor
	registry    *driver.Registry
	policies    *policy.Engine
	credentials driver.CredentialProvider
	reporter    engine.TelemetryReporter
	runnerOpts  []lifecycle.RunnerOption
	helpLink    string
	issueLink   string
}

// Option configures an FxCore.
type Option func(*FxCore)

// WithLogger sets the logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(c *FxCore) {
		if l != nil {
			c.logger = l.NewComponentLogger(engine.SourceCore)
		}
	}
}

// WithStore replaces the environment store.
func WithStore(s *envstore.Store) Option {
	return func(c *FxCore) { c.store = s }
}

// WithGuard replaces the project lock guard.
func WithGuard(g *lock.Guard) Option {
	return func(c *FxCore) { c.guard = g }
}

// WithExecutor replaces the action executor.
func WithExecutor(e *middleware.Executor) Option {
	return func(c *FxCore) { c.exec = e }
}

// WithRegistry replaces the driver registry.
func WithRegistry(r *driver.Registry) Option {
	return func(c *FxCore) { c.registry = r }
}

// WithPolicyEngine replaces the policy engine.
func WithPolicyEngine(p *policy.Engine) Option {
	return func(c *FxCore) { c.policies = p }
}

// WithCredentials sets where drivers look up credentials.
func WithCredentials(p driver.CredentialProvider) Option {
	return func(c *FxCore) { c.credentials = p }
}

// WithReporter sets the telemetry reporter handed to the default guard,
// executor and drivers.
func WithReporter(r engine.TelemetryReporter) Option {
	return func(c *FxCore) {
		if r != nil {
			c.reporter = r
		}
	}
}

// WithRunnerOptions adds options to every lifecycle runner.
func WithRunnerOptions(opts ...lifecycle.RunnerOption) Option {
	return func(c *FxCore) { c.runnerOpts = append(c.runnerOpts, opts...) }
}

// WithLinks sets the help and issue links attached to errors.
func WithLinks(help, issue string) Option {
	return func(c *FxCore) {
		c.helpLink = help
		c.issueLink = issue
	}
}

// New creates an FxCore prompting through u. Collaborators that are not
// given are built with their defaults.
func New(u ui.UserInteraction, opts ...Option) (*FxCore, error) {
	c := &FxCore{
		ui:          u,
		logger:      telemetry.NopLogger().NewComponentLogger(engine.SourceCore),
		credentials: driver.EnvCredentials{Prefix: CredentialPrefix},
		reporter:    engine.NopReporter{},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.store == nil {
		c.store = envstore.NewStore(c.logger.Zerolog())
	}
	if c.guard == nil {
		c.guard = lock.NewGuard(lock.NewFileLocker(""),
			lock.WithLogger(c.logger),
			lock.WithReporter(c.reporter))
	}
	if c.exec == nil {
		c.exec = middleware.NewExecutor(u,
			middleware.WithLogger(c.logger),
			middleware.WithTelemetry(c.reporter, nil),
			middleware.WithEvaluator(config.NewStarlarkEvaluator(0)))
	}
	if c.registry == nil {
		c.registry = driver.NewBuiltinRegistry()
	}
	if c.policies == nil {
		pe, err := policy.NewEngine(c.logger.Zerolog())
		if err != nil {
			return nil, engine.NewSystemError(engine.SourceCore, engine.NameUnhandled,
				"failed to create policy engine").WithCause(err)
		}
		c.policies = pe
	}
	return c, nil
}

// Store returns the environment store.
func (c *FxCore) Store() *envstore.Store {
	return c.store
}

// Registry returns the driver registry.
func (c *FxCore) Registry() *driver.Registry {
	return c.registry
}

// Policies returns the policy engine.
func (c *FxCore) Policies() *policy.Engine {
	return c.policies
}

func (c *FxCore) options(method string) middleware.ActionOptions {
	return middleware.ActionOptions{
		Component:       engine.SourceCore,
		Method:          method,
		EnableTelemetry: true,
		HelpLink:        c.helpLink,
		IssueLink:       c.issueLink,
	}
}

func (c *FxCore) normalize(err error) error {
	if err == nil {
		return nil
	}
	return engine.Normalize(err, engine.Defaults{
		Source:    engine.SourceCore,
		HelpLink:  c.helpLink,
		IssueLink: c.issueLink,
	})
}
