// Package envstore persists per-environment key/value sets in .env.<name>
// files under the project settings folder.
//
// Keys prefixed with SECRET_ are encrypted at rest with a key derived from the
// project tracking ID and decrypted on read.
package envstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/fxctl/fxctl/pkg/dotenv"
	"github.com/fxctl/fxctl/pkg/engine"
	"github.com/fxctl/fxctl/pkg/project"
	"github.com/fxctl/fxctl/pkg/secrets"
)

const (
	// SecretPrefix marks keys that are encrypted at rest.
	SecretPrefix = "SECRET_"

	// FilePrefix is the file name prefix of environment files.
	FilePrefix = ".env."

	source = "envstore"
)

var envNamePattern = regexp.MustCompile(`^[\w-]+$`)

// CryptoFactory builds the secret provider for a project tracking ID.
type CryptoFactory func(trackingID string) (secrets.Provider, error)

// Store reads and writes environment files.
type Store struct {
	logger    zerolog.Logger
	newCrypto CryptoFactory
}

// NewStore creates a store using LocalCrypto for secrets.
func NewStore(logger zerolog.Logger) *Store {
	return &Store{
		logger: logger.With().Str("component", "envstore").Logger(),
		newCrypto: func(trackingID string) (secrets.Provider, error) {
			return secrets.NewLocalCrypto(trackingID)
		},
	}
}

// WithCrypto replaces the secret provider factory.
func (s *Store) WithCrypto(f CryptoFactory) *Store {
	s.newCrypto = f
	return s
}

// ReadOptions control Read.
type ReadOptions struct {
	// Silent returns an empty set instead of an error when the file is missing.
	Silent bool

	// Process, when set, receives the decrypted values.
	Process *ProcessEnv
}

// Path returns the file path of an environment.
func Path(projectPath, env string) string {
	return filepath.Join(project.SettingsDir(projectPath), FilePrefix+env)
}

// ValidateName checks an environment name.
func ValidateName(env string) error {
	if !envNamePattern.MatchString(env) {
		return engine.NewUserError(source, engine.NameInvalidEnvName,
			fmt.Sprintf("invalid environment name %q, use letters, digits, '-' and '_' only", env)).
			WithDetail("env", env)
	}
	return nil
}

// Read loads an environment and decrypts its secrets.
// A decrypt failure on any key aborts the whole read.
func (s *Store) Read(ctx context.Context, projectPath, env string, opts ReadOptions) (map[string]string, error) {
	if err := ValidateName(env); err != nil {
		return nil, err
	}

	path := Path(projectPath, env)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if opts.Silent {
				return map[string]string{}, nil
			}
			return nil, engine.NewUserError(source, engine.NameDotEnvNotExist,
				fmt.Sprintf("environment file %s does not exist", path)).
				WithDisplayMessage(fmt.Sprintf("Environment %q was not found. Create it with 'fxctl env add %s'.", env, env)).
				WithDetail("env", env)
		}
		return nil, engine.NewReadFileError(source, path, err)
	}

	values := dotenv.Parse(string(data)).Values
	if err := s.decryptAll(projectPath, values); err != nil {
		return nil, err
	}

	if opts.Process != nil {
		if err := opts.Process.Merge(values); err != nil {
			return nil, err
		}
	}

	s.logger.Debug().
		Str("env", env).
		Int("keys", len(values)).
		Bool("loaded", opts.Process != nil).
		Msg("Environment read")

	return values, nil
}

// Write replaces the content of an environment with values.
// Formatting, comments and key order of an existing file are preserved.
func (s *Store) Write(ctx context.Context, projectPath, env string, values map[string]string) error {
	if err := ValidateName(env); err != nil {
		return err
	}

	// Secrets are stored as ciphertext, which is always representable.
	for key, value := range values {
		if strings.HasPrefix(key, SecretPrefix) {
			continue
		}
		if err := dotenv.CheckValue(value); err != nil {
			return engine.NewUserError(source, engine.NameInvalidInput,
				fmt.Sprintf("value of %s: %v", key, err)).WithCause(err).WithDetail("key", key)
		}
	}

	crypto, err := s.cryptoFor(projectPath)
	if err != nil {
		return err
	}

	path := Path(projectPath, env)
	doc := dotenv.New()
	if data, err := os.ReadFile(path); err == nil {
		doc = dotenv.Parse(string(data))
	} else if !errors.Is(err, os.ErrNotExist) {
		return engine.NewReadFileError(source, path, err)
	}

	next := make(map[string]string, len(values))
	for key, value := range values {
		if value == "" || !strings.HasPrefix(key, SecretPrefix) {
			next[key] = value
			continue
		}

		// Keep the stored ciphertext when the secret did not change.
		if existing, ok := doc.Values[key]; ok {
			if plain, err := crypto.Decrypt(existing); err == nil && plain == value && existing != value {
				next[key] = existing
				continue
			}
		}

		enc, err := crypto.Encrypt(value)
		if err != nil {
			return withKey(err, key)
		}
		next[key] = enc
	}
	doc.Replace(next)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return engine.NewWriteFileError(source, path, err)
	}
	if err := os.WriteFile(path, []byte(dotenv.Serialize(doc)), 0o600); err != nil {
		return engine.NewWriteFileError(source, path, err)
	}

	s.logger.Debug().Str("env", env).Int("keys", len(values)).Msg("Environment written")
	return nil
}

// List returns the environment names of a project, sorted.
func (s *Store) List(ctx context.Context, projectPath string) ([]string, error) {
	dir := project.SettingsDir(projectPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, engine.NewReadFileError(source, dir, err)
	}

	envs := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, FilePrefix) {
			continue
		}
		envs = append(envs, strings.TrimPrefix(name, FilePrefix))
	}
	sort.Strings(envs)
	return envs, nil
}

func (s *Store) decryptAll(projectPath string, values map[string]string) error {
	var crypto secrets.Provider
	for key, value := range values {
		if !strings.HasPrefix(key, SecretPrefix) {
			continue
		}
		if crypto == nil {
			var err error
			if crypto, err = s.cryptoFor(projectPath); err != nil {
				return err
			}
		}
		plain, err := crypto.Decrypt(value)
		if err != nil {
			return withKey(err, key)
		}
		values[key] = plain
	}
	return nil
}

func (s *Store) cryptoFor(projectPath string) (secrets.Provider, error) {
	settings, err := project.LoadSettings(projectPath)
	if err != nil {
		return nil, err
	}
	return s.newCrypto(settings.TrackingID)
}

func withKey(err error, key string) error {
	if fe, ok := engine.AsFxError(err); ok {
		return fe.WithDetail("key", key)
	}
	return fmt.Errorf("%s: %w", key, err)
}
