package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/fxctl/fxctl/pkg/dotenv"
	"github.com/fxctl/fxctl/pkg/engine"
)

var envKeyPattern = regexp.MustCompile(`^[\w.-]+$`)

type envGenerateArgs struct {
	Target string            `mapstructure:"target" validate:"required"`
	Envs   map[string]string `mapstructure:"envs" validate:"required,min=1"`
}

// EnvGenerateDriver creates or updates a dotenv file, keeping the comments
// and order of an existing file.
type EnvGenerateDriver struct{}

// Run implements Driver.
func (d *EnvGenerateDriver) Run(ctx context.Context, args map[string]any, dctx *Context) (map[string]string, error) {
	var a envGenerateArgs
	if err := DecodeArgs(NameEnvGenerate, args, &a); err != nil {
		return nil, err
	}
	for k := range a.Envs {
		if !envKeyPattern.MatchString(k) {
			return nil, NewInvalidArgsError(NameEnvGenerate, fmt.Errorf("invalid key %q", k))
		}
		if err := dotenv.CheckValue(a.Envs[k]); err != nil {
			return nil, NewInvalidArgsError(NameEnvGenerate, fmt.Errorf("value of %s: %w", k, err))
		}
	}

	target := dctx.resolvePath(a.Target)

	doc := dotenv.New()
	data, err := os.ReadFile(target)
	switch {
	case err == nil:
		doc = dotenv.Parse(strings.TrimRight(string(data), "\r\n"))
	case !os.IsNotExist(err):
		return nil, engine.NewReadFileError(NameEnvGenerate, target, err)
	}

	keys := make([]string, 0, len(a.Envs))
	for k := range a.Envs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		doc.Set(k, a.Envs[k])
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, engine.NewWriteFileError(NameEnvGenerate, target, err)
	}
	if err := os.WriteFile(target, []byte(dotenv.Serialize(doc)+"\n"), 0o644); err != nil {
		return nil, engine.NewWriteFileError(NameEnvGenerate, target, err)
	}

	dctx.Logger.Debug().Str("target", target).Int("keys", len(keys)).Msg("environment file generated")
	return map[string]string{}, nil
}
