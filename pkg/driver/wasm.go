package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/fxctl/fxctl/pkg/engine"
)

// DefaultWasmMemoryLimitPages caps plugin memory at 16MB.
const DefaultWasmMemoryLimitPages = 256

type wasmArgs struct {
	Module  string         `mapstructure:"module" validate:"required"`
	Input   map[string]any `mapstructure:"input"`
	Timeout time.Duration  `mapstructure:"timeout" validate:"min=0"`
}

// WasmDriver runs a WASI command module. The step input is written to the
// module's stdin as a JSON object and its stdout must be a JSON object of
// string values, which become the step outputs. The module sees the step env
// and no filesystem.
type WasmDriver struct {
	MemoryLimitPages uint32

	cache wazero.CompilationCache
}

// NewWasmDriver creates a WasmDriver with an in-memory compilation cache.
func NewWasmDriver() *WasmDriver {
	return &WasmDriver{
		MemoryLimitPages: DefaultWasmMemoryLimitPages,
		cache:            wazero.NewCompilationCache(),
	}
}

// Run implements Driver.
func (d *WasmDriver) Run(ctx context.Context, args map[string]any, dctx *Context) (map[string]string, error) {
	var a wasmArgs
	if err := DecodeArgs(NameWasmRun, args, &a); err != nil {
		return nil, err
	}

	modulePath := dctx.resolvePath(a.Module)
	wasmBytes, err := os.ReadFile(modulePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewInvalidArgsError(NameWasmRun, fmt.Errorf("module not found: %s", modulePath))
		}
		return nil, engine.NewReadFileError(NameWasmRun, modulePath, err)
	}

	input := a.Input
	if input == nil {
		input = map[string]any{}
	}
	stdin, err := json.Marshal(input)
	if err != nil {
		return nil, NewInvalidArgsError(NameWasmRun, fmt.Errorf("input is not JSON serializable: %w", err))
	}

	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	rtConfig := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true)
	if d.MemoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(d.MemoryLimitPages)
	}
	if d.cache != nil {
		rtConfig = rtConfig.WithCompilationCache(d.cache)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	defer rt.Close(context.WithoutCancel(ctx))

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return nil, engine.NewSystemError(NameWasmRun, NameWasmFailed, "failed to instantiate WASI").WithCause(err)
	}

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, NewInvalidArgsError(NameWasmRun, fmt.Errorf("invalid module %s: %w", a.Module, err))
	}

	var stdout, stderr bytes.Buffer
	modConfig := wazero.NewModuleConfig().
		WithName("").
		WithArgs(filepath.Base(modulePath)).
		WithStdin(bytes.NewReader(stdin)).
		WithStdout(&stdout).
		WithStderr(&stderr)
	if dctx.Env != "" {
		modConfig = modConfig.WithEnv("FX_ENV", dctx.Env)
	}
	keys := make([]string, 0, len(dctx.StepEnv))
	for k := range dctx.StepEnv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		modConfig = modConfig.WithEnv(k, dctx.StepEnv[k])
	}

	dctx.Logger.Debug().Str("module", modulePath).Msg("running wasm module")

	mod, err := rt.InstantiateModule(ctx, compiled, modConfig)
	if mod != nil {
		defer mod.Close(context.WithoutCancel(ctx))
	}
	if err != nil {
		var exitErr *sys.ExitError
		switch {
		case errors.As(err, &exitErr) && exitErr.ExitCode() == 0:
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, engine.NewUserError(NameWasmRun, NameWasmFailed,
				fmt.Sprintf("module timed out after %s", a.Timeout)).WithCause(err)
		case errors.As(err, &exitErr):
			return nil, engine.NewUserError(NameWasmRun, NameWasmFailed,
				fmt.Sprintf("module exited with code %d: %s", exitErr.ExitCode(), lastLine(stderr.String()))).
				WithCause(err).
				WithDetail("exitCode", int(exitErr.ExitCode()))
		default:
			return nil, engine.NewSystemError(NameWasmRun, NameWasmFailed, "module execution failed").WithCause(err)
		}
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return map[string]string{}, nil
	}
	outputs := make(map[string]string)
	if err := json.Unmarshal([]byte(out), &outputs); err != nil {
		return nil, engine.NewSystemError(NameWasmRun, NameInvalidOutput,
			"module output must be a JSON object of strings").WithCause(err)
	}
	return outputs, nil
}
