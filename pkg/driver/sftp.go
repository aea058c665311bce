package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fxctl/fxctl/pkg/engine"
	fxssh "github.com/fxctl/fxctl/pkg/transports/ssh"
)

type sftpUploadArgs struct {
	Host                  string `mapstructure:"host" validate:"required,hostname_rfc1123|ip"`
	Port                  int    `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	User                  string `mapstructure:"user" validate:"required"`
	Password              string `mapstructure:"password"`
	PrivateKey            string `mapstructure:"privateKey"`
	KnownHosts            string `mapstructure:"knownHosts"`
	InsecureIgnoreHostKey bool   `mapstructure:"insecureIgnoreHostKey"`
	Source                string `mapstructure:"source" validate:"required"`
	Target                string `mapstructure:"target" validate:"required"`
	Concurrency           int    `mapstructure:"concurrency" validate:"omitempty,min=1,max=64"`

	// AfterUpload runs on the host once every file is in place.
	AfterUpload string `mapstructure:"afterUpload"`
}

// SFTPUploadDriver uploads a file or directory to a remote host and
// optionally runs a command there afterwards. When no password or key is
// given it asks the credential provider for "sftp/<host>".
type SFTPUploadDriver struct{}

// Run implements Driver.
func (d *SFTPUploadDriver) Run(ctx context.Context, args map[string]any, dctx *Context) (map[string]string, error) {
	var a sftpUploadArgs
	if err := DecodeArgs(NameSFTPUpload, args, &a); err != nil {
		return nil, err
	}

	source := dctx.resolvePath(a.Source)
	if _, err := os.Stat(source); err != nil {
		return nil, NewInvalidArgsError(NameSFTPUpload, fmt.Errorf("source not found: %s", source))
	}

	cfg := fxssh.DefaultConfig(a.Host, a.User)
	if a.Port != 0 {
		cfg.Port = a.Port
	}
	if a.Concurrency != 0 {
		cfg.Parallelism = a.Concurrency
	}
	if a.KnownHosts != "" {
		cfg.KnownHostsPath = dctx.resolvePath(a.KnownHosts)
	}
	cfg.StrictHostKeyChecking = !a.InsecureIgnoreHostKey
	cfg.Password = a.Password
	cfg.PrivateKeyPath = dctx.resolvePath(a.PrivateKey)

	if cfg.Password == "" && cfg.PrivateKeyPath == "" {
		password, err := dctx.credential(ctx, "sftp/"+a.Host)
		if err != nil {
			return nil, engine.NewSystemError(NameSFTPUpload, NameRemoteConnection, "failed to resolve credentials").WithCause(err)
		}
		cfg.Password = password
	}

	client, err := fxssh.Dial(ctx, cfg, dctx.Logger)
	if err != nil {
		var te *fxssh.TransportError
		switch {
		case errors.As(err, &te) && te.Kind == fxssh.KindConfig:
			return nil, NewInvalidArgsError(NameSFTPUpload, err)
		case fxssh.IsAuthError(err):
			return nil, engine.NewUserError(NameSFTPUpload, NameRemoteConnection,
				fmt.Sprintf("authentication to %s failed", cfg.Address())).WithCause(err)
		}
		return nil, engine.NewSystemError(NameSFTPUpload, NameRemoteConnection,
			fmt.Sprintf("failed to connect to %s", cfg.Address())).WithCause(err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			dctx.Logger.Debug().Err(err).Msg("disconnect failed")
		}
	}()

	res, err := client.Upload(ctx, source, a.Target)
	if err != nil {
		return nil, engine.NewSystemError(NameSFTPUpload, NameUploadFailed,
			fmt.Sprintf("failed to upload %s to %s:%s", a.Source, a.Host, a.Target)).WithCause(err)
	}
	outputs := map[string]string{
		"files": strconv.Itoa(res.Files),
		"bytes": strconv.FormatInt(res.Bytes, 10),
	}

	if a.AfterUpload == "" {
		return outputs, nil
	}
	exec, err := client.Run(ctx, a.AfterUpload)
	if err != nil {
		return nil, engine.NewSystemError(NameSFTPUpload, NameRemoteCommand,
			fmt.Sprintf("failed to run afterUpload on %s", a.Host)).WithCause(err)
	}
	if exec.ExitCode != 0 {
		return nil, engine.NewUserError(NameSFTPUpload, NameRemoteCommand,
			fmt.Sprintf("afterUpload exited with code %d: %s", exec.ExitCode, lastLine(exec.Stderr))).
			WithDetail("exitCode", exec.ExitCode)
	}
	outputs["stdout"] = strings.TrimSpace(exec.Stdout)
	return outputs, nil
}
