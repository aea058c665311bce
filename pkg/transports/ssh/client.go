// Package ssh runs commands on and uploads files to remote hosts over SSH
// and SFTP.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// ErrorKind classifies a TransportError.
type ErrorKind int

const (
	KindConfig ErrorKind = iota + 1
	KindNetwork
	KindAuth
	KindRemote
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindRemote:
		return "remote"
	}
	return "unknown"
}

// TransportError is returned by every Client operation.
type TransportError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Temporary reports whether retrying may succeed.
func (e *TransportError) Temporary() bool { return e.Kind == KindNetwork }

// IsAuthError reports whether err is a rejected login or unusable
// credentials.
func IsAuthError(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == KindAuth
}

// ExecResult is the outcome of a remote command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Client is an open SSH connection.
type Client struct {
	cfg    *Config
	logger zerolog.Logger

	mu   sync.Mutex
	conn *ssh.Client
}

// Dial validates cfg and connects.
func Dial(ctx context.Context, cfg *Config, logger zerolog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &TransportError{Op: "dial", Kind: KindConfig, Err: err}
	}
	clientConfig, err := cfg.clientConfig()
	if err != nil {
		return nil, &TransportError{Op: "dial", Kind: KindAuth, Err: err}
	}

	addr := cfg.Address()
	logger = logger.With().Str("component", "ssh").Str("host", addr).Logger()

	d := net.Dialer{Timeout: cfg.Timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &TransportError{Op: "dial", Kind: KindNetwork, Err: err}
	}
	conn, chans, reqs, err := ssh.NewClientConn(nc, addr, clientConfig)
	if err != nil {
		_ = nc.Close()
		kind := KindNetwork
		if strings.Contains(err.Error(), "unable to authenticate") {
			kind = KindAuth
		}
		return nil, &TransportError{Op: "handshake", Kind: kind, Err: err}
	}

	logger.Debug().Str("user", cfg.User).Msg("connected")
	return &Client{cfg: cfg, logger: logger, conn: ssh.NewClient(conn, chans, reqs)}, nil
}

// Close closes the connection. Closing twice is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) client(op string) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, &TransportError{Op: op, Kind: KindNetwork, Err: net.ErrClosed}
	}
	return c.conn, nil
}

// Run executes cmd in a new session. A non-zero exit status is reported in
// the result. When ctx is done the command is killed.
func (c *Client) Run(ctx context.Context, cmd string) (*ExecResult, error) {
	conn, err := c.client("exec")
	if err != nil {
		return nil, err
	}
	session, err := conn.NewSession()
	if err != nil {
		return nil, &TransportError{Op: "exec", Kind: KindNetwork, Err: err}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, &TransportError{Op: "exec", Kind: KindRemote, Err: ctx.Err()}
	case err = <-done:
	}

	res := &ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(start)}
	var exitErr *ssh.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
	default:
		return nil, &TransportError{Op: "exec", Kind: KindRemote, Err: err}
	}

	c.logger.Debug().Int("exit_code", res.ExitCode).Dur("duration", res.Duration).Msg("command finished")
	return res, nil
}
