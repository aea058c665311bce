package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// defaultKeys are tried in order when neither a password nor a key is given.
var defaultKeys = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// Config describes how to reach and authenticate to one host.
type Config struct {
	Host string `validate:"required,hostname_rfc1123|ip"`
	Port int    `validate:"min=1,max=65535"`
	User string `validate:"required"`

	Password       string
	PrivateKeyPath string
	Passphrase     string

	// KnownHostsPath is consulted when StrictHostKeyChecking is set. Without
	// it any host key is accepted.
	KnownHostsPath        string
	StrictHostKeyChecking bool

	Timeout     time.Duration `validate:"gt=0"`
	Parallelism int           `validate:"min=1,max=64"`
}

// DefaultConfig returns a config for user@host:22 that checks
// ~/.ssh/known_hosts.
func DefaultConfig(host, user string) *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		KnownHostsPath:        filepath.Join(home, ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		Timeout:               30 * time.Second,
		Parallelism:           4,
	}
}

// Address is host:port.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks the fields and settles the credentials. Without a
// password or key the first default key under ~/.ssh is used.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Password == "" && c.PrivateKeyPath == "" {
		home, _ := os.UserHomeDir()
		for _, name := range defaultKeys {
			p := filepath.Join(home, ".ssh", name)
			if _, err := os.Stat(p); err == nil {
				c.PrivateKeyPath = p
				break
			}
		}
		if c.PrivateKeyPath == "" {
			return errors.New("no password or private key given and no default key found")
		}
	}
	if c.PrivateKeyPath != "" {
		if _, err := os.Stat(c.PrivateKeyPath); err != nil {
			return fmt.Errorf("private key: %w", err)
		}
	}
	return nil
}

func (c *Config) clientConfig() (*ssh.ClientConfig, error) {
	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}
	hostKey, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         c.Timeout,
	}, nil
}

func (c *Config) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if c.PrivateKeyPath != "" {
		pem, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		var signer ssh.Signer
		if c.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(pem)
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", c.PrivateKeyPath, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		// Some servers only offer keyboard-interactive for passwords.
		answer := func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = c.Password
			}
			return answers, nil
		}
		methods = append(methods, ssh.Password(c.Password), ssh.KeyboardInteractive(answer))
	}
	return methods, nil
}

func (c *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if !c.StrictHostKeyChecking || c.KnownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(c.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("known hosts: %w", err)
	}
	return cb, nil
}
