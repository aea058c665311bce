// Package secrets encrypts SECRET_ environment values at rest.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/fxctl/fxctl/pkg/engine"
)

// Prefix marks an encrypted value. Values without it are treated as plaintext.
const Prefix = "crypto_"

const (
	source  = "secrets"
	kdfSalt = "fxctl-local-crypto-v1"
	kdfInfo = "env-secrets"
)

// Provider encrypts and decrypts individual values.
type Provider interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// LocalCrypto is a Provider keyed by a project tracking ID.
// Encryption is randomized: the same plaintext yields a different ciphertext on every call.
type LocalCrypto struct {
	key []byte
}

// NewLocalCrypto derives the project key from trackingID.
func NewLocalCrypto(trackingID string) (*LocalCrypto, error) {
	if trackingID == "" {
		return nil, engine.NewUserError(source, engine.NameEncryption, "project tracking id is empty")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(trackingID), []byte(kdfSalt), []byte(kdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, engine.NewSystemError(source, engine.NameEncryption, "failed to derive project key").WithCause(err)
	}

	return &LocalCrypto{key: key}, nil
}

// Encrypt implements Provider.
func (c *LocalCrypto) Encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", engine.NewSystemError(source, engine.NameEncryption, "failed to initialize cipher").WithCause(err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", engine.NewSystemError(source, engine.NameEncryption, "failed to generate nonce").WithCause(err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt implements Provider.
func (c *LocalCrypto) Decrypt(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, Prefix) {
		return ciphertext, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, Prefix))
	if err != nil {
		return "", engine.NewUserError(source, engine.NameDecryption, "encrypted value is malformed").WithCause(err)
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", engine.NewSystemError(source, engine.NameDecryption, "failed to initialize cipher").WithCause(err)
	}

	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", engine.NewUserError(source, engine.NameDecryption, "encrypted value is truncated").
			WithCause(errors.New("ciphertext too short"))
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", engine.NewSystemError(source, engine.NameDecryption,
			"failed to decrypt value, it was encrypted for a different project or has been modified").
			WithCause(fmt.Errorf("open: %w", err))
	}

	return string(plain), nil
}
