package db

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"hash/fnv"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	errCiphertextTooShort = errors.New("ciphertext is too short")
)

// Secret wraps a plaintext value so that it cannot leak through logging or
// accidental serialization. The plaintext is only reachable via Expose().
type Secret struct {
	value string
}

func NewSecret(value string) Secret {
	return Secret{value: value}
}

func (s Secret) Expose() string {
	return s.value
}

func (s Secret) Empty() bool {
	return len(s.value) == 0
}

// Hash is used to detect password rotation between runs. Not cryptographic.
func (s Secret) Hash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s.value))
	return h.Sum64()
}

func (s Secret) String() string {
	return fmt.Sprintf("[REDACTED, %v bytes]", len(s.value))
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Cipher encrypts and decrypts Secrets at rest. The key is derived from the
// PASSWORD_SECRET environment value.
type Cipher struct {
	key [32]byte
}

func NewCipher(passwordSecret string) *Cipher {
	return &Cipher{key: sha256.Sum256([]byte(passwordSecret))}
}

func (c *Cipher) Encrypt(s Secret) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key[:])
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(s.value)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := aead.Seal(nonce, nonce, []byte(s.value), nil)

	return base64.RawStdEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) Decrypt(encoded string) (Secret, error) {
	sealed, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return Secret{}, err
	}

	aead, err := chacha20poly1305.NewX(c.key[:])
	if err != nil {
		return Secret{}, err
	}

	if len(sealed) < aead.NonceSize() {
		return Secret{}, errCiphertextTooShort
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Secret{}, err
	}

	return Secret{value: string(plaintext)}, nil
}
