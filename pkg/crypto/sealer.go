// Package crypto seals exchange API secrets at rest with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// KeySize is the required size for AES-256 keys (32 bytes).
const KeySize = 32

var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrUnknownKeyVersion = errors.New("unknown key version")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// Sealer encrypts with the newest key version and decrypts any known version.
// Ciphertexts look like "ENC[v2]:base64(nonce|ciphertext|tag)".
type Sealer struct {
	current int
	aeads   map[int]cipher.AEAD
}

// NewSealer builds a Sealer from version -> raw key. The highest version seals.
func NewSealer(keys map[int][]byte) (*Sealer, error) {
	if len(keys) == 0 {
		return nil, ErrInvalidKey
	}
	s := &Sealer{aeads: make(map[int]cipher.AEAD, len(keys))}
	for v, key := range keys {
		if len(key) != KeySize {
			return nil, fmt.Errorf("key v%d: %w", v, ErrInvalidKey)
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("create cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("create GCM: %w", err)
		}
		s.aeads[v] = gcm
		if v > s.current {
			s.current = v
		}
	}
	return s, nil
}

// FromEnv loads MASTER_ENCRYPTION_KEY (v1) and optional MASTER_ENCRYPTION_KEY_V2..V10,
// each base64-encoded.
func FromEnv(getenv func(string) string) (*Sealer, error) {
	keys := make(map[int][]byte)
	for v := 1; v <= 10; v++ {
		name := "MASTER_ENCRYPTION_KEY"
		if v > 1 {
			name = fmt.Sprintf("MASTER_ENCRYPTION_KEY_V%d", v)
		}
		raw := getenv(name)
		if raw == "" {
			if v == 1 {
				return nil, fmt.Errorf("%s not set", name)
			}
			continue
		}
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		keys[v] = key
	}
	return NewSealer(keys)
}

// GenerateKey returns a random key, for ephemeral dry-run setups and tests.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// Version returns the version new ciphertexts are sealed with.
func (s *Sealer) Version() int { return s.current }

// Seal encrypts plaintext with the current key.
func (s *Sealer) Seal(plaintext string) (string, error) {
	gcm := s.aeads[s.current]
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("ENC[v%d]:%s", s.current, base64.StdEncoding.EncodeToString(sealed)), nil
}

// Open decrypts a value produced by Seal with any loaded key version.
func (s *Sealer) Open(ciphertext string) (string, error) {
	version, payload, err := splitCiphertext(ciphertext)
	if err != nil {
		return "", err
	}
	gcm, ok := s.aeads[version]
	if !ok {
		return "", fmt.Errorf("v%d: %w", version, ErrUnknownKeyVersion)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < gcm.NonceSize() {
		return "", ErrInvalidCiphertext
	}
	plain, err := gcm.Open(nil, data[:gcm.NonceSize()], data[gcm.NonceSize():], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// IsSealed reports whether value carries the ciphertext prefix.
func IsSealed(value string) bool {
	_, _, err := splitCiphertext(value)
	return err == nil
}

func splitCiphertext(v string) (int, string, error) {
	rest, ok := strings.CutPrefix(v, "ENC[v")
	if !ok {
		return 0, "", ErrInvalidCiphertext
	}
	num, payload, ok := strings.Cut(rest, "]:")
	if !ok {
		return 0, "", ErrInvalidCiphertext
	}
	version, err := strconv.Atoi(num)
	if err != nil || version <= 0 {
		return 0, "", ErrInvalidCiphertext
	}
	return version, payload, nil
}
