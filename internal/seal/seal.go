// Package seal encrypts audit records at rest.
package seal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the required key length in bytes.
const KeySize = chacha20poly1305.KeySize

// additionalData binds every sealed record to this format version.
var additionalData = []byte("phiguard-audit-v1")

var (
	ErrKeySize            = fmt.Errorf("key must be %d bytes", KeySize)
	ErrCiphertextTooShort = errors.New("ciphertext shorter than nonce")
)

// Operations reported in EncryptionError.
const (
	OpEncrypt = "encrypt"
	OpDecrypt = "decrypt"
)

// EncryptionError is returned for any failure to seal or open a record.
type EncryptionError struct {
	Op  string
	Err error
}

func (e *EncryptionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *EncryptionError) Unwrap() error { return e.Err }

// Sealer encrypts and decrypts opaque byte slices.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// AEAD is an XChaCha20-Poly1305 Sealer. The key lives in a memguard enclave
// and is only decrypted into locked memory for the duration of a call.
type AEAD struct {
	key *memguard.Enclave
}

// New returns a sealer for key. The caller's key slice is wiped.
func New(key []byte) (*AEAD, error) {
	if len(key) != KeySize {
		memguard.WipeBytes(key)
		return nil, ErrKeySize
	}
	return &AEAD{key: memguard.NewEnclave(key)}, nil
}

// NewRandom returns a sealer with a fresh random key. Records it seals can
// only be opened by the same value, which makes it suitable for tests and
// throwaway stores.
func NewRandom() *AEAD {
	return &AEAD{key: memguard.NewEnclaveRandom(KeySize)}
}

// Seal returns nonce || ciphertext.
func (s *AEAD) Seal(plaintext []byte) ([]byte, error) {
	buf, err := s.key.Open()
	if err != nil {
		return nil, &EncryptionError{Op: OpEncrypt, Err: fmt.Errorf("opening key enclave: %w", err)}
	}
	defer buf.Destroy()

	aead, err := chacha20poly1305.NewX(buf.Bytes())
	if err != nil {
		return nil, &EncryptionError{Op: OpEncrypt, Err: err}
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, &EncryptionError{Op: OpEncrypt, Err: fmt.Errorf("reading nonce: %w", err)}
	}
	return aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

// Open reverses Seal. Tampered or foreign records fail authentication.
func (s *AEAD) Open(sealed []byte) ([]byte, error) {
	buf, err := s.key.Open()
	if err != nil {
		return nil, &EncryptionError{Op: OpDecrypt, Err: fmt.Errorf("opening key enclave: %w", err)}
	}
	defer buf.Destroy()

	aead, err := chacha20poly1305.NewX(buf.Bytes())
	if err != nil {
		return nil, &EncryptionError{Op: OpDecrypt, Err: err}
	}
	if len(sealed) < aead.NonceSize() {
		return nil, &EncryptionError{Op: OpDecrypt, Err: ErrCiphertextTooShort}
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, additionalData)
	if err != nil {
		return nil, &EncryptionError{Op: OpDecrypt, Err: err}
	}
	return pt, nil
}

// GenerateKey returns a new random key, base64 encoded.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	defer memguard.WipeBytes(key)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// DecodeKey parses a base64 key and checks its length.
func DecodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decoding key: %w", err)
	}
	if len(key) != KeySize {
		memguard.WipeBytes(key)
		return nil, ErrKeySize
	}
	return key, nil
}

// LoadKeyFile reads a base64 key file written by GenerateKey.
func LoadKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	defer memguard.WipeBytes(data)
	return DecodeKey(string(data))
}
