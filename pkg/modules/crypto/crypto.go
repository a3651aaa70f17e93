// Package crypto is the typed surface of the quantum-resistant crypto module:
// ML-KEM-768 key encapsulation, ML-DSA-65 signatures, and BLAKE3 hashing.
// The primitives live in the loaded artifact; this package validates sizes
// and adapts the portable build's wasm exports.
package crypto

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/chazu/qudag/pkg/binding"
	"github.com/chazu/qudag/pkg/platform"
)

const (
	// PublicKeySize is the ML-KEM-768 public key length
	PublicKeySize = 1184
	// SecretKeySize is the ML-KEM-768 secret key length
	SecretKeySize = 2400
	// CiphertextSize is the ML-KEM-768 ciphertext length
	CiphertextSize = 1088
	// SharedSecretSize is the length of an encapsulated shared secret
	SharedSecretSize = 32
	// SignatureSize is the ML-DSA-65 signature length
	SignatureSize = 3309
	// HashSize is the BLAKE3 digest length
	HashSize = 32

	// FingerprintPrefix marks a quantum fingerprint
	FingerprintPrefix = "qf:"
)

// ErrInvalidLength is returned when a key, ciphertext, signature or digest
// has the wrong size.
var ErrInvalidLength = errors.New("invalid length")

// LengthError describes a buffer of the wrong size.
type LengthError struct {
	Field string
	Want  int
	Got   int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("invalid %s length: expected %d bytes, got %d", e.Field, e.Want, e.Got)
}

func (e *LengthError) Is(target error) bool {
	return target == ErrInvalidLength
}

// KeyPair is an ML-KEM-768 key pair.
type KeyPair struct {
	PublicKey []byte
	SecretKey []byte
}

// Encapsulated is the result of encapsulating a shared secret.
type Encapsulated struct {
	// Ciphertext is sent to the holder of the secret key
	Ciphertext []byte
	// SharedSecret is the secret both parties end up with
	SharedSecret []byte
}

// Backend is the entry surface exported by both builds of the crypto module.
// Native plugins export it as the symbol "Module"; the portable build is
// adapted by NewWasmBackend.
type Backend interface {
	GenerateKeypair(ctx context.Context) (KeyPair, error)
	Encapsulate(ctx context.Context, publicKey []byte) (Encapsulated, error)
	Decapsulate(ctx context.Context, ciphertext, secretKey []byte) ([]byte, error)
	Sign(ctx context.Context, message, secretKey []byte) ([]byte, error)
	Verify(ctx context.Context, message, signature, publicKey []byte) (bool, error)
	Blake3(ctx context.Context, data []byte) ([]byte, error)
}

// Module wraps a Backend and enforces the sizes of every input and output.
type Module struct {
	backend Backend
	handle  *binding.Handle
}

// NewModule wraps b.
func NewModule(b Backend) *Module {
	return &Module{backend: b}
}

// Open loads the crypto module on the active tier.
func Open(ctx context.Context, p binding.Prober) (*Module, error) {
	b, h, err := binding.Open[Backend](ctx, p, binding.Crypto)
	if err != nil {
		return nil, err
	}
	return &Module{backend: b, handle: h}, nil
}

// Tier returns the tier the backend was loaded from. Modules built with
// NewModule report an empty tier.
func (m *Module) Tier() platform.Tier {
	if m.handle == nil {
		return ""
	}
	return m.handle.Tier()
}

// Degraded reports whether the backend is the fallback build.
func (m *Module) Degraded() bool {
	return m.handle != nil && m.handle.Degraded()
}

// Source returns where the backend was loaded from.
func (m *Module) Source() string {
	if m.handle == nil {
		return ""
	}
	return m.handle.Source()
}

// Close releases the loaded backend.
func (m *Module) Close(ctx context.Context) error {
	if m.handle == nil {
		return nil
	}
	return m.handle.Close(ctx)
}

// GenerateKeypair returns a fresh ML-KEM-768 key pair.
func (m *Module) GenerateKeypair(ctx context.Context) (KeyPair, error) {
	kp, err := m.backend.GenerateKeypair(ctx)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to generate keypair: %w", err)
	}
	if err := checkLength("public key", kp.PublicKey, PublicKeySize); err != nil {
		return KeyPair{}, err
	}
	if err := checkLength("secret key", kp.SecretKey, SecretKeySize); err != nil {
		return KeyPair{}, err
	}
	return kp, nil
}

// Encapsulate derives a shared secret for the holder of publicKey.
func (m *Module) Encapsulate(ctx context.Context, publicKey []byte) (Encapsulated, error) {
	if err := checkLength("public key", publicKey, PublicKeySize); err != nil {
		return Encapsulated{}, err
	}
	enc, err := m.backend.Encapsulate(ctx, publicKey)
	if err != nil {
		return Encapsulated{}, fmt.Errorf("failed to encapsulate: %w", err)
	}
	if err := checkLength("ciphertext", enc.Ciphertext, CiphertextSize); err != nil {
		return Encapsulated{}, err
	}
	if err := checkLength("shared secret", enc.SharedSecret, SharedSecretSize); err != nil {
		return Encapsulated{}, err
	}
	return enc, nil
}

// Decapsulate recovers the shared secret from ciphertext.
func (m *Module) Decapsulate(ctx context.Context, ciphertext, secretKey []byte) ([]byte, error) {
	if err := checkLength("ciphertext", ciphertext, CiphertextSize); err != nil {
		return nil, err
	}
	if err := checkLength("secret key", secretKey, SecretKeySize); err != nil {
		return nil, err
	}
	ss, err := m.backend.Decapsulate(ctx, ciphertext, secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decapsulate: %w", err)
	}
	if err := checkLength("shared secret", ss, SharedSecretSize); err != nil {
		return nil, err
	}
	return ss, nil
}

// Sign signs message with an ML-DSA-65 secret key.
func (m *Module) Sign(ctx context.Context, message, secretKey []byte) ([]byte, error) {
	sig, err := m.backend.Sign(ctx, message, secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	if err := checkLength("signature", sig, SignatureSize); err != nil {
		return nil, err
	}
	return sig, nil
}

// Verify checks an ML-DSA-65 signature.
func (m *Module) Verify(ctx context.Context, message, signature, publicKey []byte) (bool, error) {
	if err := checkLength("signature", signature, SignatureSize); err != nil {
		return false, err
	}
	ok, err := m.backend.Verify(ctx, message, signature, publicKey)
	if err != nil {
		return false, fmt.Errorf("failed to verify: %w", err)
	}
	return ok, nil
}

// Hash returns the BLAKE3 digest of data.
func (m *Module) Hash(ctx context.Context, data []byte) ([]byte, error) {
	sum, err := m.backend.Blake3(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to hash: %w", err)
	}
	if err := checkLength("digest", sum, HashSize); err != nil {
		return nil, err
	}
	return sum, nil
}

// HashHex returns the BLAKE3 digest of data as lowercase hex.
func (m *Module) HashHex(ctx context.Context, data []byte) (string, error) {
	sum, err := m.Hash(ctx, data)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

// Fingerprint returns the quantum fingerprint of data, "qf:" followed by the
// hex BLAKE3 digest.
func (m *Module) Fingerprint(ctx context.Context, data []byte) (string, error) {
	h, err := m.HashHex(ctx, data)
	if err != nil {
		return "", err
	}
	return FingerprintPrefix + h, nil
}

func checkLength(field string, b []byte, want int) error {
	if len(b) != want {
		return &LengthError{Field: field, Want: want, Got: len(b)}
	}
	return nil
}
