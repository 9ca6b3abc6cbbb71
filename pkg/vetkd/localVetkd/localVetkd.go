// Package localVetkd is an in-process stand-in for the derivation service.
// Keys are derived with HKDF from a local master secret and encrypted to the
// transport key with X25519 and ChaCha20-Poly1305. It is deterministic and
// INSECURE: anyone holding the master secret can derive every key. Use it
// for tests and local development only.
package localVetkd

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/i5heu/ouroboros-keybroker/pkg/vetkd"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// MasterSecretSize is the size of the master secret in bytes.
const MasterSecretSize = 32

const (
	infoPublicKey = "ouroboros-keybroker/localVetkd/public-key"
	infoDerive    = "ouroboros-keybroker/localVetkd/derive"
	infoTransport = "ouroboros-keybroker/localVetkd/transport"
)

var (
	ErrUnknownKey          = errors.New("localVetkd: unknown master key")
	ErrInvalidTransportKey = errors.New("localVetkd: invalid transport key")
	ErrDecrypt             = errors.New("localVetkd: cannot decrypt derived key")
)

// Service implements vetkd.Client.
type Service struct {
	master [MasterSecretSize]byte
	keyID  vetkd.KeyID
}

var _ vetkd.Client = (*Service)(nil)

// New creates a service serving keyID from masterSecret.
func New(masterSecret []byte, keyID vetkd.KeyID) (*Service, error) { // A
	if len(masterSecret) != MasterSecretSize {
		return nil, fmt.Errorf("localVetkd: master secret must be %d bytes, got %d", MasterSecretSize, len(masterSecret))
	}
	s := &Service{keyID: keyID}
	copy(s.master[:], masterSecret)
	return s, nil
}

// LoadOrCreateMasterSecret reads the master secret at path, creating a
// random one on first use.
func LoadOrCreateMasterSecret(path string) ([]byte, error) { // A
	secret, err := os.ReadFile(path)
	if err == nil {
		if len(secret) != MasterSecretSize {
			return nil, fmt.Errorf("localVetkd: %s holds %d bytes, expected %d", path, len(secret), MasterSecretSize)
		}
		return secret, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read master secret: %w", err)
	}

	secret = make([]byte, MasterSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate master secret: %w", err)
	}
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, fmt.Errorf("write master secret: %w", err)
	}
	return secret, nil
}

func (s *Service) PublicKey(
	ctx context.Context,
	req vetkd.PublicKeyRequest,
) (vetkd.PublicKeyReply, error) { // A
	if err := ctx.Err(); err != nil {
		return vetkd.PublicKeyReply{}, err
	}
	if req.KeyID != s.keyID {
		return vetkd.PublicKeyReply{}, fmt.Errorf("%w: %s/%s", ErrUnknownKey, req.KeyID.Curve, req.KeyID.Name)
	}

	scalar, err := s.expand(req.Context, []byte(infoPublicKey))
	if err != nil {
		return vetkd.PublicKeyReply{}, err
	}
	pub, err := curve25519.X25519(scalar, curve25519.Basepoint)
	if err != nil {
		return vetkd.PublicKeyReply{}, fmt.Errorf("localVetkd: public key: %w", err)
	}
	return vetkd.PublicKeyReply{PublicKey: pub}, nil
}

func (s *Service) DeriveKey(
	ctx context.Context,
	req vetkd.DeriveKeyRequest,
) (vetkd.DeriveKeyReply, error) { // A
	if err := ctx.Err(); err != nil {
		return vetkd.DeriveKeyReply{}, err
	}
	if req.KeyID != s.keyID {
		return vetkd.DeriveKeyReply{}, fmt.Errorf("%w: %s/%s", ErrUnknownKey, req.KeyID.Curve, req.KeyID.Name)
	}
	if len(req.TransportPublicKey) != curve25519.PointSize {
		return vetkd.DeriveKeyReply{}, fmt.Errorf(
			"%w: expected %d bytes, got %d",
			ErrInvalidTransportKey,
			curve25519.PointSize,
			len(req.TransportPublicKey),
		)
	}

	info := append([]byte(infoDerive), req.Input...)
	derived, err := s.expand(req.Context, info)
	if err != nil {
		return vetkd.DeriveKeyReply{}, err
	}

	sealed, err := seal(req.TransportPublicKey, derived, req.Input)
	if err != nil {
		return vetkd.DeriveKeyReply{}, err
	}
	return vetkd.DeriveKeyReply{EncryptedKey: sealed}, nil
}

func (s *Service) expand(salt, info []byte) ([]byte, error) {
	out := make([]byte, 32)
	r := hkdf.New(sha256.New, s.master[:], salt, info)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("localVetkd: hkdf: %w", err)
	}
	return out, nil
}

// GenerateTransportKey returns a fresh X25519 key pair to receive derived
// keys with.
func GenerateTransportKey() (private, public []byte, err error) { // A
	private = make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(private); err != nil {
		return nil, nil, err
	}
	public, err = curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	return private, public, nil
}

// Open decrypts an encrypted key returned by DeriveKey. input must be the
// derivation input of the request.
func Open(transportPrivate, encryptedKey, input []byte) ([]byte, error) { // A
	if len(encryptedKey) < curve25519.PointSize {
		return nil, fmt.Errorf("%w: too short", ErrDecrypt)
	}
	ephemeralPub := encryptedKey[:curve25519.PointSize]
	transportPub, err := curve25519.X25519(transportPrivate, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	shared, err := curve25519.X25519(transportPrivate, ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	aead, err := transportAEAD(shared, ephemeralPub, transportPub)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	plain, err := aead.Open(nil, nonce, encryptedKey[curve25519.PointSize:], input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plain, nil
}

func seal(transportPub, plaintext, ad []byte) ([]byte, error) {
	ephemeralPriv, ephemeralPub, err := GenerateTransportKey()
	if err != nil {
		return nil, fmt.Errorf("localVetkd: ephemeral key: %w", err)
	}
	shared, err := curve25519.X25519(ephemeralPriv, transportPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransportKey, err)
	}
	aead, err := transportAEAD(shared, ephemeralPub, transportPub)
	if err != nil {
		return nil, err
	}
	// Every message uses a fresh ephemeral key, so a zero nonce never repeats under one key.
	nonce := make([]byte, chacha20poly1305.NonceSize)
	out := append([]byte(nil), ephemeralPub...)
	return aead.Seal(out, nonce, plaintext, ad), nil
}

func transportAEAD(shared, ephemeralPub, transportPub []byte) (cipher.AEAD, error) {
	salt := append(append([]byte(nil), ephemeralPub...), transportPub...)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(infoTransport)), key); err != nil {
		return nil, fmt.Errorf("localVetkd: transport key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("localVetkd: aead: %w", err)
	}
	return aead, nil
}
