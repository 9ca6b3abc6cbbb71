// Package vetkd describes the external key derivation service the broker
// forwards derivation requests to, and ships an HTTP client and handler
// for it.
package vetkd

import (
	"context"
	"errors"
)

// ErrRemoteCall marks every failure of a derivation service call. The cause
// is wrapped unchanged and calls are never retried.
var ErrRemoteCall = errors.New("vetkd: remote call failed")

// Curve names the curve of a derivation master key.
type Curve string

const CurveBLS12381G2 Curve = "bls12_381_g2"

// DefaultKeyName is the master key development deployments derive from.
const DefaultKeyName = "insecure_test_key_1"

// KeyID selects the master key the service derives from.
type KeyID struct {
	Curve Curve  `json:"curve"`
	Name  string `json:"name"`
}

// DefaultKeyID is the development master key.
func DefaultKeyID() KeyID {
	return KeyID{Curve: CurveBLS12381G2, Name: DefaultKeyName}
}

type DeriveKeyRequest struct {
	Input              []byte `json:"input"`
	Context            []byte `json:"context"`
	KeyID              KeyID  `json:"key_id"`
	TransportPublicKey []byte `json:"transport_public_key"`
}

type DeriveKeyReply struct {
	EncryptedKey []byte `json:"encrypted_key"`
}

type PublicKeyRequest struct {
	Context []byte `json:"context"`
	KeyID   KeyID  `json:"key_id"`
}

type PublicKeyReply struct {
	PublicKey []byte `json:"public_key"`
}

// Client is the derivation service. Both calls may block on the network;
// timeouts and cancellation come from ctx.
type Client interface { // A
	DeriveKey(ctx context.Context, req DeriveKeyRequest) (DeriveKeyReply, error)
	PublicKey(ctx context.Context, req PublicKeyRequest) (PublicKeyReply, error)
}
