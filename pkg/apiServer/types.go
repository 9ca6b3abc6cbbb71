package apiServer

import (
	"net/http"

	"github.com/i5heu/ouroboros-keybroker/pkg/access"
	"github.com/i5heu/ouroboros-keybroker/pkg/types"
)

// CallerFunc establishes who sent a request. Authentication happens here;
// the broker only ever sees the principal it returns.
type CallerFunc func(req *http.Request) (types.Principal, error)

type Option func(*Server)

type errorResponse struct {
	Error string `json:"error"`
}

type setUserRightsRequest struct {
	Rights *access.AccessRights `json:"rights"`
}

type userRightsResponse struct {
	Rights *access.AccessRights `json:"rights"`
}

type previousRightsResponse struct {
	Previous *access.AccessRights `json:"previous"`
}

type encryptedVetkeyRequest struct {
	TransportPublicKey []byte `json:"transport_public_key"`
}

type encryptedVetkeyResponse struct {
	EncryptedKey []byte `json:"encrypted_key"`
}

type verificationKeyResponse struct {
	VerificationKey []byte `json:"verification_key"`
}

type keyIDsResponse struct {
	KeyIDs []types.KeyID `json:"key_ids"`
}

type mapNamesResponse struct {
	MapNames []types.MapName `json:"map_names"`
}

type insertValueRequest struct {
	Value []byte `json:"value"`
}

type valueResponse struct {
	Value []byte `json:"value"`
}

type previousValueResponse struct {
	Replaced bool   `json:"replaced"`
	Previous []byte `json:"previous"`
}

type removedValuesResponse struct {
	Removed [][]byte `json:"removed"`
}

type healthResponse struct {
	Status string `json:"status"`
	Reads  uint64 `json:"reads"`
	Writes uint64 `json:"writes"`
}
