package apiServer

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/i5heu/ouroboros-keybroker/pkg/access"
	"github.com/i5heu/ouroboros-keybroker/pkg/keyManager"
	"github.com/i5heu/ouroboros-keybroker/pkg/types"
)

const maxBodySize = 8 << 20

var errMissingRights = errors.New("missing rights")

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.broker.Stats()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Reads: stats.Reads, Writes: stats.Writes})
}

// keyIDFromPath reads {owner} and {name}.
func keyIDFromPath(r *http.Request) (types.KeyID, error) {
	owner, err := types.ParsePrincipal(r.PathValue("owner"))
	if err != nil {
		return types.KeyID{}, err
	}
	name, err := types.ParseKeyName(r.PathValue("name"))
	if err != nil {
		return types.KeyID{}, err
	}
	return types.KeyID{Owner: owner, Name: name}, nil
}

func userFromPath(r *http.Request) (types.Principal, error) {
	return types.ParsePrincipal(r.PathValue("user"))
}

func decodeBody(r *http.Request, w http.ResponseWriter, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func rightsPtr(rights access.AccessRights, ok bool) *access.AccessRights {
	if !ok {
		return nil
	}
	return &rights
}

// request resolves caller and KeyID, or answers and returns false.
func (s *Server) request(w http.ResponseWriter, r *http.Request) (types.Principal, types.KeyID, bool) {
	caller, ok := s.authenticate(w, r)
	if !ok {
		return types.Principal{}, types.KeyID{}, false
	}
	keyID, err := keyIDFromPath(r)
	if err != nil {
		s.badRequest(w, err)
		return types.Principal{}, types.KeyID{}, false
	}
	return caller, keyID, true
}

func (s *Server) keyManager(w http.ResponseWriter, r *http.Request) (*keyManager.KeyManager, bool) {
	km, err := s.broker.KeyManager()
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return km, true
}

func (s *Server) handleKeyVerificationKey(w http.ResponseWriter, r *http.Request) {
	km, ok := s.keyManager(w, r)
	if !ok {
		return
	}
	key, err := km.GetVetkeyVerificationKey(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verificationKeyResponse{VerificationKey: key})
}

func (s *Server) handleAccessibleSharedKeyIDs(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	km, ok := s.keyManager(w, r)
	if !ok {
		return
	}
	ids, err := km.GetAccessibleSharedKeyIDs(caller)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keyIDsResponse{KeyIDs: ids})
}

func (s *Server) handleSharedUserAccessForKey(w http.ResponseWriter, r *http.Request) {
	caller, keyID, ok := s.request(w, r)
	if !ok {
		return
	}
	km, ok := s.keyManager(w, r)
	if !ok {
		return
	}
	grants, err := km.GetSharedUserAccessForKey(caller, keyID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grants)
}

func (s *Server) handleGetKeyUserRights(w http.ResponseWriter, r *http.Request) {
	caller, keyID, ok := s.request(w, r)
	if !ok {
		return
	}
	user, err := userFromPath(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	km, ok := s.keyManager(w, r)
	if !ok {
		return
	}
	rights, found, err := km.GetUserRights(caller, keyID, user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userRightsResponse{Rights: rightsPtr(rights, found)})
}

func (s *Server) handleSetKeyUserRights(w http.ResponseWriter, r *http.Request) {
	caller, keyID, ok := s.request(w, r)
	if !ok {
		return
	}
	user, err := userFromPath(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req setUserRightsRequest
	if err := decodeBody(r, w, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	if req.Rights == nil {
		s.badRequest(w, errMissingRights)
		return
	}
	km, ok := s.keyManager(w, r)
	if !ok {
		return
	}
	previous, had, err := km.SetUserRights(caller, keyID, user, *req.Rights)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, previousRightsResponse{Previous: rightsPtr(previous, had)})
}

func (s *Server) handleRemoveKeyUser(w http.ResponseWriter, r *http.Request) {
	caller, keyID, ok := s.request(w, r)
	if !ok {
		return
	}
	user, err := userFromPath(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	km, ok := s.keyManager(w, r)
	if !ok {
		return
	}
	previous, had, err := km.RemoveUser(caller, keyID, user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, previousRightsResponse{Previous: rightsPtr(previous, had)})
}

func (s *Server) handleKeyEncryptedVetkey(w http.ResponseWriter, r *http.Request) {
	caller, keyID, ok := s.request(w, r)
	if !ok {
		return
	}
	var req encryptedVetkeyRequest
	if err := decodeBody(r, w, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	km, ok := s.keyManager(w, r)
	if !ok {
		return
	}
	key, err := km.GetEncryptedVetkey(r.Context(), caller, keyID, req.TransportPublicKey)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encryptedVetkeyResponse{EncryptedKey: key})
}
