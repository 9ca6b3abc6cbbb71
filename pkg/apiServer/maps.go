package apiServer

import (
	"net/http"

	"github.com/i5heu/ouroboros-keybroker/pkg/encryptedMaps"
	"github.com/i5heu/ouroboros-keybroker/pkg/types"
)

func (s *Server) encryptedMaps(w http.ResponseWriter, r *http.Request) (*encryptedMaps.EncryptedMaps, bool) {
	em, err := s.broker.EncryptedMaps()
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return em, true
}

// mapRequest is request plus the maps service.
func (s *Server) mapRequest(
	w http.ResponseWriter,
	r *http.Request,
) (*encryptedMaps.EncryptedMaps, types.Principal, types.MapID, bool) {
	caller, mapID, ok := s.request(w, r)
	if !ok {
		return nil, types.Principal{}, types.MapID{}, false
	}
	em, ok := s.encryptedMaps(w, r)
	if !ok {
		return nil, types.Principal{}, types.MapID{}, false
	}
	return em, caller, mapID, true
}

func mapKeyFromPath(r *http.Request) (types.MapKey, error) {
	return types.ParseMapKey(r.PathValue("key"))
}

func (s *Server) handleMapVerificationKey(w http.ResponseWriter, r *http.Request) {
	em, ok := s.encryptedMaps(w, r)
	if !ok {
		return
	}
	key, err := em.GetVetkeyVerificationKey(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verificationKeyResponse{VerificationKey: key})
}

func (s *Server) handleAccessibleSharedMapNames(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	em, ok := s.encryptedMaps(w, r)
	if !ok {
		return
	}
	ids, err := em.GetAccessibleSharedMapNames(caller)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keyIDsResponse{KeyIDs: ids})
}

func (s *Server) handleOwnedNonEmptyMapNames(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	em, ok := s.encryptedMaps(w, r)
	if !ok {
		return
	}
	names, err := em.GetOwnedNonEmptyMapNames(caller)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapNamesResponse{MapNames: names})
}

func (s *Server) handleAllAccessibleEncryptedValues(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	em, ok := s.encryptedMaps(w, r)
	if !ok {
		return
	}
	values, err := em.GetAllAccessibleEncryptedValues(caller)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

func (s *Server) handleAllAccessibleEncryptedMaps(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	em, ok := s.encryptedMaps(w, r)
	if !ok {
		return
	}
	maps, err := em.GetAllAccessibleEncryptedMaps(caller)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, maps)
}

func (s *Server) handleSharedUserAccessForMap(w http.ResponseWriter, r *http.Request) {
	em, caller, mapID, ok := s.mapRequest(w, r)
	if !ok {
		return
	}
	grants, err := em.GetSharedUserAccessForMap(caller, mapID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grants)
}

func (s *Server) handleGetMapUserRights(w http.ResponseWriter, r *http.Request) {
	em, caller, mapID, ok := s.mapRequest(w, r)
	if !ok {
		return
	}
	user, err := userFromPath(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	rights, found, err := em.GetUserRights(caller, mapID, user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userRightsResponse{Rights: rightsPtr(rights, found)})
}

func (s *Server) handleSetMapUserRights(w http.ResponseWriter, r *http.Request) {
	em, caller, mapID, ok := s.mapRequest(w, r)
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
	previous, had, err := em.SetUserRights(caller, mapID, user, *req.Rights)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, previousRightsResponse{Previous: rightsPtr(previous, had)})
}

func (s *Server) handleRemoveMapUser(w http.ResponseWriter, r *http.Request) {
	em, caller, mapID, ok := s.mapRequest(w, r)
	if !ok {
		return
	}
	user, err := userFromPath(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	previous, had, err := em.RemoveUser(caller, mapID, user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, previousRightsResponse{Previous: rightsPtr(previous, had)})
}

func (s *Server) handleMapEncryptedVetkey(w http.ResponseWriter, r *http.Request) {
	em, caller, mapID, ok := s.mapRequest(w, r)
	if !ok {
		return
	}
	var req encryptedVetkeyRequest
	if err := decodeBody(r, w, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	key, err := em.GetEncryptedVetkey(r.Context(), caller, mapID, req.TransportPublicKey)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encryptedVetkeyResponse{EncryptedKey: key})
}

func (s *Server) handleEncryptedValuesForMap(w http.ResponseWriter, r *http.Request) {
	em, caller, mapID, ok := s.mapRequest(w, r)
	if !ok {
		return
	}
	entries, err := em.GetEncryptedValuesForMap(caller, mapID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRemoveMapValues(w http.ResponseWriter, r *http.Request) {
	em, caller, mapID, ok := s.mapRequest(w, r)
	if !ok {
		return
	}
	removed, err := em.RemoveMapValues(caller, mapID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, removedValuesResponse{Removed: removed})
}

func (s *Server) handleGetEncryptedValue(w http.ResponseWriter, r *http.Request) {
	em, caller, mapID, ok := s.mapRequest(w, r)
	if !ok {
		return
	}
	key, err := mapKeyFromPath(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	value, found, err := em.GetEncryptedValue(caller, mapID, key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: http.StatusText(http.StatusNotFound)})
		return
	}
	writeJSON(w, http.StatusOK, valueResponse{Value: value})
}

func (s *Server) handleInsertEncryptedValue(w http.ResponseWriter, r *http.Request) {
	em, caller, mapID, ok := s.mapRequest(w, r)
	if !ok {
		return
	}
	key, err := mapKeyFromPath(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req insertValueRequest
	if err := decodeBody(r, w, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	previous, had, err := em.InsertEncryptedValue(caller, mapID, key, req.Value)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, previousValueResponse{Replaced: had, Previous: previous})
}

func (s *Server) handleRemoveEncryptedValue(w http.ResponseWriter, r *http.Request) {
	em, caller, mapID, ok := s.mapRequest(w, r)
	if !ok {
		return
	}
	key, err := mapKeyFromPath(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	previous, had, err := em.RemoveEncryptedValue(caller, mapID, key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, previousValueResponse{Replaced: had, Previous: previous})
}
