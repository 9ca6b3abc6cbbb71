package apiServer

import (
	"errors"
	"net/http"

	keybroker "github.com/i5heu/ouroboros-keybroker"
	"github.com/i5heu/ouroboros-keybroker/pkg/access"
	"github.com/i5heu/ouroboros-keybroker/pkg/encryptedMaps"
	"github.com/i5heu/ouroboros-keybroker/pkg/keyManager"
	"github.com/i5heu/ouroboros-keybroker/pkg/types"
	"github.com/i5heu/ouroboros-keybroker/pkg/vetkd"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, keyManager.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, keyManager.ErrInvalidOperation),
		errors.Is(err, types.ErrInvalidPrincipal),
		errors.Is(err, types.ErrInvalidKeyName),
		errors.Is(err, types.ErrInvalidKeyID),
		errors.Is(err, access.ErrInvalidAccessRights):
		return http.StatusBadRequest
	case errors.Is(err, encryptedMaps.ErrValueTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, vetkd.ErrRemoteCall):
		return http.StatusBadGateway
	case errors.Is(err, keybroker.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, keybroker.ErrNotInitialized),
		errors.Is(err, keybroker.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail answers with the status err maps to. Unauthorized replies carry no
// detail beyond the sentinel text.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusForbidden:
		msg = keyManager.ErrUnauthorized.Error()
	case http.StatusInternalServerError:
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = http.StatusText(status)
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		s.log.Warn("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}
