package apiServer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	keybroker "github.com/i5heu/ouroboros-keybroker"
	"github.com/i5heu/ouroboros-keybroker/pkg/types"
)

// CallerHeader is read by HeaderCaller.
const CallerHeader = "X-Caller-Principal"

var errNoCaller = errors.New("apiServer: no caller identity configured")

type Server struct {
	mux    *http.ServeMux
	broker *keybroker.Broker
	log    *slog.Logger
	caller CallerFunc
}

func WithLogger(logger *slog.Logger) Option { // A
	return func(s *Server) {
		if logger != nil {
			s.log = logger
		}
	}
}

func WithCaller(caller CallerFunc) Option { // A
	return func(s *Server) {
		if caller != nil {
			s.caller = caller
		}
	}
}

// denyAll rejects every request until a CallerFunc is configured.
func denyAll(*http.Request) (types.Principal, error) {
	return types.Principal{}, errNoCaller
}

// HeaderCaller trusts the principal named in CallerHeader. Anyone who can
// reach the server can claim any identity, so only put it behind a proxy
// that authenticates and sets the header.
func HeaderCaller(req *http.Request) (types.Principal, error) { // A
	text := req.Header.Get(CallerHeader)
	if text == "" {
		return types.Principal{}, fmt.Errorf("missing %s header", CallerHeader)
	}
	return types.ParsePrincipal(text)
}

func New(broker *keybroker.Broker, opts ...Option) *Server { // A
	s := &Server{
		mux:    http.NewServeMux(),
		broker: broker,
		log:    slog.Default(),
		caller: denyAll,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s
}

func (s *Server) routes() { // A
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("GET /keys/verification-key", s.handleKeyVerificationKey)
	s.mux.HandleFunc("GET /keys/shared", s.handleAccessibleSharedKeyIDs)
	s.mux.HandleFunc("GET /keys/{owner}/{name}/users", s.handleSharedUserAccessForKey)
	s.mux.HandleFunc("GET /keys/{owner}/{name}/users/{user}", s.handleGetKeyUserRights)
	s.mux.HandleFunc("PUT /keys/{owner}/{name}/users/{user}", s.handleSetKeyUserRights)
	s.mux.HandleFunc("DELETE /keys/{owner}/{name}/users/{user}", s.handleRemoveKeyUser)
	s.mux.HandleFunc("POST /keys/{owner}/{name}/vetkey", s.handleKeyEncryptedVetkey)

	s.mux.HandleFunc("GET /maps/verification-key", s.handleMapVerificationKey)
	s.mux.HandleFunc("GET /maps/shared", s.handleAccessibleSharedMapNames)
	s.mux.HandleFunc("GET /maps/owned", s.handleOwnedNonEmptyMapNames)
	s.mux.HandleFunc("GET /maps/values", s.handleAllAccessibleEncryptedValues)
	s.mux.HandleFunc("GET /maps", s.handleAllAccessibleEncryptedMaps)
	s.mux.HandleFunc("GET /maps/{owner}/{name}/users", s.handleSharedUserAccessForMap)
	s.mux.HandleFunc("GET /maps/{owner}/{name}/users/{user}", s.handleGetMapUserRights)
	s.mux.HandleFunc("PUT /maps/{owner}/{name}/users/{user}", s.handleSetMapUserRights)
	s.mux.HandleFunc("DELETE /maps/{owner}/{name}/users/{user}", s.handleRemoveMapUser)
	s.mux.HandleFunc("POST /maps/{owner}/{name}/vetkey", s.handleMapEncryptedVetkey)
	s.mux.HandleFunc("GET /maps/{owner}/{name}/entries", s.handleEncryptedValuesForMap)
	s.mux.HandleFunc("DELETE /maps/{owner}/{name}/entries", s.handleRemoveMapValues)
	s.mux.HandleFunc("GET /maps/{owner}/{name}/entries/{key}", s.handleGetEncryptedValue)
	s.mux.HandleFunc("PUT /maps/{owner}/{name}/entries/{key}", s.handleInsertEncryptedValue)
	s.mux.HandleFunc("DELETE /maps/{owner}/{name}/entries/{key}", s.handleRemoveEncryptedValue)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // A
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	} else {
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, "+CallerHeader)
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.Header().Set("Access-Control-Allow-Methods", "GET,PUT,POST,DELETE,OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.mux.ServeHTTP(w, r)
}

// authenticate resolves the caller or answers 401.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (types.Principal, bool) {
	caller, err := s.caller(r)
	if err != nil {
		s.log.Warn("authentication failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: http.StatusText(http.StatusUnauthorized)})
		return types.Principal{}, false
	}
	return caller, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) { // A
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}
