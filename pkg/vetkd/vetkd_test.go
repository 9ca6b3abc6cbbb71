package vetkd_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/i5heu/ouroboros-keybroker/pkg/vetkd"
	"github.com/i5heu/ouroboros-keybroker/pkg/vetkd/localVetkd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalServer(t *testing.T) (*localVetkd.Service, *vetkd.HTTPClient) {
	t.Helper()
	service, err := localVetkd.New(bytes.Repeat([]byte{1}, localVetkd.MasterSecretSize), vetkd.DefaultKeyID())
	require.NoError(t, err)

	srv := httptest.NewServer(vetkd.NewHandler(service, nil))
	t.Cleanup(srv.Close)
	return service, vetkd.NewHTTPClient(srv.URL+"/", vetkd.WithHTTPClient(srv.Client()))
}

func TestHTTPClient_DeriveKeyMatchesService(t *testing.T) {
	t.Parallel()
	service, client := newLocalServer(t)

	priv, pub, err := localVetkd.GenerateTransportKey()
	require.NoError(t, err)
	req := vetkd.DeriveKeyRequest{
		Input:              []byte("input"),
		Context:            []byte("ctx"),
		KeyID:              vetkd.DefaultKeyID(),
		TransportPublicKey: pub,
	}

	remote, err := client.DeriveKey(t.Context(), req)
	require.NoError(t, err)
	local, err := service.DeriveKey(t.Context(), req)
	require.NoError(t, err)

	remoteKey, err := localVetkd.Open(priv, remote.EncryptedKey, req.Input)
	require.NoError(t, err)
	localKey, err := localVetkd.Open(priv, local.EncryptedKey, req.Input)
	require.NoError(t, err)
	assert.Equal(t, localKey, remoteKey)
}

func TestHTTPClient_PublicKey(t *testing.T) {
	t.Parallel()
	service, client := newLocalServer(t)

	req := vetkd.PublicKeyRequest{Context: []byte("ctx"), KeyID: vetkd.DefaultKeyID()}
	remote, err := client.PublicKey(t.Context(), req)
	require.NoError(t, err)
	local, err := service.PublicKey(t.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, local.PublicKey, remote.PublicKey)
}

func TestHTTPClient_ServiceErrorIsRemoteCall(t *testing.T) {
	t.Parallel()
	_, client := newLocalServer(t)

	_, err := client.DeriveKey(t.Context(), vetkd.DeriveKeyRequest{
		KeyID:              vetkd.DefaultKeyID(),
		TransportPublicKey: []byte("too short"),
	})
	require.ErrorIs(t, err, vetkd.ErrRemoteCall)
	assert.Contains(t, err.Error(), "invalid transport key")
}

func TestHTTPClient_UnreachableIsRemoteCall(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := vetkd.NewHTTPClient(url).PublicKey(t.Context(), vetkd.PublicKeyRequest{KeyID: vetkd.DefaultKeyID()})
	assert.ErrorIs(t, err, vetkd.ErrRemoteCall)
}

func TestHandler_RejectsMalformedRequest(t *testing.T) {
	t.Parallel()
	service, err := localVetkd.New(make([]byte, localVetkd.MasterSecretSize), vetkd.DefaultKeyID())
	require.NoError(t, err)
	h := vetkd.NewHandler(service, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/vetkd/public_key", strings.NewReader(`{"unknown":1}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/vetkd/public_key", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
