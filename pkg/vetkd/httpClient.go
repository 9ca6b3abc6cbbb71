package vetkd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
)

const (
	deriveKeyPath = "/vetkd/derive_key"
	publicKeyPath = "/vetkd/public_key"

	// RequestIDHeader carries the correlation id of a call.
	RequestIDHeader = "X-Request-Id"

	maxReplySize = 1 << 20
)

// HTTPClient calls a derivation service exposed through Handler.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the pooled default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) { h.http = c }
}

func WithLogger(log *slog.Logger) HTTPOption {
	return func(h *HTTPClient) { h.log = log }
}

func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient { // A
	h := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    cleanhttp.DefaultPooledClient(),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTPClient) DeriveKey(
	ctx context.Context,
	req DeriveKeyRequest,
) (DeriveKeyReply, error) { // A
	var reply DeriveKeyReply
	err := h.call(ctx, deriveKeyPath, req, &reply)
	return reply, err
}

func (h *HTTPClient) PublicKey(
	ctx context.Context,
	req PublicKeyRequest,
) (PublicKeyReply, error) { // A
	var reply PublicKeyReply
	err := h.call(ctx, publicKeyPath, req, &reply)
	return reply, err
}

func (h *HTTPClient) call(
	ctx context.Context,
	path string,
	in any,
	out any,
) error { // A
	requestID := uuid.NewString()
	log := h.log.With("requestId", requestID, "path", path)

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%w: encode request: %w", ErrRemoteCall, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrRemoteCall, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(RequestIDHeader, requestID)

	resp, err := h.http.Do(httpReq)
	if err != nil {
		log.WarnContext(ctx, "derivation service unreachable", "error", err)
		return fmt.Errorf("%w: %s: %w", ErrRemoteCall, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return fmt.Errorf("%w: read reply: %w", ErrRemoteCall, err)
	}

	if resp.StatusCode != http.StatusOK {
		var e errorReply
		msg := strings.TrimSpace(string(payload))
		if json.Unmarshal(payload, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		log.WarnContext(ctx, "derivation service rejected call", "status", resp.StatusCode, "error", msg)
		return fmt.Errorf("%w: %s: status %d: %s", ErrRemoteCall, path, resp.StatusCode, msg)
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: decode reply: %w", ErrRemoteCall, err)
	}
	log.DebugContext(ctx, "derivation service call done")
	return nil
}
