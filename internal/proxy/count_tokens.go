package proxy

import (
	"io"
	"net/http"

	"messagebridge/internal/config"
)

// CountTokensHandler forwards POST /v1/messages/count_tokens verbatim to
// the Anthropic API, per spec.md §6. Grounded in
// x5iu-claude-code-adapter's onCountTokens, adapted to this proxy's
// allow-listed header forwarding instead of a full reverse proxy.
type CountTokensHandler struct {
	cfg    *config.Config
	client *http.Client
}

// NewCountTokensHandler wires a CountTokensHandler against cfg and client.
func NewCountTokensHandler(cfg *config.Config, client *http.Client) *CountTokensHandler {
	return &CountTokensHandler{cfg: cfg, client: client}
}

var _ http.Handler = (*CountTokensHandler)(nil)

func (h *CountTokensHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	removeForwardedHeaders(r.Header)

	upReq, err := buildDirectRequest(ctx, h.cfg.AnthropicBaseURL, "/v1/messages/count_tokens", r.Body, r.Header)
	if err != nil {
		writeError(ctx, w, http.StatusInternalServerError, err)
		return
	}

	resp, err := h.client.Do(upReq)
	if err != nil {
		writeError(ctx, w, http.StatusBadGateway, err)
		return
	}
	defer resp.Body.Close()

	copyUpstreamHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}
