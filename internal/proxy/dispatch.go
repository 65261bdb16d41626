package proxy

import (
	"context"
	"io"
	"net/http"
	"os"
)

// forwardedHeaders are stripped from every outbound request before
// dispatch, per SPEC_FULL.md's supplemented removeForwardedHeaders feature
// (grounded in x5iu-claude-code-adapter's serve.go).
var forwardedHeaders = []string{
	"Forwarded",
	"X-Forwarded-For",
	"X-Forwarded-Host",
	"X-Forwarded-Port",
	"X-Forwarded-Proto",
	"X-Forwarded-Scheme",
}

func removeForwardedHeaders(h http.Header) {
	for _, name := range forwardedHeaders {
		h.Del(name)
	}
}

// directPassthroughHeaders is the allow-list of inbound headers forwarded
// verbatim to the Anthropic API in Direct mode, per spec.md §6.
var directPassthroughHeaders = []string{
	"X-Api-Key",
	"Authorization",
	"Anthropic-Version",
	"Anthropic-Beta",
	"User-Agent",
}

// buildDirectRequest prepares the verbatim upstream request for Direct mode:
// same path, an allow-listed header subset, and a default anthropic-version
// when the client did not supply one.
func buildDirectRequest(ctx context.Context, baseURL, path string, body io.Reader, inbound http.Header) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, body)
	if err != nil {
		return nil, err
	}
	for _, name := range directPassthroughHeaders {
		if v := inbound.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}
	if req.Header.Get("Anthropic-Version") == "" {
		req.Header.Set("Anthropic-Version", "2023-06-01")
	}
	req.Header.Set("Content-Type", "application/json")
	removeForwardedHeaders(req.Header)
	return req, nil
}

// buildTranslatedRequest prepares the outbound OpenRouter request for
// Translated mode: the API key is read fresh from the environment on every
// call, never cached on the Config, per spec.md §6/§3.3.
func buildTranslatedRequest(ctx context.Context, baseURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat/completions", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+os.Getenv("OPENROUTER_API_KEY"))
	removeForwardedHeaders(req.Header)
	return req, nil
}
