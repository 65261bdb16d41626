package proxy

import (
	"context"
	"net/http"
	"regexp"
	"strings"
)

// secretLike matches API-key and bearer-token substrings that must never
// reach a client-visible error message, per spec.md §4.5.
var secretLike = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_\-]{20,}`),
	regexp.MustCompile(`Bearer\s+[A-Za-z0-9_\-]{20,}`),
}

// pathLike matches filesystem-path substrings, scrubbed from error messages
// for the same reason: they can leak deployment-specific detail to a client.
var pathLike = regexp.MustCompile(`(?:/[A-Za-z0-9_.\-]+){2,}`)

const sanitizedMessageMaxLen = 200

// sanitizeError implements spec.md §4.5's error sanitization: redact
// secrets and path-like substrings, then truncate to 200 characters.
func sanitizeError(err error) string {
	return sanitizeMessage(err.Error())
}

func sanitizeMessage(msg string) string {
	for _, re := range secretLike {
		msg = re.ReplaceAllString(msg, "[redacted]")
	}
	msg = pathLike.ReplaceAllString(msg, "[path]")
	if len(msg) > sanitizedMessageMaxLen {
		msg = msg[:sanitizedMessageMaxLen]
	}
	return msg
}

// nativeError is the JSON body written for a pre-stream failure, per
// spec.md §7's "JSON body {error: <sanitized string>}" contract.
type nativeError struct {
	Error string `json:"error"`
}

// writeError replies with a sanitized JSON error body at the given HTTP
// status. It must only be called before any response bytes have been sent.
func writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	writeJSON(ctx, w, nativeError{Error: sanitizeError(err)}, status)
}

// statusForUpstream maps an UpstreamHTTPError's observed status to the
// status this proxy surfaces to its own client: a 4xx/5xx status is passed
// through unchanged; anything below 400 becomes 502 Bad Gateway.
func statusForUpstream(upstreamStatus int) int {
	if upstreamStatus < 400 {
		return http.StatusBadGateway
	}
	return upstreamStatus
}

// upstreamHTTPError is the UpstreamHTTPError taxonomy entry of spec.md §7:
// the upstream responded with a non-2xx status.
type upstreamHTTPError struct {
	Status int
	Body   string
}

func (e *upstreamHTTPError) Error() string {
	return "upstream returned status " + http.StatusText(e.Status) + ": " + truncate(e.Body, 200)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// isBlank reports whether s is empty after trimming whitespace, used to
// decide whether an upstream error body is worth surfacing.
func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
