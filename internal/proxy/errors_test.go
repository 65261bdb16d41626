package proxy

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizeMessageRedactsSecrets(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"api key", "request failed with key sk-ant-" + strings.Repeat("x", 24), "request failed with key [redacted]"},
		{"bearer token", "auth header Bearer abcdefghijklmnopqrstuvwxyz123456", "auth header [redacted]"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := sanitizeMessage(c.in)
			if got != c.want {
				t.Errorf("sanitizeMessage(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestSanitizeMessageRedactsPaths(t *testing.T) {
	got := sanitizeMessage("open /home/user/.config/messagebridge/secrets.json: permission denied")
	if strings.Contains(got, "/home/user") {
		t.Errorf("sanitizeMessage did not redact path: %q", got)
	}
	if !strings.Contains(got, "[path]") {
		t.Errorf("sanitizeMessage missing [path] marker: %q", got)
	}
}

func TestSanitizeMessageTruncates(t *testing.T) {
	long := strings.Repeat("x", 500)
	got := sanitizeMessage(long)
	if len(got) != sanitizedMessageMaxLen {
		t.Errorf("len(sanitizeMessage(long)) = %d, want %d", len(got), sanitizedMessageMaxLen)
	}
}

func TestSanitizeErrorWrapsUnderlying(t *testing.T) {
	err := errors.New("upstream said sk-ant-" + strings.Repeat("x", 24) + " failed")
	got := sanitizeError(err)
	if strings.Contains(got, "sk-ant") {
		t.Errorf("sanitizeError leaked secret: %q", got)
	}
}

func TestStatusForUpstream(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{429, 429},
		{500, 500},
		{200, 502},
		{0, 502},
	}
	for _, c := range cases {
		if got := statusForUpstream(c.in); got != c.want {
			t.Errorf("statusForUpstream(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestIsBlank(t *testing.T) {
	if !isBlank("   \n\t") {
		t.Error("isBlank(whitespace) = false, want true")
	}
	if isBlank("x") {
		t.Error("isBlank(\"x\") = true, want false")
	}
}

func TestUpstreamHTTPErrorMessage(t *testing.T) {
	err := &upstreamHTTPError{Status: 503, Body: "service unavailable"}
	if !strings.Contains(err.Error(), "service unavailable") {
		t.Errorf("upstreamHTTPError.Error() = %q, missing body", err.Error())
	}
}
