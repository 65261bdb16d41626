package store

import "strings"

// sensitiveHeaders is the case-insensitive set of header names MaskHeaders
// redacts before a request is recorded.
var sensitiveHeaders = map[string]bool{
	"x-api-key":     true,
	"authorization": true,
}

// MaskHeaders returns a copy of headers with every sensitive header value
// masked: values longer than 20 characters keep their first 10 and last 4
// characters, values longer than 10 keep only their first 6, and anything
// shorter is left as-is since there is nothing left to hide.
func MaskHeaders(headers map[string][]string) map[string][]string {
	if headers == nil {
		return nil
	}
	out := make(map[string][]string, len(headers))
	for name, values := range headers {
		if !sensitiveHeaders[strings.ToLower(name)] {
			out[name] = values
			continue
		}
		masked := make([]string, len(values))
		for i, v := range values {
			masked[i] = maskValue(v)
		}
		out[name] = masked
	}
	return out
}

func maskValue(v string) string {
	switch {
	case len(v) > 20:
		return v[:10] + "..." + v[len(v)-4:]
	case len(v) > 10:
		return v[:6] + "..."
	default:
		return v
	}
}
