package capi

import (
	"net/http"
	"strings"
)

// UnknownIP is reported when no proxy header carries the client address.
const UnknownIP = "unknown"

// ipHeaders in priority order.
var ipHeaders = []string{
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Real-IP",
	"X-Forwarded-For",
	"X-Client-IP",
}

// ClientIP extracts the caller address from proxy headers. For
// X-Forwarded-For only the first hop is used.
func ClientIP(h http.Header) string {
	for _, name := range ipHeaders {
		v := strings.TrimSpace(h.Get(name))
		if v == "" {
			continue
		}
		if name == "X-Forwarded-For" {
			first, _, _ := strings.Cut(v, ",")
			v = strings.TrimSpace(first)
			if v == "" {
				continue
			}
		}
		return v
	}
	return UnknownIP
}
