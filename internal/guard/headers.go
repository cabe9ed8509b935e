package guard

import (
	"net/http"
	"strings"

	"github.com/Retio-ai/pagemap/internal/pagemaperr"
)

// securityHeaders are applied to every HTTP response exactly once,
// preserving any same-named header already set by the inner handler.
var securityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Cross-Origin-Opener-Policy", "same-origin"},
	{"Cross-Origin-Resource-Policy", "same-origin"},
	{"Permissions-Policy", "camera=(), microphone=(), geolocation=(), payment=()"},
	{"X-Permitted-Cross-Domain-Policies", "none"},
	{"Cache-Control", "no-store, max-age=0"},
}

const hstsValue = "max-age=63072000; includeSubDomains; preload"

// HeaderPolicy configures the security-headers middleware.
type HeaderPolicy struct {
	// RequireTLS rejects plain-HTTP requests with 421 when set.
	RequireTLS bool
	// TrustProxyProto honors X-Forwarded-Proto from a trusted proxy when
	// deciding the effective scheme.
	TrustProxyProto bool
}

// SecurityHeaders wraps next with OWASP response headers and optional TLS
// enforcement. Non-HTTPS requests under RequireTLS get a 421 problem+json
// response that still carries every security header.
func SecurityHeaders(policy HeaderPolicy, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range securityHeaders {
			if h.Get(kv[0]) == "" {
				h.Set(kv[0], kv[1])
			}
		}
		if policy.RequireTLS {
			if h.Get("Strict-Transport-Security") == "" {
				h.Set("Strict-Transport-Security", hstsValue)
			}
			if effectiveScheme(r, policy.TrustProxyProto) != "https" {
				p := pagemaperr.ProblemDetail{
					Type:   pagemaperr.ProblemTLSRequired.URI(),
					Title:  "TLS Required",
					Status: http.StatusMisdirectedRequest,
					Detail: "this endpoint requires HTTPS",
				}
				h.Set("Content-Type", "application/problem+json")
				w.WriteHeader(http.StatusMisdirectedRequest)
				_, _ = w.Write(p.JSON())
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func effectiveScheme(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			return strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
