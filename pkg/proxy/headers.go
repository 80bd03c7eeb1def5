package proxy

import (
	"encoding/base64"
	"net"
	"net/http"

	"lumen-hq/lumen/pkg/upstream"
)

// hopByHopHeaders are connection-scoped headers that must not be forwarded
// between hops (RFC 9110 §7.6.1).
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// copyHeaders copies all headers from src to dst except hop-by-hop headers
// and any header named by the Connection header itself.
func copyHeaders(dst, src http.Header) {
	connectionScoped := map[string]bool{}
	for _, v := range src.Values("Connection") {
		connectionScoped[http.CanonicalHeaderKey(v)] = true
	}

	for key, values := range src {
		if isHopByHop(key) || connectionScoped[key] {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func isHopByHop(key string) bool {
	for _, h := range hopByHopHeaders {
		if http.CanonicalHeaderKey(h) == http.CanonicalHeaderKey(key) {
			return true
		}
	}
	return false
}

// applyHeaderOps applies the upstream's configured header rewrites in
// declared order. Insert only sets a header that is absent; replace always
// overwrites; remove deletes.
func applyHeaderOps(h http.Header, ops []upstream.HeaderOperation) {
	for _, op := range ops {
		switch op.Op {
		case upstream.HeaderInsert:
			if h.Get(op.Key) == "" {
				h.Set(op.Key, op.Value)
			}
		case upstream.HeaderReplace:
			h.Set(op.Key, op.Value)
		case upstream.HeaderRemove:
			h.Del(op.Key)
		}
	}
}

// applyAuth injects the upstream's credentials, replacing any Authorization
// header the client sent.
func applyAuth(h http.Header, auth upstream.AuthConfig) {
	switch auth.Type {
	case upstream.AuthBearer:
		h.Set("Authorization", "Bearer "+auth.Token)
	case upstream.AuthBasic:
		creds := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
		h.Set("Authorization", "Basic "+creds)
	}
}

// appendForwardedFor appends the client IP to X-Forwarded-For.
func appendForwardedFor(h http.Header, remoteAddr string) {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		ip = remoteAddr
	}
	if prior := h.Get("X-Forwarded-For"); prior != "" {
		h.Set("X-Forwarded-For", prior+", "+ip)
	} else {
		h.Set("X-Forwarded-For", ip)
	}
}
