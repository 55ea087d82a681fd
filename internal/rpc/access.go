package rpc

import (
	"crypto/subtle"
	"net/http"
	"net/netip"
	"slices"
)

// BasicAuthUser is the user name paired with the API secret.
const BasicAuthUser = "slatewallet"

// access decides who may talk to an API: a source address allow list,
// CORS origins for browser clients and an optional basic auth secret.
type access struct {
	nets    []netip.Prefix // empty allows every address
	origins []string       // empty sends no CORS headers
	secret  string         // empty disables auth
}

// parseAllowedIPs reads IP and CIDR entries. Bare addresses become
// single-host prefixes; malformed entries are skipped.
func parseAllowedIPs(entries []string) []netip.Prefix {
	var out []netip.Prefix
	for _, e := range entries {
		if p, err := netip.ParsePrefix(e); err == nil {
			out = append(out, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(e); err == nil {
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return out
}

func (a *access) permits(remoteAddr string) bool {
	if len(a.nets) == 0 {
		return true
	}
	ap, err := netip.ParseAddrPort(remoteAddr)
	if err != nil {
		return false
	}
	ip := ap.Addr().Unmap()
	return slices.ContainsFunc(a.nets, func(p netip.Prefix) bool { return p.Contains(ip) })
}

func (a *access) authorized(r *http.Request) bool {
	if a.secret == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	return ok && user == BasicAuthUser && subtle.ConstantTimeCompare([]byte(pass), []byte(a.secret)) == 1
}

// cors sets the CORS response headers when the request's origin is listed.
func (a *access) cors(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" || len(a.origins) == 0 {
		return
	}
	switch {
	case slices.Contains(a.origins, "*"):
		w.Header().Set("Access-Control-Allow-Origin", "*")
	case slices.Contains(a.origins, origin):
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	default:
		return
	}
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

// wrap applies the policy in front of next. Preflight requests are
// answered before auth since browsers send them without credentials.
func (a *access) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.permits(r.RemoteAddr) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		a.cors(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if !a.authorized(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="`+BasicAuthUser+`"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
