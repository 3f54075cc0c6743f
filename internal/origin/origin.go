// Package origin validates browser Origin headers for the relay's HTTP and
// WebSocket endpoints.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates and normalizes a browser Origin header.
//
// It returns the normalized origin (scheme://host[:port], default ports
// stripped) and the host[:port] portion for same-host comparisons. The special
// Origin value "null" is allowed and returned as-is.
func Normalize(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	hostname, port, ok := hostAndPort(u.Host)
	if !ok || hostname == "" {
		return "", "", false
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host = hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host = host + ":" + strconv.Itoa(port)
	}
	return scheme + "://" + host, host, true
}

// IsAllowed reports whether the normalized origin may access the given
// request host.
//
// If allowedOrigins is non-empty, each entry must be either "*" or a
// normalized origin string (as produced by Normalize). Otherwise the default
// policy is same-host only; default ports are treated as equivalent. Scheme is
// intentionally not compared against the request: the relay may sit behind a
// TLS-terminating proxy and see plain HTTP while the browser Origin is HTTPS.
func IsAllowed(normalizedOrigin, originHost, requestHost string, allowedOrigins []string) bool {
	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == normalizedOrigin {
				return true
			}
		}
		return false
	}

	var scheme string
	switch {
	case strings.HasPrefix(normalizedOrigin, "http://"):
		scheme = "http"
	case strings.HasPrefix(normalizedOrigin, "https://"):
		scheme = "https"
	default:
		// "null" cannot match a host-based request.
		return false
	}

	hostname, port, ok := hostAndPort(strings.ToLower(strings.TrimSpace(requestHost)))
	if !ok || hostname == "" {
		return false
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	normalized := hostname
	if strings.Contains(hostname, ":") {
		normalized = "[" + hostname + "]"
	}
	if port != 0 {
		normalized = normalized + ":" + strconv.Itoa(port)
	}
	return originHost == normalized
}

// hostAndPort splits host[:port], handling bracketed IPv6 literals. port is 0
// when absent.
func hostAndPort(hostport string) (hostname string, port int, ok bool) {
	if hostport == "" {
		return "", 0, false
	}

	rest := hostport
	if strings.HasPrefix(hostport, "[") {
		end := strings.IndexByte(hostport, ']')
		if end < 0 {
			return "", 0, false
		}
		hostname = hostport[1:end]
		rest = hostport[end+1:]
		if rest == "" {
			return strings.ToLower(hostname), 0, true
		}
		if !strings.HasPrefix(rest, ":") {
			return "", 0, false
		}
		rest = rest[1:]
	} else if i := strings.LastIndexByte(hostport, ':'); i >= 0 {
		hostname = hostport[:i]
		rest = hostport[i+1:]
	} else {
		return strings.ToLower(hostport), 0, true
	}

	if hostname == "" || rest == "" {
		return "", 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 16)
	if err != nil || n == 0 {
		return "", 0, false
	}
	return strings.ToLower(hostname), int(n), true
}
