package crawler

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// CanonicalURL returns the form used to de-duplicate requests within a run
// and to recognise a sitemap index: lowercase scheme and host, no default
// port, no fragment and query parameters in sorted order. Only absolute http
// and https URLs are accepted.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("parse url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("parse url %q: missing host", raw)
	}

	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !isDefaultPort(u.Scheme, port) {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = u.Query().Encode()
	return u.String(), nil
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}
