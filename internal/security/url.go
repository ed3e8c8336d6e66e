// Package security provides shared security validation functions.
package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidateLibraryURL checks a URL that tour pages hand to every reader's
// browser: the sandbox library and the editor CDN. It must be an absolute
// http(s) URL on a public host, since snippets run from an opaque data: origin
// that can only reach public addresses anyway.
func ValidateLibraryURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("URL must have a host")
	}

	if parsed.User != nil {
		return fmt.Errorf("URL must not carry credentials")
	}

	hostLower := strings.ToLower(host)
	if hostLower == "localhost" || hostLower == "localhost.localdomain" {
		return fmt.Errorf("localhost URLs are not reachable by readers")
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}

	switch {
	case ip.IsLoopback():
		return fmt.Errorf("loopback addresses are not allowed")
	case ip.IsPrivate():
		return fmt.Errorf("private network addresses are not allowed")
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("link-local addresses are not allowed")
	case ip.IsUnspecified():
		return fmt.Errorf("unspecified addresses are not allowed")
	}

	return nil
}

// connectSchemes are the scheme sources allowed in a connect-src list.
var connectSchemes = map[string]bool{"https:": true, "http:": true, "wss:": true, "ws:": true}

// ConnectSource normalizes an entry of the connect-src list snippets fetch
// under. A scheme source ("https:") is kept as is; a URL is reduced to its
// scheme://host origin.
func ConnectSource(src string) (string, error) {
	if connectSchemes[src] {
		return src, nil
	}
	parsed, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("invalid connect source %q: %w", src, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("connect source %q must be https:, http: or an http(s) origin", src)
	}
	if parsed.Host == "" || parsed.User != nil {
		return "", fmt.Errorf("connect source %q must name a host without credentials", src)
	}
	if strings.ContainsAny(parsed.Host, " ;,'\"") {
		return "", fmt.Errorf("connect source %q has an invalid host", src)
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}
