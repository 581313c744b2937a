package intercept

import "strings"

// ParseHost extracts the bare hostname from a Host header value, per
// spec.md §4.D: bracketed IPv6 literals, IPv4/hostname with a trailing
// numeric port, or a bare hostname with no port.
func ParseHost(hostHeader string) string {
	if hostHeader == "" {
		return ""
	}
	if hostHeader[0] == '[' {
		if end := strings.IndexByte(hostHeader, ']'); end != -1 {
			return hostHeader[1:end]
		}
		return hostHeader
	}

	idx := strings.LastIndexByte(hostHeader, ':')
	if idx == -1 {
		return hostHeader
	}
	port := hostHeader[idx+1:]
	if port != "" && isAllDigits(port) {
		return hostHeader[:idx]
	}
	return hostHeader
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
