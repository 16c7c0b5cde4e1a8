package main

import "strings"

// splitSIPAddress splits user@domain, tolerating a sip: scheme prefix.
func splitSIPAddress(addr string) (user, domain string) {
	addr = strings.TrimPrefix(addr, "sip:")
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		return addr[:i], addr[i+1:]
	}
	return addr, ""
}

// sanitizeIdentity reduces a URI to a form usable inside a filename.
func sanitizeIdentity(uri string) string {
	uri = strings.TrimPrefix(uri, "sip:")
	if i := strings.IndexAny(uri, ";>"); i >= 0 {
		uri = uri[:i]
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '<', '"', '|', '?', '*':
			return '_'
		}
		return r
	}, uri)
}

// capitalize upper-cases the first byte of an ASCII word.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
