package probes

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// blockedRanges enumerates the private/reserved/documentation ranges an
// HTTP target must not resolve into unless allowInternalTargets is
// set. net.IP.IsPrivate/IsLoopback/
// IsLinkLocalUnicast cover RFC1918+loopback+link-local; CGNAT and the
// RFC5737 documentation/TEST-NET ranges are not covered by the stdlib
// IsXxx predicates and are listed explicitly here.
var blockedRanges = mustParsePrefixes(
	"100.64.0.0/10",   // CGNAT (RFC 6598)
	"192.0.2.0/24",    // TEST-NET-1 (RFC 5737)
	"198.51.100.0/24", // TEST-NET-2 (RFC 5737)
	"203.0.113.0/24",  // TEST-NET-3 (RFC 5737)
	"0.0.0.0/8",       // "this" network (RFC 791)
)

func mustParsePrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			panic(err)
		}
		out = append(out, p)
	}
	return out
}

// blockedSchemes rejects any non-http(s) scheme outright — javascript:,
// data:, file: and friends have no business being an HTTP monitor target.
var blockedSchemes = map[string]bool{
	"javascript": true,
	"data":       true,
	"file":       true,
}

// ValidateTargetURL enforces the SSRF guard. allowInternalTargets
// bypasses the address-range checks (ALLOW_INTERNAL_TARGETS) but never
// the scheme/syntax checks.
func ValidateTargetURL(raw string, allowInternalTargets bool) (*url.URL, error) {
	if strings.Contains(raw, "@@") || strings.Count(raw, "@") > 1 {
		return nil, fmt.Errorf("probes: rejected url with double-@: %q", raw)
	}
	if strings.Contains(raw, "..") {
		return nil, fmt.Errorf("probes: rejected url containing '..': %q", raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("probes: invalid url: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if blockedSchemes[scheme] {
		return nil, fmt.Errorf("probes: rejected scheme %q", u.Scheme)
	}
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("probes: scheme must be http or https, got %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("probes: url has no host")
	}

	if allowInternalTargets {
		return u, nil
	}

	if err := checkHostNotInternal(host); err != nil {
		return nil, err
	}
	return u, nil
}

// checkHostNotInternal resolves host and rejects it if any resolved address
// falls in a private/loopback/link-local/CGNAT/documentation range.
func checkHostNotInternal(host string) error {
	if ip, err := netip.ParseAddr(host); err == nil {
		return checkIPNotInternal(ip)
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("probes: dns resolution failed for %s: %w", host, err)
	}
	for _, ip := range ips {
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		if err := checkIPNotInternal(addr.Unmap()); err != nil {
			return err
		}
	}
	return nil
}

func checkIPNotInternal(addr netip.Addr) error {
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified() || addr.IsMulticast() {
		return fmt.Errorf("internal address: %s is loopback/private/link-local", addr)
	}
	for _, r := range blockedRanges {
		if r.Contains(addr) {
			return fmt.Errorf("internal address: %s is in reserved range %s", addr, r)
		}
	}
	return nil
}
