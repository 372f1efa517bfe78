package webhooks

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/clawbuds/backend/internal/domain"
)

// Hostnames rejected outright, before any address parsing.
var forbiddenHosts = map[string]bool{
	"localhost":                true,
	"0.0.0.0":                  true,
	"metadata.google.internal": true,
}

// Address ranges a webhook may never target. Covers loopback, RFC1918,
// link-local (the 169.254.169.254 metadata endpoint lives there), CGNAT,
// IPv6 unique-local and link-local.
var forbiddenPrefixes = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// ValidateURL rejects URLs that could reach internal infrastructure. It runs
// on webhook create/update AND again before every delivery attempt, so a URL
// that was fine yesterday cannot be swapped for a metadata endpoint today.
func ValidateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return domain.Invalid(domain.CodeValidation, "url is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return domain.Invalid(domain.CodeForbiddenURL, "url does not parse")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return domain.Invalid(domain.CodeForbiddenURL, "only http and https urls are allowed")
	}

	// Hostname() lowercases nothing and strips port plus the brackets of
	// IPv6 literals, so "[::1]:8080" arrives here as "::1".
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return domain.Invalid(domain.CodeForbiddenURL, "url has no host")
	}
	if forbiddenHosts[host] {
		return domain.Invalid(domain.CodeForbiddenURL, "host resolves to internal infrastructure")
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		// Not an IP literal; the hostname blocklist was the applicable check.
		return nil
	}
	// Fold IPv4-mapped IPv6 (::ffff:127.0.0.1) onto its IPv4 form first.
	addr = addr.Unmap()

	if addr.IsUnspecified() {
		return domain.Invalid(domain.CodeForbiddenURL, "unspecified address is not allowed")
	}
	for _, p := range forbiddenPrefixes {
		if p.Contains(addr) {
			return domain.Invalid(domain.CodeForbiddenURL, "address is in a forbidden range")
		}
	}
	return nil
}
