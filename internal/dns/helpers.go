package dns

import (
	"strings"

	"github.com/go-acme/lego/v4/challenge/dns01"
)

// ChallengeLabel is the label DNS-01 validation looks up.
const ChallengeLabel = "_acme-challenge"

// ChallengeFQDN returns the challenge record name for a domain, without a
// trailing dot. A leading wildcard label is dropped since wildcard and apex
// certificates validate against the same name.
// e.g. "*.example.com" → "_acme-challenge.example.com"
func ChallengeFQDN(domain string) string {
	domain = strings.TrimPrefix(Normalize(domain), "*.")
	return ChallengeLabel + "." + domain
}

// Normalize lower-cases a hostname and strips the trailing dot.
func Normalize(hostname string) string {
	return strings.ToLower(dns01.UnFqdn(strings.TrimSpace(hostname)))
}

// InZone reports whether hostname equals zone or is a subdomain of it.
func InZone(hostname, zone string) bool {
	hostname, zone = Normalize(hostname), Normalize(zone)
	return hostname == zone || strings.HasSuffix(hostname, "."+zone)
}

// RelativeName returns hostname relative to zone, "" at the zone apex.
// e.g. ("_acme-challenge.app.example.com", "example.com") → "_acme-challenge.app"
func RelativeName(hostname, zone string) string {
	hostname, zone = Normalize(hostname), Normalize(zone)
	if hostname == zone {
		return ""
	}
	return strings.TrimSuffix(hostname, "."+zone)
}
