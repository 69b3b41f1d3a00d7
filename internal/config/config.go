package config

import (
	"strings"
)

// ZoneMap pins hostnames to the DNS zone that holds their challenge records.
type ZoneMap struct {
	entries map[string]string
}

// NewZoneMap builds a ZoneMap from hostname patterns to zone names. Keys are
// normalized to lower case without a trailing dot.
func NewZoneMap(entries map[string]string) *ZoneMap {
	zm := &ZoneMap{entries: make(map[string]string, len(entries))}
	for k, v := range entries {
		zm.entries[normalize(k)] = normalize(v)
	}
	return zm
}

// LookupZone finds the zone for a hostname by matching against zone entries.
// It walks up the domain labels checking for exact matches and wildcard entries.
// Exact matches take priority over wildcards. For example, given:
//
//	"*.example.com":        "example.com"
//	"lab.example.com":      "lab.example.com"
//
// "_acme-challenge.app.example.com" returns "example.com" (wildcard match)
// "lab.example.com" returns "lab.example.com" (exact match wins)
func (zm *ZoneMap) LookupZone(hostname string) (string, bool) {
	if zm == nil {
		return "", false
	}
	hostname = normalize(hostname)
	// Walk up the domain labels until we find a match
	for h := hostname; h != ""; {
		if zone, ok := zm.entries[h]; ok {
			return zone, true
		}
		idx := strings.Index(h, ".")
		if idx < 0 {
			break
		}
		if zone, ok := zm.entries["*."+h[idx+1:]]; ok {
			return zone, true
		}
		h = h[idx+1:]
	}
	return "", false
}

// Len returns the number of configured patterns.
func (zm *ZoneMap) Len() int {
	if zm == nil {
		return 0
	}
	return len(zm.entries)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(s), "."))
}
