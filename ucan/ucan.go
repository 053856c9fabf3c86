// Package ucan models capability-scoped, time-bounded authorization
// credentials ("UCANs") as consumed by the sync subsystem: capability
// sets with a canonical serialization, wallet-issued root proofs, the
// derived session key material, and short-lived invocation tokens bound
// to a specific backend audience.
//
// The package is purely computational. Talking to a wallet provider to
// obtain a root proof is the wallet package's job; this package only
// decides whether a proof is acceptable and what a given deployment is
// required to ask for.
package ucan

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Capability is a single (resource, action) pair describing a permitted
// operation against a backend.
type Capability struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

func (c Capability) key() string { return c.Resource + ":" + c.Action }

// CapsKey returns the canonical key of a capability set: the sorted,
// deduplicated "resource:action" pairs joined by "|". Two capability
// sets are equal iff their keys are equal; the key is stable under
// permutation and duplicate insertion.
func CapsKey(caps []Capability) string {
	seen := make(map[string]struct{}, len(caps))
	keys := make([]string, 0, len(caps))
	for _, c := range caps {
		k := c.key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, "|")
}

// Dedup returns caps with duplicate (resource, action) pairs removed,
// preserving first-occurrence order.
func Dedup(caps []Capability) []Capability {
	seen := make(map[string]struct{}, len(caps))
	out := make([]Capability, 0, len(caps))
	for _, c := range caps {
		k := c.key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	return out
}

// IssuerDID returns the did:pkh identity for an Ethereum account
// address. Addresses are lowercased so the same account always maps to
// the same issuer regardless of checksum casing.
func IssuerDID(address string) string {
	return "did:pkh:eth:" + strings.ToLower(strings.TrimSpace(address))
}

// AudienceDID derives the did:web identity of a backend from its URL.
// Returns "" if the URL is empty or unparseable.
func AudienceDID(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return "did:web:" + u.Host
}

var appIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SanitizeAppID normalizes a raw application identifier (typically a
// host name) into the character set accepted by capability resources.
func SanitizeAppID(raw string) string {
	return appIDSanitizer.ReplaceAllString(strings.TrimSpace(raw), "-")
}
