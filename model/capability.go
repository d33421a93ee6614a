package model

import "strings"

// CapabilitySet is the set of capabilities granted to a user. Keys are
// colon-separated capability strings such as "catalog:transition:approved"
// and may end in a ":*" wildcard.
type CapabilitySet map[string]bool

// Has reports whether the set grants cap exactly or through a wildcard.
func (cs CapabilitySet) Has(cap string) bool {
	if cs[cap] {
		return true
	}
	for pattern := range cs {
		if matchWildcard(pattern, cap) {
			return true
		}
	}
	return false
}

// HasAll reports whether every capability in caps is granted.
func (cs CapabilitySet) HasAll(caps ...string) bool {
	for _, cap := range caps {
		if !cs.Has(cap) {
			return false
		}
	}
	return true
}

// Missing returns the capabilities in caps that the set does not grant, in
// input order.
func (cs CapabilitySet) Missing(caps ...string) []string {
	var out []string
	for _, cap := range caps {
		if !cs.Has(cap) {
			out = append(out, cap)
		}
	}
	return out
}

// matchWildcard reports whether pattern matches cap.
//
//	"*"                    matches anything
//	"catalog:*"            matches "catalog:transition:approved"
//	"catalog:transition"   matches only itself
func matchWildcard(pattern, cap string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.HasSuffix(pattern, ":*") {
		return false
	}
	return strings.HasPrefix(cap, pattern[:len(pattern)-1])
}

// CapabilityResolver resolves the capability set of a request.
type CapabilityResolver interface {
	Resolve(rctx *RequestContext) (CapabilitySet, error)
	Invalidate(subjectID, tenantID string)
}

// PolicyEvaluator is the source of truth behind a CapabilityResolver.
type PolicyEvaluator interface {
	ResolveCapabilities(rctx *RequestContext) (CapabilitySet, error)
	// Sync refreshes policy data from its source.
	Sync() error
}
