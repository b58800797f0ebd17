// Package matcher decides whether a container's labels mark it as relevant
// for proxy network reconciliation.
package matcher

import "regexp"

// Matcher is a pure predicate over container labels. The pattern is applied
// to label keys only; by default a key match alone makes the container
// relevant, regardless of the label value.
type Matcher struct {
	pattern *regexp.Regexp
	// requireTrue additionally requires the matched label's value to be
	// "true". Historically a container with traefik.enable=false still
	// counted as relevant; this switch lets operators opt out of that.
	requireTrue bool
}

// New returns a Matcher for the given compiled label-key pattern.
func New(pattern *regexp.Regexp, requireTrue bool) *Matcher {
	return &Matcher{pattern: pattern, requireTrue: requireTrue}
}

// IsRelevant reports whether at least one label key matches the pattern.
func (m *Matcher) IsRelevant(labels map[string]string) bool {
	for key, value := range labels {
		if !m.pattern.MatchString(key) {
			continue
		}
		if m.requireTrue && value != "true" {
			continue
		}
		return true
	}
	return false
}
