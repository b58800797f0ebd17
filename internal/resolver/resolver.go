// Package resolver computes the set of networks a relevant container should
// cause the proxy to join.
package resolver

import (
	"fmt"

	"github.com/obeone/traefik-network-connector/internal/docker"
	"github.com/obeone/traefik-network-connector/internal/logging"
)

// UnresolvedScopeError indicates a container's scope label names a network
// the container is not attached to. The container is skipped, not fatal.
type UnresolvedScopeError struct {
	ContainerID string
	Network     string
}

func (e *UnresolvedScopeError) Error() string {
	return fmt.Sprintf("container %s: scope label names network %q but the container is not attached to it", e.ContainerID, e.Network)
}

// Resolver maps a container to its target network IDs. When the container
// carries an explicit scope label, that single network wins; otherwise all
// attached networks are targeted.
type Resolver struct {
	// scopeLabel is the canonical label key naming an explicit network scope.
	scopeLabel string
	// deprecatedScopeLabel is honored for backward compatibility; the
	// canonical key wins when both are present.
	deprecatedScopeLabel string
}

// New returns a Resolver using the given scope label keys. Either key may be
// empty to disable it.
func New(scopeLabel, deprecatedScopeLabel string) *Resolver {
	return &Resolver{scopeLabel: scopeLabel, deprecatedScopeLabel: deprecatedScopeLabel}
}

// Resolve returns the target network IDs for the container as a set. The
// result reflects the container's attachments at the moment of the call and
// must not be recomputed after the container dies.
func (r *Resolver) Resolve(c docker.Container) (map[string]struct{}, error) {
	if name, ok := r.scopedNetwork(c); ok {
		id, attached := c.Networks[name]
		if !attached {
			return nil, &UnresolvedScopeError{ContainerID: c.ID, Network: name}
		}
		return map[string]struct{}{id: {}}, nil
	}

	out := make(map[string]struct{}, len(c.Networks))
	for _, id := range c.Networks {
		out[id] = struct{}{}
	}
	return out, nil
}

// scopedNetwork returns the network name from the scope label, if present.
func (r *Resolver) scopedNetwork(c docker.Container) (string, bool) {
	if r.scopeLabel != "" {
		if name, ok := c.Labels[r.scopeLabel]; ok && name != "" {
			return name, true
		}
	}
	if r.deprecatedScopeLabel != "" {
		if name, ok := c.Labels[r.deprecatedScopeLabel]; ok && name != "" {
			logging.Get().Warn().
				Str("container", c.ID).
				Str("label", r.deprecatedScopeLabel).
				Str("replacement", r.scopeLabel).
				Msg("deprecated network scope label in use")
			return name, true
		}
	}
	return "", false
}
