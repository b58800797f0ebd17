// Package registry tracks the last-known relevance and resolved network set
// of each running container. A dying container can no longer be inspected,
// so the set frozen at start time is the only reliable record.
package registry

// Entry is the stored state for one container.
type Entry struct {
	Relevant bool
	// Networks is the network-ID set resolved when the container started.
	Networks map[string]struct{}
}

// Registry maps container IDs to their entries. It has exactly one writer
// (the reconciler) and is not safe for concurrent use.
type Registry struct {
	entries map[string]Entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Put records or overwrites the entry for a container.
func (r *Registry) Put(containerID string, e Entry) {
	r.entries[containerID] = e
}

// Remove deletes and returns the entry for a container. The boolean is false
// when the container was never registered.
func (r *Registry) Remove(containerID string) (Entry, bool) {
	e, ok := r.entries[containerID]
	if ok {
		delete(r.entries, containerID)
	}
	return e, ok
}

// NetworkInUse reports whether any relevant entry other than excludeID still
// contains the given network.
func (r *Registry) NetworkInUse(networkID, excludeID string) bool {
	for id, e := range r.entries {
		if id == excludeID || !e.Relevant {
			continue
		}
		if _, ok := e.Networks[networkID]; ok {
			return true
		}
	}
	return false
}

// Len returns the number of tracked containers.
func (r *Registry) Len() int {
	return len(r.entries)
}
