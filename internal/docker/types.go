package docker

// Container is a minimal container representation used by the connector to
// avoid direct dependency on the Docker SDK. Fields cover the data needed
// for network reconciliation.
type Container struct {
	ID     string            `json:"Id"`
	Name   string            `json:"Name"`
	Labels map[string]string `json:"Labels"`
	// Networks maps attached network name to network ID. The name is what
	// the scope label refers to; the ID is what connect/disconnect take.
	Networks map[string]string `json:"Networks"`
	Running  bool              `json:"Running"`
}

// EventAction is the lifecycle action reported by the Docker event feed.
type EventAction string

const (
	ActionStart EventAction = "start"
	ActionDie   EventAction = "die"
)

// ContainerEvent is a container lifecycle event stripped down to what the
// reconciler consumes.
type ContainerEvent struct {
	Action      EventAction
	ContainerID string
}
