package docker

import (
	"context"
	"errors"
	"strings"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"

	"github.com/obeone/traefik-network-connector/internal/logging"
)

// Sentinel errors used to classify expected Docker daemon responses. They are
// surfaced instead of raw daemon errors so callers can treat them as no-ops.
var (
	// ErrNotFound indicates the container (or network) no longer exists.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyConnected indicates the container is already attached to the network.
	ErrAlreadyConnected = errors.New("already connected to network")
	// ErrNotConnected indicates the container is not attached to the network.
	ErrNotConnected = errors.New("not connected to network")
)

// IsNotFound reports whether err indicates a missing container or network.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || client.IsErrNotFound(err)
}

// Client is the interface used by the reconciler for Docker operations.
type Client interface {
	// ListRunningContainers returns all currently running containers.
	ListRunningContainers(ctx context.Context) ([]Container, error)
	// InspectContainer looks up a container by ID or name. Missing
	// containers yield an error matched by IsNotFound.
	InspectContainer(ctx context.Context, nameOrID string) (Container, error)
	// SubscribeEvents opens the live event feed, filtered server-side to
	// container start/die actions. Both channels close when ctx is
	// cancelled or the feed breaks; the error channel reports why.
	SubscribeEvents(ctx context.Context) (<-chan ContainerEvent, <-chan error)
	// ConnectNetwork attaches a container to a network. Returns
	// ErrAlreadyConnected when the attachment already exists.
	ConnectNetwork(ctx context.Context, networkID, containerID string) error
	// DisconnectNetwork detaches a container from a network. Returns
	// ErrNotConnected when no such attachment exists.
	DisconnectNetwork(ctx context.Context, networkID, containerID string, force bool) error
	Close() error
}

// dockerAPI is the subset of the SDK client the connector uses; tests
// substitute a fake.
type dockerAPI interface {
	ContainerList(ctx context.Context, options containertypes.ListOptions) ([]containertypes.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (containertypes.InspectResponse, error)
	Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error)
	NetworkConnect(ctx context.Context, networkID, containerID string, config *network.EndpointSettings) error
	NetworkDisconnect(ctx context.Context, networkID, containerID string, force bool) error
	Close() error
}

// sdkClient is the production implementation using the official Docker SDK.
type sdkClient struct {
	cli dockerAPI
}

func (s *sdkClient) ListRunningContainers(ctx context.Context) ([]Container, error) {
	list, err := s.cli.ContainerList(ctx, containertypes.ListOptions{All: false})
	if err != nil {
		return nil, err
	}
	out := make([]Container, 0, len(list))
	for _, c := range list {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		networks := make(map[string]string)
		if c.NetworkSettings != nil {
			for netName, ep := range c.NetworkSettings.Networks {
				if ep != nil {
					networks[netName] = ep.NetworkID
				}
			}
		}
		out = append(out, Container{
			ID:       c.ID,
			Name:     name,
			Labels:   c.Labels,
			Networks: networks,
			Running:  c.State == "running",
		})
	}
	return out, nil
}

func (s *sdkClient) InspectContainer(ctx context.Context, nameOrID string) (Container, error) {
	insp, err := s.cli.ContainerInspect(ctx, nameOrID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return Container{}, errors.Join(ErrNotFound, err)
		}
		return Container{}, err
	}
	c := Container{
		ID:       insp.ID,
		Name:     strings.TrimPrefix(insp.Name, "/"),
		Networks: make(map[string]string),
	}
	if insp.Config != nil {
		c.Labels = insp.Config.Labels
	}
	if insp.State != nil {
		c.Running = insp.State.Running
	}
	if insp.NetworkSettings != nil {
		for netName, ep := range insp.NetworkSettings.Networks {
			if ep != nil {
				c.Networks[netName] = ep.NetworkID
			}
		}
	}
	return c, nil
}

func (s *sdkClient) SubscribeEvents(ctx context.Context) (<-chan ContainerEvent, <-chan error) {
	f := filters.NewArgs(
		filters.Arg("type", string(events.ContainerEventType)),
		filters.Arg("event", string(ActionStart)),
		filters.Arg("event", string(ActionDie)),
	)
	msgs, errs := s.cli.Events(ctx, events.ListOptions{Filters: f})

	// The SDK leaves the messages channel open when the stream breaks: it
	// delivers the error and exits. The pump must therefore watch the error
	// channel itself and return, or every broken subscription strands it.
	out := make(chan ContainerEvent)
	errOut := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errOut)
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errs:
				if ok {
					errOut <- err
				}
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				// The server-side filter should only let start/die through,
				// but the daemon has surprised us before.
				action := EventAction(msg.Action)
				if action != ActionStart && action != ActionDie {
					logging.Get().Debug().Str("action", string(msg.Action)).Msg("ignoring unexpected event action")
					continue
				}
				select {
				case out <- ContainerEvent{Action: action, ContainerID: msg.Actor.ID}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, errOut
}

func (s *sdkClient) ConnectNetwork(ctx context.Context, networkID, containerID string) error {
	err := s.cli.NetworkConnect(ctx, networkID, containerID, nil)
	if err != nil {
		if strings.Contains(err.Error(), "already exists in network") {
			return ErrAlreadyConnected
		}
		if client.IsErrNotFound(err) {
			return errors.Join(ErrNotFound, err)
		}
		return err
	}
	return nil
}

func (s *sdkClient) DisconnectNetwork(ctx context.Context, networkID, containerID string, force bool) error {
	err := s.cli.NetworkDisconnect(ctx, networkID, containerID, force)
	if err != nil {
		if strings.Contains(err.Error(), "is not connected") {
			return ErrNotConnected
		}
		if client.IsErrNotFound(err) {
			return errors.Join(ErrNotFound, err)
		}
		return err
	}
	return nil
}

func (s *sdkClient) Close() error {
	return s.cli.Close()
}
