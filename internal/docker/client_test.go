package docker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"testing"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/network"
)

// fakeDockerAPI implements the subset of Docker client methods used by sdkClient.
type fakeDockerAPI struct {
	list        []containertypes.Summary
	listErr     error
	inspect     map[string]containertypes.InspectResponse
	connectErr  error
	disconnErr  error
	connects    []string
	disconnects []string
	eventMsgs   chan events.Message
	eventErrs   chan error
	lastFilter  events.ListOptions
	closed      bool
}

func (f *fakeDockerAPI) ContainerList(ctx context.Context, options containertypes.ListOptions) ([]containertypes.Summary, error) {
	return f.list, f.listErr
}

func (f *fakeDockerAPI) ContainerInspect(ctx context.Context, containerID string) (containertypes.InspectResponse, error) {
	if insp, ok := f.inspect[containerID]; ok {
		return insp, nil
	}
	return containertypes.InspectResponse{}, &notFoundErr{containerID}
}

func (f *fakeDockerAPI) Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error) {
	f.lastFilter = options
	return f.eventMsgs, f.eventErrs
}

func (f *fakeDockerAPI) NetworkConnect(ctx context.Context, networkID, containerID string, config *network.EndpointSettings) error {
	f.connects = append(f.connects, networkID+":"+containerID)
	return f.connectErr
}

func (f *fakeDockerAPI) NetworkDisconnect(ctx context.Context, networkID, containerID string, force bool) error {
	f.disconnects = append(f.disconnects, networkID+":"+containerID)
	return f.disconnErr
}

func (f *fakeDockerAPI) Close() error {
	f.closed = true
	return nil
}

// notFoundErr mimics the daemon's not-found errors as classified by the SDK.
type notFoundErr struct{ id string }

func (e *notFoundErr) Error() string { return fmt.Sprintf("No such container: %s", e.id) }
func (e *notFoundErr) NotFound()     {}

func TestListRunningContainersMapping(t *testing.T) {
	fake := &fakeDockerAPI{list: []containertypes.Summary{
		{
			ID:     "c1",
			Names:  []string{"/app1"},
			Labels: map[string]string{"traefik.enable": "true"},
			State:  "running",
			NetworkSettings: &containertypes.NetworkSettingsSummary{
				Networks: map[string]*network.EndpointSettings{
					"webnet": {NetworkID: "net-web"},
				},
			},
		},
		{ID: "c2", Names: []string{"/app2"}, State: "exited"},
	}}
	s := &sdkClient{cli: fake}

	out, err := s.ListRunningContainers(context.Background())
	if err != nil {
		t.Fatalf("ListRunningContainers failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 containers, got %d", len(out))
	}
	if out[0].Name != "app1" {
		t.Errorf("expected leading slash stripped, got %q", out[0].Name)
	}
	if out[0].Networks["webnet"] != "net-web" {
		t.Errorf("network mapping wrong: %v", out[0].Networks)
	}
	if !out[0].Running || out[1].Running {
		t.Errorf("running flags wrong: %v %v", out[0].Running, out[1].Running)
	}
}

func TestInspectContainerNotFound(t *testing.T) {
	s := &sdkClient{cli: &fakeDockerAPI{}}
	_, err := s.InspectContainer(context.Background(), "gone")
	if err == nil {
		t.Fatal("expected error for missing container")
	}
	if !IsNotFound(err) {
		t.Fatalf("expected not-found classification, got %v", err)
	}
}

func TestInspectContainerMapping(t *testing.T) {
	running := true
	fake := &fakeDockerAPI{inspect: map[string]containertypes.InspectResponse{
		"c1": {
			ContainerJSONBase: &containertypes.ContainerJSONBase{
				ID:    "c1",
				Name:  "/traefik",
				State: &containertypes.State{Running: running},
			},
			Config: &containertypes.Config{Labels: map[string]string{"a": "b"}},
			NetworkSettings: &containertypes.NetworkSettings{
				Networks: map[string]*network.EndpointSettings{
					"webnet": {NetworkID: "net-web"},
					"dbnet":  {NetworkID: "net-db"},
				},
			},
		},
	}}
	s := &sdkClient{cli: fake}

	c, err := s.InspectContainer(context.Background(), "c1")
	if err != nil {
		t.Fatalf("InspectContainer failed: %v", err)
	}
	if c.Name != "traefik" || !c.Running {
		t.Errorf("unexpected container: %+v", c)
	}
	if len(c.Networks) != 2 || c.Networks["dbnet"] != "net-db" {
		t.Errorf("networks not mapped: %v", c.Networks)
	}
	if c.Labels["a"] != "b" {
		t.Errorf("labels not mapped: %v", c.Labels)
	}
}

func TestConnectNetworkAlreadyConnected(t *testing.T) {
	fake := &fakeDockerAPI{connectErr: errors.New(`endpoint with name traefik already exists in network webnet`)}
	s := &sdkClient{cli: fake}

	err := s.ConnectNetwork(context.Background(), "net-web", "proxy")
	if !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestDisconnectNetworkNotConnected(t *testing.T) {
	fake := &fakeDockerAPI{disconnErr: errors.New(`container proxy is not connected to network webnet`)}
	s := &sdkClient{cli: fake}

	err := s.DisconnectNetwork(context.Background(), "net-web", "proxy", false)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestConnectNetworkSuccess(t *testing.T) {
	fake := &fakeDockerAPI{}
	s := &sdkClient{cli: fake}

	if err := s.ConnectNetwork(context.Background(), "net-web", "proxy"); err != nil {
		t.Fatalf("ConnectNetwork failed: %v", err)
	}
	if len(fake.connects) != 1 || fake.connects[0] != "net-web:proxy" {
		t.Fatalf("unexpected connect calls: %v", fake.connects)
	}
}

func TestSubscribeEventsFiltersActions(t *testing.T) {
	msgs := make(chan events.Message, 3)
	errs := make(chan error)
	fake := &fakeDockerAPI{eventMsgs: msgs, eventErrs: errs}
	s := &sdkClient{cli: fake}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, _ := s.SubscribeEvents(ctx)

	msgs <- events.Message{Action: "start", Actor: events.Actor{ID: "c1"}}
	msgs <- events.Message{Action: "kill", Actor: events.Actor{ID: "c1"}}
	msgs <- events.Message{Action: "die", Actor: events.Actor{ID: "c1"}}
	close(msgs)

	var got []ContainerEvent
	for ev := range out {
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events after filtering, got %d: %v", len(got), got)
	}
	if got[0].Action != ActionStart || got[1].Action != ActionDie {
		t.Fatalf("unexpected event order: %v", got)
	}
}

// The SDK delivers stream errors on the error channel and exits without
// closing the messages channel. The pump must still terminate, every time.
func TestSubscribeEventsStopsAfterStreamError(t *testing.T) {
	msgs := make(chan events.Message) // stays open, like the real SDK
	errs := make(chan error, 1)
	errs <- errors.New("stream reset")
	fake := &fakeDockerAPI{eventMsgs: msgs, eventErrs: errs}
	s := &sdkClient{cli: fake}

	out, errOut := s.SubscribeEvents(context.Background())

	select {
	case err := <-errOut:
		if err == nil {
			t.Fatal("expected the stream error to be forwarded")
		}
	case <-time.After(time.Second):
		t.Fatal("stream error never forwarded")
	}
	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("unexpected event after stream error")
		}
	case <-time.After(time.Second):
		t.Fatal("event channel did not close after stream error")
	}
}

func TestSubscribeEventsNoGoroutinePileUp(t *testing.T) {
	before := runtime.NumGoroutine()

	for i := 0; i < 20; i++ {
		msgs := make(chan events.Message) // never closed
		errs := make(chan error, 1)
		errs <- errors.New("stream reset")
		s := &sdkClient{cli: &fakeDockerAPI{eventMsgs: msgs, eventErrs: errs}}

		out, _ := s.SubscribeEvents(context.Background())
		select {
		case <-out:
		case <-time.After(time.Second):
			t.Fatal("event channel did not close after stream error")
		}
	}

	// Give exited pumps a moment to be reaped.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= before+2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("goroutines grew from %d to %d after 20 broken subscriptions", before, runtime.NumGoroutine())
}

func TestSubscribeEventsStopsOnCancel(t *testing.T) {
	msgs := make(chan events.Message)
	errs := make(chan error)
	fake := &fakeDockerAPI{eventMsgs: msgs, eventErrs: errs}
	s := &sdkClient{cli: fake}

	ctx, cancel := context.WithCancel(context.Background())
	out, _ := s.SubscribeEvents(ctx)

	// Queue an event nobody reads, then cancel; the pump must exit.
	go func() { msgs <- events.Message{Action: "start", Actor: events.Actor{ID: "c1"}} }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case _, ok := <-out:
		if ok {
			// one delivery may already be in flight; channel must close after
			if _, ok := <-out; ok {
				t.Fatal("event channel did not close after cancel")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("event channel never closed after cancel")
	}
}
