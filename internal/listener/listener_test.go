package listener_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obeone/traefik-network-connector/internal/docker"
	"github.com/obeone/traefik-network-connector/internal/listener"
)

type recordedTransition struct {
	action docker.EventAction
	id     string
}

type fakeHandler struct {
	mu          sync.Mutex
	syncErr     error
	syncCalls   int
	transitions []recordedTransition
	onCount     int
	reached     chan struct{}
}

func newFakeHandler(waitFor int) *fakeHandler {
	return &fakeHandler{onCount: waitFor, reached: make(chan struct{})}
}

func (h *fakeHandler) Sync(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.syncCalls++
	return h.syncErr
}

func (h *fakeHandler) HandleStart(_ context.Context, id string) error {
	h.record(recordedTransition{docker.ActionStart, id})
	return nil
}

func (h *fakeHandler) HandleDie(_ context.Context, id string) error {
	h.record(recordedTransition{docker.ActionDie, id})
	return nil
}

func (h *fakeHandler) record(t recordedTransition) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transitions = append(h.transitions, t)
	if len(h.transitions) == h.onCount {
		close(h.reached)
	}
}

func (h *fakeHandler) recorded() []recordedTransition {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]recordedTransition, len(h.transitions))
	copy(out, h.transitions)
	return out
}

// scriptedClient hands out one prepared subscription per SubscribeEvents
// call; once the script runs out it keeps returning idle channels.
type scriptedClient struct {
	mu    sync.Mutex
	subs  []func() (<-chan docker.ContainerEvent, <-chan error)
	calls int
}

func (c *scriptedClient) SubscribeEvents(context.Context) (<-chan docker.ContainerEvent, <-chan error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.calls
	c.calls++
	if idx < len(c.subs) {
		return c.subs[idx]()
	}
	return make(chan docker.ContainerEvent), make(chan error)
}

func (c *scriptedClient) subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *scriptedClient) ListRunningContainers(context.Context) ([]docker.Container, error) {
	return nil, nil
}

func (c *scriptedClient) InspectContainer(context.Context, string) (docker.Container, error) {
	return docker.Container{}, docker.ErrNotFound
}

func (c *scriptedClient) ConnectNetwork(context.Context, string, string) error    { return nil }
func (c *scriptedClient) DisconnectNetwork(context.Context, string, string, bool) error {
	return nil
}
func (c *scriptedClient) Close() error { return nil }

func eventFeed(evs ...docker.ContainerEvent) func() (<-chan docker.ContainerEvent, <-chan error) {
	return func() (<-chan docker.ContainerEvent, <-chan error) {
		events := make(chan docker.ContainerEvent, len(evs))
		for _, ev := range evs {
			events <- ev
		}
		return events, make(chan error)
	}
}

func failingFeed(err error) func() (<-chan docker.ContainerEvent, <-chan error) {
	return func() (<-chan docker.ContainerEvent, <-chan error) {
		errs := make(chan error, 1)
		errs <- err
		return make(chan docker.ContainerEvent), errs
	}
}

func TestRunSyncsThenDispatchesInOrder(t *testing.T) {
	cli := &scriptedClient{subs: []func() (<-chan docker.ContainerEvent, <-chan error){
		eventFeed(
			docker.ContainerEvent{Action: docker.ActionStart, ContainerID: "aaa"},
			docker.ContainerEvent{Action: docker.ActionDie, ContainerID: "bbb"},
			docker.ContainerEvent{Action: docker.ActionStart, ContainerID: "ccc"},
		),
	}}
	handler := newFakeHandler(3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	l := listener.New(handler, listener.Options{Client: cli, BackoffStart: time.Millisecond, BackoffCap: time.Millisecond})
	go func() { done <- l.Run(ctx) }()

	select {
	case <-handler.reached:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transitions")
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 1, handler.syncCalls)
	assert.Equal(t, []recordedTransition{
		{docker.ActionStart, "aaa"},
		{docker.ActionDie, "bbb"},
		{docker.ActionStart, "ccc"},
	}, handler.recorded())
}

func TestRunFailsWhenStartupSyncFails(t *testing.T) {
	handler := newFakeHandler(1)
	handler.syncErr = errors.New("no proxy")

	l := listener.New(handler, listener.Options{Client: &scriptedClient{}})
	err := l.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "startup reconciliation")
}

func TestRunResubscribesAfterFeedError(t *testing.T) {
	cli := &scriptedClient{subs: []func() (<-chan docker.ContainerEvent, <-chan error){
		failingFeed(errors.New("stream reset")),
		eventFeed(docker.ContainerEvent{Action: docker.ActionStart, ContainerID: "aaa"}),
	}}
	handler := newFakeHandler(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	l := listener.New(handler, listener.Options{
		Client:       cli,
		BackoffStart: time.Millisecond,
		BackoffCap:   10 * time.Millisecond,
		RetryMax:     5,
	})
	go func() { done <- l.Run(ctx) }()

	select {
	case <-handler.reached:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event after resubscription")
	}
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 2, cli.subscriptions())
}

func TestRunAbortsWhenRetryBudgetExhausted(t *testing.T) {
	feedErr := errors.New("daemon gone")
	cli := &scriptedClient{subs: []func() (<-chan docker.ContainerEvent, <-chan error){
		failingFeed(feedErr), failingFeed(feedErr), failingFeed(feedErr),
	}}
	handler := newFakeHandler(1)

	l := listener.New(handler, listener.Options{
		Client:       cli,
		BackoffStart: time.Millisecond,
		BackoffCap:   time.Millisecond,
		RetryMax:     3,
	})
	err := l.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, feedErr)
	assert.Equal(t, 3, cli.subscriptions())
}
