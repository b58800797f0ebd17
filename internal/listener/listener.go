// Package listener turns the Docker event feed into a sequential stream of
// start/die transitions and drives the reconciler with it, beginning with
// one synchronous full-scan pass.
package listener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/obeone/traefik-network-connector/internal/docker"
	"github.com/obeone/traefik-network-connector/internal/logging"
)

// Handler consumes the typed transitions. Satisfied by reconciler.Reconciler.
type Handler interface {
	Sync(ctx context.Context) error
	HandleStart(ctx context.Context, containerID string) error
	HandleDie(ctx context.Context, containerID string) error
}

// Options configures a Listener.
type Options struct {
	Client docker.Client
	// BackoffStart/BackoffCap shape the resubscription delay after the
	// feed drops. RetryMax consecutive failures abort (0 = retry forever).
	BackoffStart time.Duration
	BackoffCap   time.Duration
	RetryMax     int
}

// Listener owns the consumer loop. Transitions are dispatched one at a time
// from a single goroutine; the in-flight transition always finishes before
// shutdown completes or the next event is read.
type Listener struct {
	cli          docker.Client
	handler      Handler
	backoffStart time.Duration
	backoffCap   time.Duration
	retryMax     int
}

// New returns a Listener driving the given handler.
func New(handler Handler, opts Options) *Listener {
	return &Listener{
		cli:          opts.Client,
		handler:      handler,
		backoffStart: opts.BackoffStart,
		backoffCap:   opts.BackoffCap,
		retryMax:     opts.RetryMax,
	}
}

// Run performs the startup reconciliation pass, then consumes the live feed
// until ctx is cancelled. Returns nil on graceful shutdown and an error when
// startup fails or the feed cannot be re-established within the retry
// budget. Events missed during an outage are not replayed.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.handler.Sync(ctx); err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}

	backoff := l.backoffStart
	failures := 0
	for {
		events, errs := l.cli.SubscribeEvents(ctx)
		logging.Get().Info().Msg("listening for container events")

		processed, err := l.consume(ctx, events, errs)
		if ctx.Err() != nil {
			logging.Get().Info().Msg("event loop stopped")
			return nil
		}
		if processed > 0 {
			failures = 0
			backoff = l.backoffStart
		}

		failures++
		if l.retryMax > 0 && failures >= l.retryMax {
			return fmt.Errorf("event feed failed %d consecutive times: %w", failures, err)
		}
		logging.Get().Warn().Err(err).Dur("backoff", backoff).Int("failures", failures).
			Msg("event feed lost, resubscribing")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > l.backoffCap {
			backoff = l.backoffCap
		}
	}
}

// consume reads transitions until the feed errors out or ctx is cancelled.
// It returns how many transitions were dispatched on this subscription.
func (l *Listener) consume(ctx context.Context, events <-chan docker.ContainerEvent, errs <-chan error) (int, error) {
	processed := 0
	for {
		select {
		case <-ctx.Done():
			return processed, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return processed, errors.New("event stream closed")
			}
			l.dispatch(ctx, ev)
			processed++
		case err, ok := <-errs:
			if !ok {
				return processed, errors.New("event stream closed")
			}
			return processed, err
		}
	}
}

// dispatch routes one transition. Per-transition errors are contained here:
// nothing a single container does may take the consumer loop down.
func (l *Listener) dispatch(ctx context.Context, ev docker.ContainerEvent) {
	var err error
	switch ev.Action {
	case docker.ActionStart:
		err = l.handler.HandleStart(ctx, ev.ContainerID)
	case docker.ActionDie:
		err = l.handler.HandleDie(ctx, ev.ContainerID)
	}
	if err != nil {
		logging.Get().Error().Err(err).
			Str("container", ev.ContainerID).
			Str("action", string(ev.Action)).
			Msg("transition failed")
	}
}
