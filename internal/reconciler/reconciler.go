// Package reconciler keeps the proxy container's network attachments in
// agreement with the set of running, labeled containers. It is the only
// writer of the registry and must be driven from a single goroutine:
// interleaving transitions would break the attach-iff-needed invariant.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/obeone/traefik-network-connector/internal/docker"
	"github.com/obeone/traefik-network-connector/internal/logging"
	"github.com/obeone/traefik-network-connector/internal/matcher"
	"github.com/obeone/traefik-network-connector/internal/metrics"
	"github.com/obeone/traefik-network-connector/internal/registry"
	"github.com/obeone/traefik-network-connector/internal/resolver"
)

// Notifier receives operational alerts. Satisfied by notify.MultiNotifier.
type Notifier interface {
	Send(ctx context.Context, title, message string)
}

// Options bundles the collaborators and tunables for a Reconciler.
type Options struct {
	Client     docker.Client
	Matcher    *matcher.Matcher
	Resolver   *resolver.Resolver
	ProxyName  string
	APITimeout time.Duration
	DryRun     bool
	Notifier   Notifier // optional
}

// Reconciler is the Start/Die state machine. Transitions are processed
// strictly in arrival order; a Die's still-needed scan must finish before
// the next transition is accepted.
type Reconciler struct {
	cli        docker.Client
	matcher    *matcher.Matcher
	resolver   *resolver.Resolver
	reg        *registry.Registry
	proxyName  string
	apiTimeout time.Duration
	dryRun     bool
	notifier   Notifier
}

// New returns a Reconciler with an empty registry.
func New(opts Options) *Reconciler {
	return &Reconciler{
		cli:        opts.Client,
		matcher:    opts.Matcher,
		resolver:   opts.Resolver,
		reg:        registry.New(),
		proxyName:  opts.ProxyName,
		apiTimeout: opts.APITimeout,
		dryRun:     opts.DryRun,
		notifier:   opts.Notifier,
	}
}

// callCtx bounds a synchronous adapter call. The event feed read itself is
// not subject to this timeout.
func (r *Reconciler) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.apiTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.apiTimeout)
}

// proxy inspects the proxy container by its configured name.
func (r *Reconciler) proxy(ctx context.Context) (docker.Container, error) {
	cctx, cancel := r.callCtx(ctx)
	defer cancel()
	return r.cli.InspectContainer(cctx, r.proxyName)
}

// Sync performs the startup reconciliation pass: it registers every running
// container and connects the proxy to the networks they require. Pre-existing
// correct attachments come out as no-ops. A missing proxy container is fatal
// here, unlike during live event processing.
func (r *Reconciler) Sync(ctx context.Context) error {
	if _, err := r.proxy(ctx); err != nil {
		return fmt.Errorf("resolve proxy container %q: %w", r.proxyName, err)
	}

	cctx, cancel := r.callCtx(ctx)
	list, err := r.cli.ListRunningContainers(cctx)
	cancel()
	if err != nil {
		return fmt.Errorf("list running containers: %w", err)
	}

	logging.App().Info().Int("containers", len(list)).Msg("startup reconciliation pass")
	for _, c := range list {
		if c.Name == r.proxyName {
			continue
		}
		r.register(ctx, c)
	}
	return nil
}

// HandleStart processes a container start transition.
func (r *Reconciler) HandleStart(ctx context.Context, containerID string) error {
	metrics.IncEvent("start")

	cctx, cancel := r.callCtx(ctx)
	c, err := r.cli.InspectContainer(cctx, containerID)
	cancel()
	if err != nil {
		if docker.IsNotFound(err) {
			logging.App().Debug().Str("container", containerID).Msg("container gone before inspection, dropping start")
			metrics.IncNoop()
			return nil
		}
		metrics.IncError()
		return fmt.Errorf("inspect container %s: %w", containerID, err)
	}

	// The proxy coming (back) up means every tracked attachment must be
	// re-established: its previous endpoints died with the old container.
	if c.Name == r.proxyName {
		logging.App().Info().Str("container", c.Name).Msg("proxy started, reconnecting all relevant networks")
		return r.Sync(ctx)
	}

	r.register(ctx, c)
	return nil
}

// register evaluates relevance, freezes the resolved network set in the
// registry, and connects the proxy where needed. Shared by HandleStart and
// the startup pass.
func (r *Reconciler) register(ctx context.Context, c docker.Container) {
	relevant := r.matcher.IsRelevant(c.Labels)
	if !relevant {
		r.reg.Put(c.ID, registry.Entry{Relevant: false})
		metrics.SetTrackedContainers(r.reg.Len())
		logging.App().Debug().Str("container", c.Name).Msg("container not relevant, tracking without networks")
		return
	}

	networks, err := r.resolver.Resolve(c)
	if err != nil {
		var scopeErr *resolver.UnresolvedScopeError
		if errors.As(err, &scopeErr) {
			logging.App().Warn().
				Str("container", c.Name).
				Str("network", scopeErr.Network).
				Msg("network scope label does not resolve, skipping container")
			metrics.IncScopeFailure()
		} else {
			logging.App().Error().Err(err).Str("container", c.Name).Msg("network resolution failed")
			metrics.IncError()
		}
		// Non-actionable: tracked as irrelevant so its death needs no scan.
		r.reg.Put(c.ID, registry.Entry{Relevant: false})
		metrics.SetTrackedContainers(r.reg.Len())
		return
	}

	r.reg.Put(c.ID, registry.Entry{Relevant: true, Networks: networks})
	metrics.SetTrackedContainers(r.reg.Len())

	proxy, err := r.proxy(ctx)
	if err != nil {
		if docker.IsNotFound(err) {
			logging.App().Info().Str("proxy", r.proxyName).Msg("proxy container not running, skipping connect")
			return
		}
		logging.App().Error().Err(err).Str("proxy", r.proxyName).Msg("proxy inspection failed")
		metrics.IncError()
		return
	}

	attached := make(map[string]struct{}, len(proxy.Networks))
	for _, id := range proxy.Networks {
		attached[id] = struct{}{}
	}

	for networkID := range networks {
		if _, ok := attached[networkID]; ok {
			logging.App().Info().
				Str("container", c.Name).
				Str("network", networkID).
				Msg("proxy already connected, skipping")
			metrics.IncNoop()
			continue
		}
		r.connect(ctx, proxy.ID, networkID, c.Name)
	}
}

// connect issues one connect decision. Errors stay contained here.
func (r *Reconciler) connect(ctx context.Context, proxyID, networkID, reason string) {
	if r.dryRun {
		logging.App().Info().Str("network", networkID).Str("container", reason).Msg("dry-run: would connect proxy to network")
		return
	}
	cctx, cancel := r.callCtx(ctx)
	err := r.cli.ConnectNetwork(cctx, networkID, proxyID)
	cancel()
	switch {
	case err == nil:
		logging.App().Info().Str("network", networkID).Str("container", reason).Msg("proxy connected to network")
		metrics.IncConnect()
	case errors.Is(err, docker.ErrAlreadyConnected):
		logging.App().Debug().Str("network", networkID).Msg("proxy already connected to network")
		metrics.IncNoop()
	default:
		logging.App().Error().Err(err).Str("network", networkID).Str("container", reason).Msg("failed connecting proxy to network")
		metrics.IncError()
		r.notify(ctx, "Connect failed", fmt.Sprintf("network %s (for container %s): %v", networkID, reason, err))
	}
}

// HandleDie processes a container die transition. The dead container cannot
// be inspected; only the registry entry frozen at start time is consulted.
func (r *Reconciler) HandleDie(ctx context.Context, containerID string) error {
	metrics.IncEvent("die")

	entry, ok := r.reg.Remove(containerID)
	metrics.SetTrackedContainers(r.reg.Len())
	if !ok {
		logging.App().Debug().Str("container", containerID).Msg("die for untracked container, nothing to do")
		return nil
	}
	if !entry.Relevant {
		return nil
	}

	proxy, err := r.proxy(ctx)
	if err != nil {
		if docker.IsNotFound(err) {
			logging.App().Info().Str("proxy", r.proxyName).Msg("proxy container not running, skipping disconnect")
			return nil
		}
		metrics.IncError()
		return fmt.Errorf("inspect proxy %q: %w", r.proxyName, err)
	}

	attached := make(map[string]struct{}, len(proxy.Networks))
	for _, id := range proxy.Networks {
		attached[id] = struct{}{}
	}

	for networkID := range entry.Networks {
		if r.reg.NetworkInUse(networkID, containerID) {
			logging.App().Info().
				Str("container", containerID).
				Str("network", networkID).
				Msg("network still needed by another relevant container, keeping")
			continue
		}
		if _, ok := attached[networkID]; !ok {
			logging.App().Debug().Str("network", networkID).Msg("proxy not connected to network, nothing to disconnect")
			metrics.IncNoop()
			continue
		}
		r.disconnect(ctx, proxy.ID, networkID, containerID)
	}
	return nil
}

// disconnect issues one disconnect decision. Errors stay contained here.
func (r *Reconciler) disconnect(ctx context.Context, proxyID, networkID, reason string) {
	if r.dryRun {
		logging.App().Info().Str("network", networkID).Str("container", reason).Msg("dry-run: would disconnect proxy from network")
		return
	}
	cctx, cancel := r.callCtx(ctx)
	err := r.cli.DisconnectNetwork(cctx, networkID, proxyID, false)
	cancel()
	switch {
	case err == nil:
		logging.App().Info().Str("network", networkID).Str("container", reason).Msg("proxy disconnected from network")
		metrics.IncDisconnect()
	case errors.Is(err, docker.ErrNotConnected):
		logging.App().Debug().Str("network", networkID).Msg("proxy not connected to network")
		metrics.IncNoop()
	default:
		// Typically an endpoint outside our registry still uses the
		// network. Not retried; the next die on this network or a
		// restart re-evaluates.
		logging.App().Error().Err(err).Str("network", networkID).Str("container", reason).Msg("failed disconnecting proxy from network")
		metrics.IncError()
		r.notify(ctx, "Disconnect failed", fmt.Sprintf("network %s (after container %s): %v", networkID, reason, err))
	}
}

func (r *Reconciler) notify(ctx context.Context, title, message string) {
	if r.notifier != nil {
		r.notifier.Send(ctx, title, message)
	}
}

// Tracked returns the number of containers currently tracked.
func (r *Reconciler) Tracked() int {
	return r.reg.Len()
}
