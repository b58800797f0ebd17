// Package notify fans operational alerts out to the configured webhook
// providers. Sends are asynchronous with per-provider retries and a short
// cooldown so a flapping container cannot spam a channel.
package notify

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/obeone/traefik-network-connector/internal/config"
	"github.com/obeone/traefik-network-connector/internal/logging"
)

// DefaultCooldown is the minimum gap between notifications to the same
// provider. Kept small so distinct events (a stack restarting) still get
// through.
var DefaultCooldown = 100 * time.Millisecond

var (
	maxRetries  = 3
	baseBackoff = 100 * time.Millisecond
	// backoffJitter adds up to this random duration to each backoff
	backoffJitter = 0 * time.Millisecond
)

// sleepHook is swapped out in tests to avoid sleeping for real
var sleepHook = time.Sleep

// Service is implemented by every notification provider.
type Service interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// MultiNotifier bundles the active providers.
type MultiNotifier struct {
	services []Service
	// lastSent tracks the last successful send per provider name
	lastSent map[string]time.Time
	cooldown time.Duration
	mu       sync.Mutex
	wg       sync.WaitGroup
}

// NewMultiNotifier returns an empty notifier with the default cooldown.
func NewMultiNotifier() *MultiNotifier {
	return &MultiNotifier{services: make([]Service, 0), lastSent: make(map[string]time.Time), cooldown: DefaultCooldown}
}

// FromConfig builds a notifier with one provider per configured endpoint.
func FromConfig(cfg config.NotifyConfig) *MultiNotifier {
	m := NewMultiNotifier()
	if cfg.SlackWebhook != "" {
		m.Add(&Slack{WebhookURL: cfg.SlackWebhook})
	}
	if cfg.DiscordWebhook != "" {
		m.Add(&Discord{WebhookURL: cfg.DiscordWebhook})
	}
	if cfg.TeamsWebhook != "" {
		m.Add(&Teams{WebhookURL: cfg.TeamsWebhook})
	}
	if cfg.GenericWebhookURL != "" {
		m.Add(&Generic{WebhookURL: cfg.GenericWebhookURL})
	}
	if cfg.GotifyURL != "" && cfg.GotifyToken != "" {
		m.Add(&Gotify{ServerURL: cfg.GotifyURL, Token: cfg.GotifyToken})
	}
	return m
}

func (m *MultiNotifier) Add(s Service) {
	if s != nil {
		m.services = append(m.services, s)
	}
}

func (m *MultiNotifier) Len() int {
	return len(m.services)
}

// SetCooldown adjusts the per-provider cooldown (tests).
func (m *MultiNotifier) SetCooldown(d time.Duration) {
	m.cooldown = d
}

// Wait blocks until pending sends complete or ctx is cancelled.
func (m *MultiNotifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send dispatches the notification to every provider asynchronously.
func (m *MultiNotifier) Send(ctx context.Context, title, message string) {
	now := time.Now()
	for _, s := range m.services {
		name := s.Name()
		m.wg.Add(1)
		go func(svc Service, svcName string) {
			defer m.wg.Done()
			if m.inCooldown(svcName, now) {
				logging.Get().Warn().Str("service", svcName).Msg("skipping notification due to cooldown")
				return
			}
			if err := m.sendWithRetries(ctx, svc, title, message, svcName); err != nil {
				logging.Get().Error().Err(err).Str("service", svcName).Msg("all notification retries failed")
			}
		}(s, name)
	}
}

func (m *MultiNotifier) inCooldown(name string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.lastSent[name]
	return ok && now.Sub(last) < m.cooldown
}

func (m *MultiNotifier) sendWithRetries(ctx context.Context, s Service, title, message, name string) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := s.Send(ctx, title, message); err != nil {
			lastErr = err
			logging.Get().Warn().Err(err).Str("service", name).Int("attempt", attempt).Msg("notification attempt failed")
			if attempt < maxRetries {
				d := backoffDuration(attempt)
				slept := make(chan struct{})
				go func() {
					sleepHook(d)
					close(slept)
				}()
				select {
				case <-slept:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			continue
		}
		m.mu.Lock()
		m.lastSent[name] = time.Now()
		m.mu.Unlock()
		logging.Get().Debug().Str("service", name).Msg("notification sent")
		return nil
	}
	return lastErr
}

func backoffDuration(attempt int) time.Duration {
	d := baseBackoff * time.Duration(1<<uint(attempt-1))
	if backoffJitter > 0 {
		max := big.NewInt(int64(backoffJitter))
		if n, err := crand.Int(crand.Reader, max); err == nil {
			d += time.Duration(n.Int64())
		}
	}
	return d
}

// postJSON is the shared provider helper.
func postJSON(ctx context.Context, url string, data interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("api returned status %d", resp.StatusCode)
	}
	return nil
}
