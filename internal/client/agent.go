package client

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"
)

// AgentConfig holds the background sync agent's timer settings.
type AgentConfig struct {
	DrainInterval   time.Duration // how often to replay the offline buffer
	RefreshInterval time.Duration // how often to refresh the catalog mirror
	PingInterval    time.Duration // how often to probe server reachability
}

// DefaultAgentConfig returns the default timer settings.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		DrainInterval:   30 * time.Second,
		RefreshInterval: DefaultRefreshInterval,
		PingInterval:    15 * time.Second,
	}
}

// Agent runs the terminal's background sync work: periodic buffer drains and
// catalog refreshes, plus an immediate pass whenever connectivity comes back.
// It cooperates with the UI thread rather than blocking it; each tick runs to
// completion or fails fast.
type Agent struct {
	Buffer  *OfflineBuffer
	Catalog *CatalogCache

	// PingURL, when set before Start, enables the connectivity probe: the
	// agent GETs it on every ping tick and feeds the result into SetOnline.
	PingURL string
	HTTP    *http.Client

	drainInterval   time.Duration
	refreshInterval time.Duration
	pingInterval    time.Duration

	mu        sync.Mutex
	isRunning bool
	isOnline  bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewAgent wires an agent over the buffer and catalog cache.
func NewAgent(buffer *OfflineBuffer, catalog *CatalogCache, config *AgentConfig) *Agent {
	if config == nil {
		config = DefaultAgentConfig()
	}
	return &Agent{
		Buffer:          buffer,
		Catalog:         catalog,
		HTTP:            &http.Client{Timeout: 5 * time.Second},
		drainInterval:   config.DrainInterval,
		refreshInterval: config.RefreshInterval,
		pingInterval:    config.PingInterval,
		isOnline:        true,
	}
}

// Start launches the background loops. A second Start on a running agent is a
// no-op; a stopped agent can be started again.
func (a *Agent) Start(ctx context.Context) {
	a.mu.Lock()
	if a.isRunning {
		a.mu.Unlock()
		return
	}
	a.isRunning = true
	// Each run gets its own stop channel; the previous run's is closed.
	a.stopCh = make(chan struct{})
	stop := a.stopCh
	withPing := a.PingURL != ""
	loops := 2
	if withPing {
		loops++
	}
	a.wg.Add(loops)
	a.mu.Unlock()

	go a.drainLoop(ctx, stop)
	go a.refreshLoop(ctx, stop)
	if withPing {
		go a.pingLoop(ctx, stop)
	}

	log.Println("Terminal sync agent started")
}

// Stop shuts the loops down and waits for them, including any reconnect pass
// still in flight.
func (a *Agent) Stop() {
	a.mu.Lock()
	if !a.isRunning {
		a.mu.Unlock()
		return
	}
	a.isRunning = false
	close(a.stopCh)
	a.mu.Unlock()

	a.wg.Wait()

	log.Println("Terminal sync agent stopped")
}

// SetOnline is the connectivity-change signal. Coming back online triggers an
// immediate drain and a forced catalog refresh, mirroring the reconnect
// behavior of a browser online event. The reconnect pass only runs while the
// agent is running, and Stop waits for it.
func (a *Agent) SetOnline(ctx context.Context, online bool) {
	a.mu.Lock()
	wasOnline := a.isOnline
	a.isOnline = online
	reconnected := online && !wasOnline && a.isRunning
	if reconnected {
		a.wg.Add(1)
	}
	a.mu.Unlock()

	if !reconnected {
		return
	}

	log.Println("Connectivity restored, replaying offline buffer")
	go func() {
		defer a.wg.Done()
		a.drainOnce(ctx)
		a.refreshOnce(ctx, true)
	}()
}

// IsOnline reports the agent's current connectivity assumption.
func (a *Agent) IsOnline() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isOnline
}

func (a *Agent) drainLoop(ctx context.Context, stop <-chan struct{}) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if a.IsOnline() {
				a.drainOnce(ctx)
			}
		}
	}
}

func (a *Agent) refreshLoop(ctx context.Context, stop <-chan struct{}) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if a.IsOnline() {
				a.refreshOnce(ctx, false)
			}
		}
	}
}

// pingLoop is the terminal's connectivity detector: a periodic probe of the
// server's public ping endpoint, with the result driving SetOnline and
// through it the reconnect replay.
func (a *Agent) pingLoop(ctx context.Context, stop <-chan struct{}) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			a.SetOnline(ctx, a.ping(ctx))
		}
	}
}

// ping reports whether the server answered the probe with a 2xx.
func (a *Agent) ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.PingURL, nil)
	if err != nil {
		return false
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (a *Agent) drainOnce(ctx context.Context) {
	// Drain is reentrancy-safe itself; a tick overlapping a reconnect drain
	// simply returns empty.
	if _, err := a.Buffer.Drain(ctx); err != nil && ctx.Err() == nil {
		log.Printf("Offline buffer drain failed: %v", err)
	}
}

func (a *Agent) refreshOnce(ctx context.Context, force bool) {
	if err := a.Catalog.Refresh(ctx, force); err != nil && ctx.Err() == nil {
		log.Printf("Catalog refresh failed: %v", err)
	}
}
