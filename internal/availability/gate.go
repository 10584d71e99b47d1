// Package availability tracks whether agents are reachable and which mode a
// conversation should run in.
package availability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/livechat/internal/bus"
	"github.com/matheus3301/livechat/internal/chat"
	"github.com/matheus3301/livechat/internal/clock"
	"go.uber.org/zap"
)

const DefaultInterval = 30 * time.Second

// Fetcher queries the availability endpoint.
type Fetcher interface {
	FetchAvailability(ctx context.Context, projectID string) (chat.Availability, error)
}

type Config struct {
	ProjectID      string
	Fetcher        Fetcher
	Clock          clock.Clock
	Bus            *bus.Bus
	Logger         *zap.Logger
	Interval       time.Duration
	RequestTimeout time.Duration
}

// Gate caches the latest availability and refreshes it on a fixed interval.
type Gate struct {
	projectID string
	fetcher   Fetcher
	clock     clock.Clock
	bus       *bus.Bus
	logger    *zap.Logger
	interval  time.Duration
	timeout   time.Duration

	mu      sync.Mutex
	last    chat.Availability
	known   bool
	running bool
	gen     uint64
	timer   clock.Timer
}

func New(cfg Config) *Gate {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &Gate{
		projectID: cfg.ProjectID,
		fetcher:   cfg.Fetcher,
		clock:     cfg.Clock,
		bus:       cfg.Bus,
		logger:    cfg.Logger,
		interval:  cfg.Interval,
		timeout:   cfg.RequestTimeout,
	}
}

// Check fetches availability now, bypassing the cache. A failed check leaves
// the cached value as it was.
func (g *Gate) Check(ctx context.Context) (chat.Availability, error) {
	a, err := g.fetcher.FetchAvailability(ctx, g.projectID)
	if err != nil {
		return chat.Availability{}, fmt.Errorf("check availability: %w", err)
	}

	g.mu.Lock()
	changed := !g.known || g.last != a
	g.last = a
	g.known = true
	g.mu.Unlock()

	if changed {
		g.bus.Emit(bus.KindAvailabilityChanged, a)
	}
	return a, nil
}

// Last returns the most recent successful check.
func (g *Gate) Last() (chat.Availability, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last, g.known
}

// Start re-checks on the configured interval until Stop. Calling Start while
// running is a no-op.
func (g *Gate) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return
	}
	g.running = true
	g.gen++
	gen := g.gen
	g.timer = g.clock.AfterFunc(g.interval, func() { g.tick(gen) })
}

// Stop cancels the periodic check.
func (g *Gate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return
	}
	g.running = false
	g.gen++
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

func (g *Gate) current(gen uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running && g.gen == gen
}

func (g *Gate) tick(gen uint64) {
	if !g.current(gen) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	if _, err := g.Check(ctx); err != nil {
		g.logger.Warn("periodic availability check failed", zap.Error(err))
	}
	cancel()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running && g.gen == gen {
		g.timer = g.clock.AfterFunc(g.interval, func() { g.tick(gen) })
	}
}

// ShouldUseOfflineForm reports whether a conversation without a session should
// go straight to the offline form.
func ShouldUseOfflineForm(a chat.Availability, hasSession bool) bool {
	return a.Mode == chat.ModeOffline && !hasSession
}

// InitialMode is the mode a freshly opened conversation starts in. A
// conversation that already has a session keeps chatting while agents are
// offline; only a new visitor is sent to the form.
func InitialMode(a chat.Availability, hasSession bool) chat.Mode {
	if a.Mode == chat.ModeLive && a.AgentsOnline > 0 {
		return chat.ModeLive
	}
	if ShouldUseOfflineForm(a, hasSession) {
		return chat.ModeOffline
	}
	return chat.ModeAI
}
