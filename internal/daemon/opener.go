package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/livechat/internal/api"
	"github.com/matheus3301/livechat/internal/conversation"
	"go.uber.org/zap"
)

// Opener opens the conversation in the background, retrying at a fixed
// interval until it succeeds or is stopped. A request the backend rejects
// outright is not retried.
type Opener struct {
	conv     *conversation.Conversation
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewOpener(conv *conversation.Conversation, interval time.Duration, logger *zap.Logger) *Opener {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Opener{conv: conv, interval: interval, logger: logger}
}

// Start launches the open loop. Calling Start twice is a no-op.
func (o *Opener) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	go o.run(ctx, o.done)
}

func (o *Opener) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for attempt := 1; ; attempt++ {
		err := o.conv.Open(ctx)
		if err == nil {
			o.logger.Info("conversation open", zap.Int("attempt", attempt))
			return
		}
		var statusErr *api.StatusError
		if errors.As(err, &statusErr) && !statusErr.Temporary() {
			o.logger.Error("open rejected by backend, giving up", zap.Int("attempt", attempt), zap.Int("status", statusErr.StatusCode), zap.Error(err))
			return
		}
		o.logger.Warn("open failed, retrying", zap.Int("attempt", attempt), zap.Duration("in", o.interval), zap.Error(err))

		t := time.NewTimer(o.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// Stop ends the open loop and closes the conversation.
func (o *Opener) Stop() error {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel, o.done = nil, nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return o.conv.Close()
}
