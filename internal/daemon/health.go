package daemon

import (
	"github.com/matheus3301/livechat/internal/bus"
	"github.com/matheus3301/livechat/internal/conversation"
	"github.com/matheus3301/livechat/internal/transport"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// TransportService is the health service name that is SERVING while the live
// channel is connected.
const TransportService = "livechat.transport"

// Health mirrors the transport state into a gRPC health server.
type Health struct {
	srv    *health.Server
	bus    *bus.Bus
	state  func() transport.State
	logger *zap.Logger

	unsub func()
	stop  chan struct{}
	done  chan struct{}
}

// NewHealth creates a health server reporting conv's connection state.
func NewHealth(b *bus.Bus, conv *conversation.Conversation, logger *zap.Logger) *Health {
	return newHealth(b, conv.ConnectionState, logger)
}

func newHealth(b *bus.Bus, state func() transport.State, logger *zap.Logger) *Health {
	srv := health.NewServer()
	srv.SetServingStatus(TransportService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Health{srv: srv, bus: b, state: state, logger: logger}
}

// Server returns the gRPC health implementation.
func (h *Health) Server() *health.Server {
	return h.srv
}

// Start follows transport state changes until Stop.
func (h *Health) Start() {
	events, unsub := h.bus.Subscribe(bus.KindTransportState, 16)
	h.unsub = unsub
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	go func() {
		defer close(h.done)
		h.sync()
		for {
			select {
			case <-h.stop:
				return
			case <-events:
				// The bus may drop events, so read the state rather than the payload.
				h.sync()
			}
		}
	}()
}

func (h *Health) sync() {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if h.state() == transport.Connected {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus(TransportService, st)
	h.logger.Debug("transport health", zap.String("status", st.String()))
}

// Stop ends the watcher and marks every service NOT_SERVING.
func (h *Health) Stop() {
	if h.stop == nil {
		return
	}
	h.unsub()
	close(h.stop)
	<-h.done
	h.stop = nil
	h.srv.Shutdown()
}
