package daemon

import (
	"context"
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/skdvlpr/gomercatocrm/internal/bus"
	"github.com/skdvlpr/gomercatocrm/internal/status"
)

// HealthService is the gRPC health service name that tracks the bridge
// session. The empty service reports the process itself.
const HealthService = "crmchat.Bridge"

// HealthServer serves grpc.health.v1 on the data directory's Unix socket.
type HealthServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewHealthServer creates a health server bound to socketPath.
func NewHealthServer(socketPath string, logger *zap.Logger) (*HealthServer, error) {
	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &HealthServer{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// SocketPath returns where the server listens.
func (s *HealthServer) SocketPath() string {
	return s.socketPath
}

// Start begins serving. Blocks until stopped.
func (s *HealthServer) Start() error {
	s.logger.Info("health server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// SetState maps a session state onto the bridge service status. Only Ready
// counts as serving.
func (s *HealthServer) SetState(st status.State) {
	v := healthpb.HealthCheckResponse_NOT_SERVING
	if st == status.Ready {
		v = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(HealthService, v)
}

// Watch applies current, then follows session state changes on b until ctx
// is cancelled.
func (s *HealthServer) Watch(ctx context.Context, b *bus.Bus, current func() status.State) {
	events, unsub := b.Subscribe("session.", 16)
	defer unsub()
	s.SetState(current())
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			change, ok := evt.Payload.(status.StatusChange)
			if !ok {
				continue
			}
			s.logger.Info("session state changed", zap.String("from", string(change.From)), zap.String("to", string(change.To)))
			s.SetState(change.To)
		case <-ctx.Done():
			return
		}
	}
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *HealthServer) Stop(_ context.Context) {
	s.logger.Info("health server stopping")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}
