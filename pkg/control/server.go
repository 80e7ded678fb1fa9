package control

import (
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/core-tools/hsu-watchdog/pkg/logging"
)

// Supervised is the view of a watchdog the health endpoint needs
type Supervised interface {
	Name() string
	// Done is closed once supervision has stopped
	Done() <-chan struct{}
}

// Server exposes the standard gRPC health service. Both the overall status
// ("") and the watchdog's own name report SERVING while the watchdog is
// supervising and NOT_SERVING once it has stopped.
type Server struct {
	supervised Supervised
	grpcServer *grpc.Server
	health     *health.Server
	logger     logging.Logger
	stopOnce   sync.Once
	stopped    chan struct{}
}

func NewServer(supervised Supervised, logger logging.Logger) *Server {
	s := &Server{
		supervised: supervised,
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
		logger:     logger,
		stopped:    make(chan struct{}),
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)

	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	go s.watch()

	return s
}

// ServiceName is the health service name the watchdog reports under
func (s *Server) ServiceName() string {
	return s.supervised.Name()
}

func (s *Server) watch() {
	select {
	case <-s.supervised.Done():
		s.logger.Infof("Supervision of %s stopped, reporting NOT_SERVING", s.supervised.Name())
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	case <-s.stopped:
	}
}

func (s *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(s.supervised.Name(), status)
}

// Listen opens a TCP listener on port (0 picks a free one)
func Listen(port int) (net.Listener, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	return listener, nil
}

// Serve blocks until Stop is called or the listener fails
func (s *Server) Serve(listener net.Listener) error {
	s.logger.Infof("Health endpoint listening on %s", listener.Addr())
	return s.grpcServer.Serve(listener)
}

func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		s.logger.Infof("Health endpoint stopped")
	})
}
