// Package grpc serves the standard gRPC health protocol. Each dataset is a
// health service named "covid19.<dataset>" that turns SERVING once its
// first refresh lands. The overall status ("") follows all of them.
package grpc

import (
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mr1hm/go-covid19-stats/internal/events"
	"github.com/mr1hm/go-covid19-stats/internal/models"
)

const servicePrefix = "covid19."

// ServiceName is the health service name of a dataset.
func ServiceName(dataset string) string {
	return servicePrefix + dataset
}

type Server struct {
	health      *health.Server
	broadcaster *events.Broadcaster
	grpcServer  *grpc.Server

	mu     sync.Mutex
	loaded map[string]bool
	subID  uint64
	wg     sync.WaitGroup
}

// NewServer registers every dataset as NOT_SERVING and starts following
// refresh events from broadcaster.
func NewServer(broadcaster *events.Broadcaster) (*Server, error) {
	s := &Server{
		health:      health.NewServer(),
		broadcaster: broadcaster,
		loaded:      make(map[string]bool, len(models.Datasets)),
	}

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	for _, dataset := range models.Datasets {
		s.health.SetServingStatus(ServiceName(dataset), healthpb.HealthCheckResponse_NOT_SERVING)
	}

	id, ch, err := broadcaster.Subscribe("")
	if err != nil {
		return nil, err
	}
	s.subID = id

	s.wg.Add(1)
	go s.watch(ch)

	return s, nil
}

func (s *Server) watch(ch <-chan *models.RefreshEvent) {
	defer s.wg.Done()
	for e := range ch {
		s.markLoaded(e.Dataset)
	}
}

func (s *Server) markLoaded(dataset string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded[dataset] {
		return
	}
	s.loaded[dataset] = true
	s.health.SetServingStatus(ServiceName(dataset), healthpb.HealthCheckResponse_SERVING)
	slog.Info("dataset serving", "dataset", dataset)

	if len(s.loaded) == len(models.Datasets) {
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}
}

func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	gs := s.grpcServer
	s.mu.Unlock()

	slog.Info("gRPC health server listening", "addr", lis.Addr().String())
	return gs.Serve(lis)
}

// Stop reports NOT_SERVING to open watchers, drains RPCs and stops
// following refresh events.
func (s *Server) Stop() {
	s.health.Shutdown()

	s.mu.Lock()
	gs := s.grpcServer
	s.mu.Unlock()
	if gs != nil {
		gs.GracefulStop()
	}

	s.broadcaster.Unsubscribe(s.subID)
	s.wg.Wait()
}
