// Package grpcserver runs the gRPC operations endpoint used by orchestrators:
// standard health checking and, in development, server reflection.
package grpcserver

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported alongside the overall status.
const ServiceName = "phv.register"

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ops is the gRPC operations server.
type Ops struct {
	srv    *grpc.Server
	health *health.Server
	log    *zap.Logger
}

// NewOps builds the server; reflection is registered only when dev is set.
// The server starts NOT_SERVING until the first successful probe.
func NewOps(log *zap.Logger, dev bool) *Ops {
	if log == nil {
		log = zap.NewNop()
	}
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoverUnary(log),
			LoggingUnary(log),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if dev {
		reflection.Register(s)
	}
	o := &Ops{srv: s, health: hs, log: log}
	o.SetServing(false)
	return o
}

// SetServing flips the reported status.
func (o *Ops) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	o.health.SetServingStatus("", st)
	o.health.SetServingStatus(ServiceName, st)
}

// Probe pings p and updates the status, returning the ping error.
func (o *Ops) Probe(ctx context.Context, p Pinger, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := p.Ping(ctx)
	o.SetServing(err == nil)
	return err
}

// Watch probes p every interval until ctx is done.
func (o *Ops) Watch(ctx context.Context, p Pinger, interval time.Duration) {
	healthy := true
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		err := o.Probe(ctx, p, interval)
		switch {
		case err != nil && healthy:
			o.log.Warn("dependency unhealthy", zap.Error(err))
		case err == nil && !healthy:
			o.log.Info("dependency healthy again")
		}
		healthy = err == nil

		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

// Serve accepts connections on lis until Stop.
func (o *Ops) Serve(lis net.Listener) error {
	return o.srv.Serve(lis)
}

// Stop drains in-flight calls, forcing a stop after timeout.
func (o *Ops) Stop(timeout time.Duration) {
	o.health.Shutdown()
	done := make(chan struct{})
	go func() {
		o.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		o.srv.Stop()
	}
}
