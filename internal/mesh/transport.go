package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	transportService = "tutormesh.mesh.v1.Transport"
	deliverMethod    = "/" + transportService + "/Deliver"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// transportServer is the server side of the Transport service.
type transportServer interface {
	Deliver(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error)
}

var transportServiceDesc = grpc.ServiceDesc{
	ServiceName: transportService,
	HandlerType: (*transportServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tutormesh/mesh/v1/transport.proto",
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(transportServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deliverMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(transportServer).Deliver(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// TransportServer accepts envelopes from other processes and hands them to
// the local router.
type TransportServer struct {
	router *Router
	logger *slog.Logger
	server *grpc.Server
}

// NewTransportServer creates a gRPC server bound to router.
func NewTransportServer(router *Router, logger *slog.Logger) *TransportServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &TransportServer{
		router: router,
		logger: logger.With("component", "transport"),
		server: grpc.NewServer(grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             30 * time.Second,
			PermitWithoutStream: true,
		})),
	}
	s.server.RegisterService(&transportServiceDesc, s)
	return s
}

// Deliver implements the Transport service.
func (s *TransportServer) Deliver(_ context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	env, err := envelopeFromStruct(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode envelope: %v", err)
	}
	if err := s.router.Deliver(env); err != nil {
		if errors.Is(err, ErrUnroutableRecipient) {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	s.logger.Debug("envelope received", "id", env.ID, "kind", env.Kind(), "sender", env.Sender.Address)
	return &emptypb.Empty{}, nil
}

// Serve blocks until ctx is cancelled or the listener fails.
func (s *TransportServer) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("transport listening", "addr", lis.Addr().String())
		errCh <- s.server.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.server.GracefulStop()
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("transport serve: %w", err)
	}
}

// GrpcForwarder sends envelopes to remote Transport servers, keeping one
// client connection per endpoint.
type GrpcForwarder struct {
	mu      sync.Mutex
	conns   map[string]*grpc.ClientConn
	timeout time.Duration
	logger  *slog.Logger
}

// NewGrpcForwarder returns a forwarder with the given per-call timeout.
func NewGrpcForwarder(timeout time.Duration, logger *slog.Logger) *GrpcForwarder {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &GrpcForwarder{
		conns:   make(map[string]*grpc.ClientConn),
		timeout: timeout,
		logger:  logger.With("component", "forwarder"),
	}
}

// Forward implements Forwarder.
func (f *GrpcForwarder) Forward(ctx context.Context, endpoint string, env Envelope) error {
	conn, err := f.conn(endpoint)
	if err != nil {
		return err
	}
	in, err := envelopeToStruct(env)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if err := conn.Invoke(callCtx, deliverMethod, in, new(emptypb.Empty)); err != nil {
		return fmt.Errorf("deliver to %s: %w", endpoint, err)
	}
	return nil
}

// WaitReady blocks until a connection to endpoint is established or ctx ends.
func (f *GrpcForwarder) WaitReady(ctx context.Context, endpoint string) error {
	conn, err := f.conn(endpoint)
	if err != nil {
		return err
	}
	return waitForReady(ctx, conn)
}

func (f *GrpcForwarder) conn(endpoint string) (*grpc.ClientConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.conns[endpoint]; ok && c.GetState() != connectivity.Shutdown {
		return c, nil
	}

	kacp := keepalive.ClientParameters{
		Time:                2 * time.Minute,
		Timeout:             10 * time.Second,
		PermitWithoutStream: false,
	}
	c, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("create client for %s: %w", endpoint, err)
	}
	f.conns[endpoint] = c
	return c, nil
}

// Close closes every client connection.
func (f *GrpcForwarder) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for endpoint, c := range f.conns {
		if err := c.Close(); err != nil {
			f.logger.Warn("failed to close gRPC connection", "endpoint", endpoint, "error", err)
		}
		delete(f.conns, endpoint)
	}
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

func envelopeToStruct(env Envelope) (*structpb.Struct, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("flatten envelope: %w", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("build envelope struct: %w", err)
	}
	return s, nil
}

func envelopeFromStruct(s *structpb.Struct) (Envelope, error) {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
