package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/etofiasko/tg-bot-v2/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName    = "docgen.v1.DocumentEngine"
	generateMethod = "/" + serviceName + "/Generate"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GrpcConfig holds configuration for the engine gRPC client.
type GrpcConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcConfig returns default configuration for addr.
func DefaultGrpcConfig(addr string) GrpcConfig {
	return GrpcConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   5 * time.Minute,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GrpcEngine is an Engine served by a remote document engine over gRPC.
type GrpcEngine struct {
	conn   *grpc.ClientConn
	cfg    GrpcConfig
	logger *slog.Logger
}

// NewGrpcEngine connects to the document engine and waits until it is ready.
func NewGrpcEngine(ctx context.Context, cfg GrpcConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect to document engine at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("%w: %s not ready: %v", ErrEngineUnavailable, cfg.Address, err)
	}

	logger.Info("Connected to document engine", "address", cfg.Address)
	return &GrpcEngine{conn: conn, cfg: cfg, logger: logger}, nil
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

// Generate sends the request to the engine and decodes its reply.
func (e *GrpcEngine) Generate(ctx context.Context, req domain.ReportRequest) (*domain.GenerationResult, error) {
	in, err := EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	if e.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RequestTimeout)
		defer cancel()
	}

	out := new(structpb.Struct)
	if err := e.conn.Invoke(ctx, generateMethod, in, out); err != nil {
		if status.Code(err) == codes.Unavailable {
			return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
		}
		return nil, fmt.Errorf("generate rpc: %w", err)
	}

	res, err := DecodeResult(out)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("Document generated",
		"address", e.cfg.Address,
		"status", res.Status,
		"filename", res.Filename,
		"bytes", len(res.Document))
	return res, nil
}

// Healthy reports whether the connection is usable.
func (e *GrpcEngine) Healthy() bool {
	s := e.conn.GetState()
	return s != connectivity.Shutdown && s != connectivity.TransientFailure
}

// Close closes the gRPC connection.
func (e *GrpcEngine) Close() error {
	if e.conn == nil {
		return nil
	}
	if err := e.conn.Close(); err != nil {
		return fmt.Errorf("close engine connection: %w", err)
	}
	return nil
}

// Server is implemented by document engines written in Go and by test doubles.
type Server interface {
	Generate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func generateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Generate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: generateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Generate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Generate", Handler: generateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "docgen/v1/engine.proto",
}

// RegisterServer registers a document engine implementation on s.
func RegisterServer(s *grpc.Server, srv Server) {
	s.RegisterService(&serviceDesc, srv)
}

// GeneratorFunc serves Generate from a Go function working on domain types.
type GeneratorFunc func(ctx context.Context, req domain.ReportRequest) (*domain.GenerationResult, error)

// Generate implements Server.
func (f GeneratorFunc) Generate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	res, err := f(ctx, DecodeRequest(in))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return EncodeResult(res)
}

var _ Engine = (*GrpcEngine)(nil)
