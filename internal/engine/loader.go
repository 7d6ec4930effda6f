package engine

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
)

// AddressLoader dials an already running engine per backend.
type AddressLoader struct {
	Addresses map[string]string
	Config    func(addr string) GrpcConfig
	Logger    *slog.Logger
	DialOpts  []grpc.DialOption
}

// Load dials the engine configured for backend.
func (l *AddressLoader) Load(ctx context.Context, backend string) (Engine, error) {
	addr, ok := l.Addresses[backend]
	if !ok || addr == "" {
		return nil, fmt.Errorf("%w: no address configured for backend %q", ErrEngineUnavailable, backend)
	}
	cfg := DefaultGrpcConfig(addr)
	if l.Config != nil {
		cfg = l.Config(addr)
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return NewGrpcEngine(ctx, cfg, logger.With("backend", backend), l.DialOpts...)
}

var _ Loader = (*AddressLoader)(nil)
