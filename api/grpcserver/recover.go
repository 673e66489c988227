package grpcserver

import (
	"context"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServerOptions installs interceptors that turn a panicking handler into an
// Internal status instead of taking the process down.
func ServerOptions(log zerolog.Logger) []grpc.ServerOption {
	log = log.With().Str("component", "grpc").Logger()
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(func(ctx context.Context, req any, info *grpc.UnaryServerInfo, h grpc.UnaryHandler) (resp any, err error) {
			defer recoverTo(log, info.FullMethod, &err)
			return h(ctx, req)
		}),
		grpc.ChainStreamInterceptor(func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, h grpc.StreamHandler) (err error) {
			defer recoverTo(log, info.FullMethod, &err)
			return h(srv, ss)
		}),
	}
}

func recoverTo(log zerolog.Logger, method string, err *error) {
	if r := recover(); r != nil {
		log.Error().Interface("panic", r).Str("method", method).Msg("handler panicked")
		*err = status.Error(codes.Internal, "internal error")
	}
}
