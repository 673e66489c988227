package grpcserver

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"strata/domain/model"
	"strata/service"
)

// Server adapts ModelService to gRPC.
type Server struct {
	svc *service.ModelService
	log zerolog.Logger
}

func NewServer(svc *service.ModelService, log zerolog.Logger) *Server {
	return &Server{svc: svc, log: log.With().Str("component", "grpc").Logger()}
}

// -------------------- Commands --------------------

func (s *Server) Set(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	path, err := pathOf(req)
	if err != nil {
		return nil, err
	}
	pv := req.GetFields()["value"]
	if pv == nil {
		return nil, status.Error(codes.InvalidArgument, "value is required")
	}
	v, err := service.DecodeValue(pv, s.svc.Store().Allocator())
	if err != nil {
		return nil, toStatus(err)
	}

	serial, err := s.svc.Set(ctx, path, v)
	if err != nil {
		return nil, toStatus(err)
	}
	s.log.Debug().Str("path", path).Uint64("serial", serial).Msg("Set")
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"serial": serialValue(serial),
	}}, nil
}

// -------------------- Queries --------------------

func (s *Server) Get(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	path, err := pathOf(req)
	if err != nil {
		return nil, err
	}
	nv, err := s.svc.Get(path)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeNode(nv)
}

func (s *Server) List(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	path, err := pathOf(req)
	if err != nil {
		return nil, err
	}
	nodes, err := s.svc.List(path)
	if err != nil {
		return nil, toStatus(err)
	}

	list := make([]*structpb.Value, 0, len(nodes))
	for _, nv := range nodes {
		st, err := encodeNode(nv)
		if err != nil {
			return nil, err
		}
		list = append(list, structpb.NewStructValue(st))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"nodes": structpb.NewListValue(&structpb.ListValue{Values: list}),
	}}, nil
}

// Watch sends the node's current state, then its changes. A slow client
// sees the newest state rather than every intermediate one.
func (s *Server) Watch(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	path, err := pathOf(req)
	if err != nil {
		return err
	}

	latest := make(chan service.NodeValue, 1)
	l, err := s.svc.Watch(path, func(nv service.NodeValue) {
		for {
			select {
			case latest <- nv:
				return
			default:
			}
			select {
			case <-latest:
			default:
			}
		}
	}, model.AvoidDuplicate())
	if err != nil {
		return toStatus(err)
	}
	defer l.Disconnect()

	cur, err := s.svc.Get(path)
	if err != nil {
		return toStatus(err)
	}
	if err := sendNode(stream, cur); err != nil {
		return err
	}
	s.log.Debug().Str("path", path).Msg("Watch started")

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case nv := <-latest:
			if nv.Serial <= cur.Serial {
				continue
			}
			cur = nv
			if err := sendNode(stream, nv); err != nil {
				return err
			}
		}
	}
}

func sendNode(stream grpc.ServerStreamingServer[structpb.Struct], nv service.NodeValue) error {
	st, err := encodeNode(nv)
	if err != nil {
		return err
	}
	return stream.Send(st)
}

// -------------------- Converters --------------------

func pathOf(req *structpb.Struct) (string, error) {
	p := req.GetFields()["path"].GetStringValue()
	if p == "" {
		return "", status.Error(codes.InvalidArgument, "path is required")
	}
	return p, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, model.ErrExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, model.ErrKind), errors.Is(err, model.ErrBadName):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, model.ErrReleased):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
