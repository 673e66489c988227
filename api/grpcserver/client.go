package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"strata/infra/memory"
	"strata/service"
)

// Client calls a remote Model service. Samples it receives are allocated
// from alloc.
type Client struct {
	cc    grpc.ClientConnInterface
	alloc memory.Allocator
}

func NewClient(cc grpc.ClientConnInterface, alloc memory.Allocator) *Client {
	if alloc == nil {
		alloc = memory.Default()
	}
	return &Client{cc: cc, alloc: alloc}
}

func pathRequest(path string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"path": structpb.NewStringValue(path),
	}}
}

func (c *Client) Get(ctx context.Context, path string) (service.NodeValue, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGet, pathRequest(path), out); err != nil {
		return service.NodeValue{}, err
	}
	return decodeNode(out, c.alloc)
}

func (c *Client) Set(ctx context.Context, path string, v any) (uint64, error) {
	pv, err := service.EncodeValue(v)
	if err != nil {
		return 0, err
	}
	req := pathRequest(path)
	req.Fields["value"] = pv

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodSet, req, out); err != nil {
		return 0, err
	}
	return parseSerial(out.GetFields()["serial"])
}

func (c *Client) List(ctx context.Context, path string) ([]service.NodeValue, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodList, pathRequest(path), out); err != nil {
		return nil, err
	}
	items := out.GetFields()["nodes"].GetListValue().GetValues()
	nodes := make([]service.NodeValue, 0, len(items))
	for _, it := range items {
		nv, err := decodeNode(it.GetStructValue(), c.alloc)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, nv)
	}
	return nodes, nil
}

// Watcher receives one node's states. It ends with the context passed to
// Client.Watch.
type Watcher struct {
	stream grpc.ServerStreamingClient[structpb.Struct]
	alloc  memory.Allocator
}

func (c *Client) Watch(ctx context.Context, path string) (*Watcher, error) {
	st, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], methodWatch)
	if err != nil {
		return nil, err
	}
	stream := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: st}
	if err := stream.SendMsg(pathRequest(path)); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &Watcher{stream: stream, alloc: c.alloc}, nil
}

func (w *Watcher) Recv() (service.NodeValue, error) {
	st, err := w.stream.Recv()
	if err != nil {
		return service.NodeValue{}, err
	}
	return decodeNode(st, w.alloc)
}
