package kvv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ServiceName = "kv.v1.PeerService"

	PeerService_Put_FullMethodName         = "/kv.v1.PeerService/Put"
	PeerService_Get_FullMethodName         = "/kv.v1.PeerService/Get"
	PeerService_RootHash_FullMethodName    = "/kv.v1.PeerService/RootHash"
	PeerService_ChildHashes_FullMethodName = "/kv.v1.PeerService/ChildHashes"
	PeerService_LeafKeys_FullMethodName    = "/kv.v1.PeerService/LeafKeys"
	PeerService_FetchKeys_FullMethodName   = "/kv.v1.PeerService/FetchKeys"
)

// PeerServiceClient is the client API for kv.v1.PeerService.
type PeerServiceClient interface {
	Put(ctx context.Context, in *PutRequest, opts ...grpc.CallOption) (*PutResponse, error)
	Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*GetResponse, error)
	RootHash(ctx context.Context, in *RootHashRequest, opts ...grpc.CallOption) (*RootHashResponse, error)
	ChildHashes(ctx context.Context, in *ChildHashesRequest, opts ...grpc.CallOption) (*ChildHashesResponse, error)
	LeafKeys(ctx context.Context, in *LeafKeysRequest, opts ...grpc.CallOption) (*LeafKeysResponse, error)
	FetchKeys(ctx context.Context, in *FetchKeysRequest, opts ...grpc.CallOption) (*FetchKeysResponse, error)
}

type peerServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewPeerServiceClient(cc grpc.ClientConnInterface) PeerServiceClient {
	return &peerServiceClient{cc: cc}
}

// withCodec prepends the kvwire content-subtype so callers cannot forget it.
func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func (c *peerServiceClient) Put(ctx context.Context, in *PutRequest, opts ...grpc.CallOption) (*PutResponse, error) {
	out := new(PutResponse)
	if err := c.cc.Invoke(ctx, PeerService_Put_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *peerServiceClient) Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*GetResponse, error) {
	out := new(GetResponse)
	if err := c.cc.Invoke(ctx, PeerService_Get_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *peerServiceClient) RootHash(ctx context.Context, in *RootHashRequest, opts ...grpc.CallOption) (*RootHashResponse, error) {
	out := new(RootHashResponse)
	if err := c.cc.Invoke(ctx, PeerService_RootHash_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *peerServiceClient) ChildHashes(ctx context.Context, in *ChildHashesRequest, opts ...grpc.CallOption) (*ChildHashesResponse, error) {
	out := new(ChildHashesResponse)
	if err := c.cc.Invoke(ctx, PeerService_ChildHashes_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *peerServiceClient) LeafKeys(ctx context.Context, in *LeafKeysRequest, opts ...grpc.CallOption) (*LeafKeysResponse, error) {
	out := new(LeafKeysResponse)
	if err := c.cc.Invoke(ctx, PeerService_LeafKeys_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *peerServiceClient) FetchKeys(ctx context.Context, in *FetchKeysRequest, opts ...grpc.CallOption) (*FetchKeysResponse, error) {
	out := new(FetchKeysResponse)
	if err := c.cc.Invoke(ctx, PeerService_FetchKeys_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// PeerServiceServer is the server API for kv.v1.PeerService.
type PeerServiceServer interface {
	Put(context.Context, *PutRequest) (*PutResponse, error)
	Get(context.Context, *GetRequest) (*GetResponse, error)
	RootHash(context.Context, *RootHashRequest) (*RootHashResponse, error)
	ChildHashes(context.Context, *ChildHashesRequest) (*ChildHashesResponse, error)
	LeafKeys(context.Context, *LeafKeysRequest) (*LeafKeysResponse, error)
	FetchKeys(context.Context, *FetchKeysRequest) (*FetchKeysResponse, error)
}

// UnimplementedPeerServiceServer can be embedded to keep forward compatibility.
type UnimplementedPeerServiceServer struct{}

func (UnimplementedPeerServiceServer) Put(context.Context, *PutRequest) (*PutResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Put not implemented")
}
func (UnimplementedPeerServiceServer) Get(context.Context, *GetRequest) (*GetResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Get not implemented")
}
func (UnimplementedPeerServiceServer) RootHash(context.Context, *RootHashRequest) (*RootHashResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method RootHash not implemented")
}
func (UnimplementedPeerServiceServer) ChildHashes(context.Context, *ChildHashesRequest) (*ChildHashesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ChildHashes not implemented")
}
func (UnimplementedPeerServiceServer) LeafKeys(context.Context, *LeafKeysRequest) (*LeafKeysResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method LeafKeys not implemented")
}
func (UnimplementedPeerServiceServer) FetchKeys(context.Context, *FetchKeysRequest) (*FetchKeysResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method FetchKeys not implemented")
}

func RegisterPeerServiceServer(s grpc.ServiceRegistrar, srv PeerServiceServer) {
	s.RegisterService(&PeerService_ServiceDesc, srv)
}

// unaryHandler adapts one typed server method to grpc.MethodHandler.
func unaryHandler[Req any, Resp any](fullMethod string, call func(PeerServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PeerServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(PeerServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var PeerService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PeerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Put", Handler: unaryHandler(PeerService_Put_FullMethodName, PeerServiceServer.Put)},
		{MethodName: "Get", Handler: unaryHandler(PeerService_Get_FullMethodName, PeerServiceServer.Get)},
		{MethodName: "RootHash", Handler: unaryHandler(PeerService_RootHash_FullMethodName, PeerServiceServer.RootHash)},
		{MethodName: "ChildHashes", Handler: unaryHandler(PeerService_ChildHashes_FullMethodName, PeerServiceServer.ChildHashes)},
		{MethodName: "LeafKeys", Handler: unaryHandler(PeerService_LeafKeys_FullMethodName, PeerServiceServer.LeafKeys)},
		{MethodName: "FetchKeys", Handler: unaryHandler(PeerService_FetchKeys_FullMethodName, PeerServiceServer.FetchKeys)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "kv/v1/peer.proto",
}
