package grpc_handler

import (
	"context"
	"errors"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/internal/node/port"
	"github.com/anthanhphan/go-replicated-kv/pkg/merkle"
	kvv1 "github.com/anthanhphan/go-replicated-kv/proto/kv/v1"
	"github.com/anthanhphan/gosdk/logger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Server implements the gRPC PeerService.
type Server struct {
	kvv1.UnimplementedPeerServiceServer
	service port.NodeService
}

// NewServer creates a new gRPC server.
func NewServer(service port.NodeService) *Server {
	return &Server{
		service: service,
	}
}

var _ kvv1.PeerServiceServer = (*Server)(nil)

func (s *Server) stamp() *kvv1.RingStamp {
	return stampToProto(s.service.RingStamp())
}

// Put applies a replica write from a coordinator, handoff or repair.
func (s *Server) Put(ctx context.Context, req *kvv1.PutRequest) (*kvv1.PutResponse, error) {
	record, err := domain.RecordFromProto(req.Record)
	if err != nil {
		return nil, toStatus(err)
	}
	applied, err := s.service.ApplyReplica(ctx, req.Sender, stampFromProto(req.Ring), record)
	if err != nil {
		logger.Warnw("Replica put rejected", "sender", req.Sender, "key", record.Key.String(), "error", err.Error())
		return nil, toStatus(err)
	}
	return &kvv1.PutResponse{Applied: applied, Ring: s.stamp()}, nil
}

// Get returns the local copy of a key.
func (s *Server) Get(ctx context.Context, req *kvv1.GetRequest) (*kvv1.GetResponse, error) {
	key := domain.NewKey(req.Namespace, req.Key)
	record, found, err := s.service.ReadReplica(ctx, req.Sender, stampFromProto(req.Ring), key)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &kvv1.GetResponse{Found: found, Ring: s.stamp()}
	if found {
		resp.Record = domain.RecordToProto(record)
	}
	return resp, nil
}

func (s *Server) RootHash(ctx context.Context, req *kvv1.RootHashRequest) (*kvv1.RootHashResponse, error) {
	root, err := s.service.RootHash(ctx, req.Sender, stampFromProto(req.Ring), int(req.Partition))
	if err != nil {
		return nil, toStatus(err)
	}
	return &kvv1.RootHashResponse{Hash: root[:], Ring: s.stamp()}, nil
}

func (s *Server) ChildHashes(ctx context.Context, req *kvv1.ChildHashesRequest) (*kvv1.ChildHashesResponse, error) {
	indices := make([]int, len(req.Indices))
	for i, idx := range req.Indices {
		indices[i] = int(idx)
	}
	children, err := s.service.ChildHashes(ctx, int(req.Partition), indices)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &kvv1.ChildHashesResponse{Nodes: make([]*kvv1.NodeChildren, 0, len(children))}
	for _, idx := range req.Indices {
		hashes, ok := children[int(idx)]
		if !ok {
			continue
		}
		nc := &kvv1.NodeChildren{Index: idx, Hashes: make([][]byte, len(hashes))}
		for i, h := range hashes {
			nc.Hashes[i] = h[:]
		}
		resp.Nodes = append(resp.Nodes, nc)
	}
	return resp, nil
}

func (s *Server) LeafKeys(ctx context.Context, req *kvv1.LeafKeysRequest) (*kvv1.LeafKeysResponse, error) {
	digests, leafHash, err := s.service.LeafKeys(ctx, int(req.Partition), int(req.Leaf))
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &kvv1.LeafKeysResponse{
		Entries:  make([]*kvv1.KeyDigest, 0, len(digests)),
		LeafHash: leafHash[:],
	}
	for _, d := range digests {
		resp.Entries = append(resp.Entries, domain.KeyDigestToProto(d))
	}
	return resp, nil
}

func (s *Server) FetchKeys(ctx context.Context, req *kvv1.FetchKeysRequest) (*kvv1.FetchKeysResponse, error) {
	keys := make([]domain.Key, 0, len(req.Keys))
	for _, k := range req.Keys {
		keys = append(keys, domain.NewKey(k.Namespace, k.Key))
	}
	records, err := s.service.FetchKeys(ctx, keys)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &kvv1.FetchKeysResponse{Records: make([]*kvv1.Record, 0, len(records))}
	for _, r := range records {
		resp.Records = append(resp.Records, domain.RecordToProto(r))
	}
	return resp, nil
}

// toStatus maps service errors onto gRPC codes; the client maps them back.
func toStatus(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, domain.ErrInvalidChecksum),
		errors.Is(err, domain.ErrEmptyKey),
		errors.Is(err, domain.ErrKeyTooLarge),
		errors.Is(err, domain.ErrValueTooLarge),
		errors.Is(err, domain.ErrBadNamespace):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, merkle.ErrOutOfRange):
		return status.Error(codes.OutOfRange, err.Error())
	case errors.Is(err, domain.ErrCorruptDigest):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, domain.ErrNotReplica):
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	return status.Errorf(codes.Internal, "peer operation failed: %v", err)
}

func stampToProto(s domain.RingStamp) *kvv1.RingStamp {
	return &kvv1.RingStamp{Version: s.Version, Checksum: s.Checksum}
}

func stampFromProto(s *kvv1.RingStamp) domain.RingStamp {
	if s == nil {
		return domain.RingStamp{}
	}
	return domain.RingStamp{Version: s.Version, Checksum: s.Checksum}
}
