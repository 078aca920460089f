package grpc_handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/internal/node/metrics"
	"github.com/anthanhphan/go-replicated-kv/internal/node/port"
	"github.com/anthanhphan/go-replicated-kv/pkg/merkle"
	"github.com/anthanhphan/go-replicated-kv/pkg/resilience"
	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
	kvv1 "github.com/anthanhphan/go-replicated-kv/proto/kv/v1"
	"github.com/anthanhphan/gosdk/logger"
)

// RingSource supplies the stamp sent with peer calls and receives the
// stamps peers answer with.
type RingSource interface {
	RingStamp() domain.RingStamp
	ObserveRingStamp(peer string, stamp domain.RingStamp)
}

type ClientConfig struct {
	NodeID  string
	Timeout time.Duration
	Breaker resilience.CircuitBreakerConfig
	Metrics *metrics.Metrics

	// DialOptions replace the default insecure transport.
	DialOptions []grpc.DialOption
}

// ClientAdapter implements port.PeerClient.
type ClientAdapter struct {
	cfg ClientConfig

	mu       sync.RWMutex
	conns    map[string]*grpc.ClientConn
	breakers map[string]*resilience.CircuitBreaker
	ring     RingSource
}

// NewClientAdapter creates a new peer client.
func NewClientAdapter(cfg ClientConfig) *ClientAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if len(cfg.DialOptions) == 0 {
		cfg.DialOptions = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &ClientAdapter{
		cfg:      cfg,
		conns:    make(map[string]*grpc.ClientConn),
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
}

// Ensure ClientAdapter implements PeerClient
var _ port.PeerClient = (*ClientAdapter)(nil)

// SetRingSource connects the client to the node service once it exists.
func (c *ClientAdapter) SetRingSource(src RingSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ring = src
}

func (c *ClientAdapter) localStamp() *kvv1.RingStamp {
	c.mu.RLock()
	src := c.ring
	c.mu.RUnlock()
	if src == nil {
		return nil
	}
	return stampToProto(src.RingStamp())
}

func (c *ClientAdapter) observe(peer string, stamp *kvv1.RingStamp) {
	c.mu.RLock()
	src := c.ring
	c.mu.RUnlock()
	if src != nil && stamp != nil {
		src.ObserveRingStamp(peer, stampFromProto(stamp))
	}
}

func (c *ClientAdapter) getConn(addr string) (*grpc.ClientConn, error) {
	c.mu.RLock()
	conn, ok := c.conns[addr]
	c.mu.RUnlock()
	if ok {
		return conn, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double check
	if conn, ok := c.conns[addr]; ok {
		return conn, nil
	}

	newConn, err := grpc.NewClient(addr, c.cfg.DialOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c.conns[addr] = newConn
	return newConn, nil
}

// Put sends a replica write to target.
func (c *ClientAdapter) Put(ctx context.Context, target shard.Node, record domain.Record) (bool, error) {
	var applied bool
	err := c.withBreaker(ctx, target, "Put", func(callCtx context.Context, client kvv1.PeerServiceClient) error {
		resp, err := client.Put(callCtx, &kvv1.PutRequest{
			Record: domain.RecordToProto(record),
			Sender: c.cfg.NodeID,
			Ring:   c.localStamp(),
		})
		if err != nil {
			return err
		}
		c.observe(target.ID, resp.Ring)
		applied = resp.Applied
		return nil
	})
	return applied, err
}

// Get reads the local copy of key on target.
func (c *ClientAdapter) Get(ctx context.Context, target shard.Node, key domain.Key) (domain.Record, bool, error) {
	var (
		record domain.Record
		found  bool
	)
	err := c.withBreaker(ctx, target, "Get", func(callCtx context.Context, client kvv1.PeerServiceClient) error {
		resp, err := client.Get(callCtx, &kvv1.GetRequest{
			Namespace: key.Namespace,
			Key:       key.Key,
			Sender:    c.cfg.NodeID,
			Ring:      c.localStamp(),
		})
		if err != nil {
			return err
		}
		c.observe(target.ID, resp.Ring)
		if !resp.Found {
			return nil
		}
		record, err = domain.RecordFromProto(resp.Record)
		if err != nil {
			return fmt.Errorf("invalid record from %s: %w", target.ID, err)
		}
		found = true
		return nil
	})
	return record, found, err
}

func (c *ClientAdapter) RootHash(ctx context.Context, target shard.Node, partition int) (merkle.Hash, error) {
	var root merkle.Hash
	err := c.withBreaker(ctx, target, "RootHash", func(callCtx context.Context, client kvv1.PeerServiceClient) error {
		resp, err := client.RootHash(callCtx, &kvv1.RootHashRequest{
			Partition: uint32(partition), // #nosec G115
			Sender:    c.cfg.NodeID,
			Ring:      c.localStamp(),
		})
		if err != nil {
			return err
		}
		c.observe(target.ID, resp.Ring)
		root, err = merkle.HashFromBytes(resp.Hash)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrCorruptDigest, err)
		}
		return nil
	})
	return root, err
}

func (c *ClientAdapter) ChildHashes(ctx context.Context, target shard.Node, partition int, indices []int) (map[int][]merkle.Hash, error) {
	req := &kvv1.ChildHashesRequest{
		Partition: uint32(partition), // #nosec G115
		Indices:   make([]uint32, len(indices)),
	}
	for i, idx := range indices {
		req.Indices[i] = uint32(idx) // #nosec G115
	}

	var out map[int][]merkle.Hash
	err := c.withBreaker(ctx, target, "ChildHashes", func(callCtx context.Context, client kvv1.PeerServiceClient) error {
		resp, err := client.ChildHashes(callCtx, req)
		if err != nil {
			return err
		}
		out = make(map[int][]merkle.Hash, len(resp.Nodes))
		for _, n := range resp.Nodes {
			hashes := make([]merkle.Hash, len(n.Hashes))
			for i, b := range n.Hashes {
				if hashes[i], err = merkle.HashFromBytes(b); err != nil {
					return fmt.Errorf("%w: node %d: %v", domain.ErrCorruptDigest, n.Index, err)
				}
			}
			out[int(n.Index)] = hashes
		}
		return nil
	})
	return out, err
}

func (c *ClientAdapter) LeafKeys(ctx context.Context, target shard.Node, partition, leaf int) ([]domain.KeyDigest, merkle.Hash, error) {
	var (
		digests  []domain.KeyDigest
		leafHash merkle.Hash
	)
	err := c.withBreaker(ctx, target, "LeafKeys", func(callCtx context.Context, client kvv1.PeerServiceClient) error {
		resp, err := client.LeafKeys(callCtx, &kvv1.LeafKeysRequest{
			Partition: uint32(partition), // #nosec G115
			Leaf:      uint32(leaf),      // #nosec G115
		})
		if err != nil {
			return err
		}
		if leafHash, err = merkle.HashFromBytes(resp.LeafHash); err != nil {
			return fmt.Errorf("%w: leaf %d: %v", domain.ErrCorruptDigest, leaf, err)
		}
		digests = make([]domain.KeyDigest, 0, len(resp.Entries))
		for _, e := range resp.Entries {
			d, err := domain.KeyDigestFromProto(e)
			if err != nil {
				return err
			}
			digests = append(digests, d)
		}
		return nil
	})
	return digests, leafHash, err
}

func (c *ClientAdapter) FetchKeys(ctx context.Context, target shard.Node, keys []domain.Key) ([]domain.Record, error) {
	req := &kvv1.FetchKeysRequest{Keys: make([]*kvv1.KeyRef, len(keys))}
	for i, k := range keys {
		req.Keys[i] = &kvv1.KeyRef{Namespace: k.Namespace, Key: k.Key}
	}

	var records []domain.Record
	err := c.withBreaker(ctx, target, "FetchKeys", func(callCtx context.Context, client kvv1.PeerServiceClient) error {
		resp, err := client.FetchKeys(callCtx, req)
		if err != nil {
			return err
		}
		records = make([]domain.Record, 0, len(resp.Records))
		for _, pr := range resp.Records {
			r, err := domain.RecordFromProto(pr)
			if err != nil {
				return fmt.Errorf("invalid record from %s: %w", target.ID, err)
			}
			records = append(records, r)
		}
		return nil
	})
	return records, err
}

func (c *ClientAdapter) withBreaker(ctx context.Context, target shard.Node, op string, fn func(context.Context, kvv1.PeerServiceClient) error) error {
	callCtx, cancel := c.withDefaultTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	breaker := c.getBreaker(target)
	err := breaker.Execute(callCtx, func(execCtx context.Context) error {
		conn, err := c.getConn(target.Addr)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrNodeUnreachable, err)
		}
		client := kvv1.NewPeerServiceClient(conn)
		return normalizeRPCErr(execCtx, fn(execCtx, client))
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		logger.Debugw("Peer RPC short-circuited", "op", op, "target", target.ID, "error", err.Error())
		return fmt.Errorf("%w: %w", domain.ErrNodeUnreachable, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	logger.Warnw("Peer RPC failed", "op", op, "target", target.ID, "addr", target.Addr, "error", err.Error())
	if errors.Is(err, domain.ErrNodeUnreachable) {
		c.dropConn(target.Addr)
	}
	return err
}

func (c *ClientAdapter) withDefaultTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// Breakers are keyed by node ID so an address change keeps the history.
func (c *ClientAdapter) getBreaker(target shard.Node) *resilience.CircuitBreaker {
	c.mu.RLock()
	cb, ok := c.breakers[target.ID]
	c.mu.RUnlock()
	if ok {
		return cb
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok = c.breakers[target.ID]; ok {
		return cb
	}
	cfg := c.cfg.Breaker
	cfg.Name = target.ID
	cfg.IsFailure = isPeerFailure
	if c.cfg.Metrics != nil {
		m := c.cfg.Metrics
		cfg.OnStateChange = func(name string, from, to resilience.CircuitBreakerState) {
			m.BreakerTransition(name, string(to))
			logger.Infow("Peer circuit breaker changed state", "peer", name, "from", string(from), "to", string(to))
		}
	}
	cb = resilience.NewCircuitBreaker(cfg)
	c.breakers[target.ID] = cb
	return cb
}

// isPeerFailure counts only transport failures against a peer. A peer that
// rejects a well-formed call is up.
func isPeerFailure(err error) bool {
	return errors.Is(err, domain.ErrNodeUnreachable) && !errors.Is(err, context.Canceled)
}

func (c *ClientAdapter) dropConn(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[addr]; ok {
		_ = conn.Close()
		delete(c.conns, addr)
	}
}

// Close closes all connections.
func (c *ClientAdapter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, conn := range c.conns {
		_ = conn.Close()
		delete(c.conns, addr)
	}
	return nil
}

// normalizeRPCErr maps gRPC failures back onto the domain sentinels.
func normalizeRPCErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled {
		return context.Canceled
	}
	if errors.Is(err, io.EOF) && ctx != nil && errors.Is(ctx.Err(), context.Canceled) {
		return context.Canceled
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Unimplemented:
		return fmt.Errorf("%w: %w", domain.ErrNodeUnreachable, err)
	case codes.DataLoss:
		return fmt.Errorf("%w: %w", domain.ErrCorruptDigest, err)
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %w", domain.ErrNotReplica, err)
	case codes.OutOfRange:
		return fmt.Errorf("%w: %w", merkle.ErrOutOfRange, err)
	}
	return err
}
