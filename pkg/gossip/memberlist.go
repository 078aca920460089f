package gossip

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/anthanhphan/go-replicated-kv/pkg/membership"
	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/hashicorp/memberlist"
)

// Config holds the gossip transport settings.
type Config struct {
	NodeID     string
	BindAddr   string
	BindPort   int
	ServerPort int // Peer RPC port advertised to other nodes
	Interval   time.Duration
	Tokens     []uint64
	Capability shard.Capability
}

// GossipAdapter carries membership.State over memberlist. Heartbeats travel
// as broadcasts; full views (with tokens) travel in push/pull exchanges.
type GossipAdapter struct {
	list       *memberlist.Memberlist
	conf       *memberlist.Config
	tracker    *membership.Tracker
	broadcasts *memberlist.TransmitLimitedQueue

	nodeID     string
	addr       string
	serverPort int
	interval   time.Duration
}

// Ensure GossipAdapter implements Memberlist Delegate
var (
	_ memberlist.Delegate      = (*GossipAdapter)(nil)
	_ memberlist.EventDelegate = (*GossipAdapter)(nil)
)

// NewGossipAdapter creates the memberlist instance and the tracker it feeds.
func NewGossipAdapter(cfg Config, mcfg membership.Config) (*GossipAdapter, error) {
	config := memberlist.DefaultLANConfig()
	config.Name = cfg.NodeID
	config.BindAddr = cfg.BindAddr
	config.BindPort = cfg.BindPort
	config.AdvertisePort = cfg.BindPort
	if cfg.Interval > 0 {
		config.PushPullInterval = cfg.Interval * 4
	}

	// Disable logging for now
	config.LogOutput = io.Discard

	adapter := &GossipAdapter{
		conf:       config,
		nodeID:     cfg.NodeID,
		addr:       cfg.BindAddr,
		serverPort: cfg.ServerPort,
		interval:   cfg.Interval,
	}
	if adapter.interval <= 0 {
		adapter.interval = time.Second
	}

	tokens := cfg.Tokens
	if len(tokens) == 0 {
		tokens = shard.GenerateTokens(cfg.NodeID, shard.DefaultVNodesPerNode)
	}
	// The tracker must exist before memberlist asks for NodeMeta.
	adapter.tracker = membership.NewTracker(membership.State{
		NodeID:     cfg.NodeID,
		Addr:       net.JoinHostPort(adapter.serverHost(), strconv.Itoa(cfg.ServerPort)),
		Tokens:     tokens,
		Capability: cfg.Capability,
	}, mcfg)
	adapter.broadcasts = &memberlist.TransmitLimitedQueue{
		NumNodes: func() int {
			if adapter.list == nil {
				return 1
			}
			return adapter.list.NumMembers()
		},
		RetransmitMult: 3,
	}

	config.Events = adapter   // Handle join/leave events
	config.Delegate = adapter // Handle state exchange

	list, err := memberlist.Create(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	adapter.list = list

	// Bound to a wildcard address: advertise what memberlist resolved.
	adapter.tracker.SetAddr(net.JoinHostPort(adapter.serverHost(), strconv.Itoa(cfg.ServerPort)))

	return adapter, nil
}

// Tracker returns the membership view fed by this adapter.
func (g *GossipAdapter) Tracker() *membership.Tracker {
	return g.tracker
}

// Join joins the cluster using seed nodes.
func (g *GossipAdapter) Join(seeds []string) error {
	if len(seeds) > 0 {
		_, err := g.list.Join(seeds)
		if err != nil {
			return fmt.Errorf("failed to join cluster: %w", err)
		}
	}
	return nil
}

// Run ticks the failure detector and broadcasts a heartbeat every interval.
func (g *GossipAdapter) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.tracker.Tick()
			g.broadcast(heartbeat(g.tracker.Self()))
		}
	}
}

// Leave announces departure, then leaves the cluster.
func (g *GossipAdapter) Leave() error {
	g.broadcast(heartbeat(g.tracker.Leave()))
	// Give the queue one gossip round to drain.
	time.Sleep(g.conf.GossipInterval * 2)

	// gracefully leave
	if err := g.list.Leave(time.Second * 5); err != nil {
		return err
	}
	return g.list.Shutdown()
}

// LocalNode returns the local node info.
func (g *GossipAdapter) LocalNode() shard.Node {
	return g.tracker.Self().Node()
}

// Members returns every known node, dead ones included.
func (g *GossipAdapter) Members() []shard.Node {
	return g.tracker.Nodes()
}

func (g *GossipAdapter) broadcast(s membership.State) {
	data, err := json.Marshal(s)
	if err != nil {
		logger.Warnw("failed to marshal heartbeat", "error", err.Error())
		return
	}
	g.broadcasts.QueueBroadcast(&stateBroadcast{nodeID: s.NodeID, msg: data})
}

// heartbeat strips tokens; receivers keep the tokens they already know.
func heartbeat(s membership.State) membership.State {
	s.Tokens = nil
	return s
}

// nodeMeta is the small identity record kept in memberlist node metadata.
type nodeMeta struct {
	Addr  string `json:"addr"`
	Clock uint64 `json:"clock"`
}

// NodeMeta returns the local node metadata.
func (g *GossipAdapter) NodeMeta(limit int) []byte {
	self := g.tracker.Self()
	data, err := json.Marshal(nodeMeta{Addr: self.Addr, Clock: self.Clock})
	if err != nil || len(data) > limit {
		logger.Warnw("failed to build gossip node meta", "size", len(data), "limit", limit)
		return nil
	}
	return data
}

// NotifyMsg receives heartbeat broadcasts.
func (g *GossipAdapter) NotifyMsg(buf []byte) {
	s, err := decodeState(buf)
	if err != nil {
		logger.Warnw("failed to decode heartbeat", "error", err.Error())
		return
	}
	g.tracker.Merge([]membership.State{s})
}

func (g *GossipAdapter) GetBroadcasts(overhead, limit int) [][]byte {
	return g.broadcasts.GetBroadcasts(overhead, limit)
}

// LocalState ships the full view during push/pull.
func (g *GossipAdapter) LocalState(join bool) []byte {
	data, err := json.Marshal(g.tracker.States())
	if err != nil {
		logger.Warnw("failed to marshal local state", "error", err.Error())
		return nil
	}
	return data
}

// MergeRemoteState folds a peer's full view into ours.
func (g *GossipAdapter) MergeRemoteState(buf []byte, join bool) {
	var states []membership.State
	if err := json.Unmarshal(buf, &states); err != nil {
		logger.Warnw("failed to decode remote state", "error", err.Error())
		return
	}
	g.tracker.Merge(states)
}

// NotifyJoin is invoked when a node joins.
func (g *GossipAdapter) NotifyJoin(node *memberlist.Node) {
	if node.Name == g.nodeID {
		return
	}
	meta := decodeMeta(node.Meta)
	logger.Infow("Node joined", "id", node.Name, "addr", meta.Addr)

	if _, known := g.tracker.Status(node.Name); known || meta.Addr == "" {
		return
	}
	g.tracker.Merge([]membership.State{{
		NodeID:   node.Name,
		Addr:     meta.Addr,
		Status:   shard.NodeStatusAlive,
		Clock:    meta.Clock,
		Reporter: node.Name,
	}})
}

// NotifyLeave is invoked when a node leaves. The tracker's own miss counting
// decides when the node is dead.
func (g *GossipAdapter) NotifyLeave(node *memberlist.Node) {
	logger.Infow("Node left", "id", node.Name)
}

// NotifyUpdate is invoked when a node is updated.
func (g *GossipAdapter) NotifyUpdate(node *memberlist.Node) {
	logger.Debugw("Node updated", "id", node.Name)
}

func decodeState(buf []byte) (membership.State, error) {
	var s membership.State
	if err := json.Unmarshal(buf, &s); err != nil {
		return s, err
	}
	if s.NodeID == "" {
		return s, fmt.Errorf("state without node id")
	}
	return s, nil
}

func decodeMeta(meta []byte) nodeMeta {
	var m nodeMeta
	if len(meta) == 0 {
		return m
	}
	if err := json.Unmarshal(meta, &m); err != nil {
		logger.Warnw("failed to decode node metadata", "error", err.Error())
		return nodeMeta{}
	}
	return m
}

// stateBroadcast is a queued heartbeat; a newer one for the same node replaces it.
type stateBroadcast struct {
	nodeID string
	msg    []byte
}

func (b *stateBroadcast) Invalidates(other memberlist.Broadcast) bool {
	o, ok := other.(*stateBroadcast)
	return ok && o.nodeID == b.nodeID
}

func (b *stateBroadcast) Message() []byte { return b.msg }

func (b *stateBroadcast) Finished() {}

func (g *GossipAdapter) serverHost() string {
	if g.addr == "" {
		return g.addr
	}
	if ip := net.ParseIP(g.addr); ip == nil || !ip.IsUnspecified() {
		return g.addr
	}

	if g.list == nil || g.list.LocalNode() == nil {
		return g.addr
	}

	adv := g.list.LocalNode().Addr.String()
	if adv == "" {
		return g.addr
	}
	if ip := net.ParseIP(adv); ip != nil && ip.IsUnspecified() {
		return g.addr
	}
	return adv
}
