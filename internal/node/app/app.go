package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	grpcHandler "github.com/anthanhphan/go-replicated-kv/internal/node/adapter/inbound/grpc"
	httpHandler "github.com/anthanhphan/go-replicated-kv/internal/node/adapter/inbound/http"
	"github.com/anthanhphan/go-replicated-kv/internal/node/adapter/outbound/boltdb"
	"github.com/anthanhphan/go-replicated-kv/internal/node/adapter/outbound/lsm"
	"github.com/anthanhphan/go-replicated-kv/internal/node/adapter/outbound/redisexport"
	"github.com/anthanhphan/go-replicated-kv/internal/node/config"
	"github.com/anthanhphan/go-replicated-kv/internal/node/metrics"
	"github.com/anthanhphan/go-replicated-kv/internal/node/port"
	"github.com/anthanhphan/go-replicated-kv/internal/node/service"
	"github.com/anthanhphan/go-replicated-kv/pkg/gossip"
	"github.com/anthanhphan/go-replicated-kv/pkg/idgen"
	"github.com/anthanhphan/go-replicated-kv/pkg/membership"
	"github.com/anthanhphan/go-replicated-kv/pkg/resilience"
	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
	kvv1 "github.com/anthanhphan/go-replicated-kv/proto/kv/v1"
	"github.com/anthanhphan/gosdk/logger"
)

// Ensure the gossip adapter satisfies the membership port.
var _ port.MembershipPort = (*gossip.GossipAdapter)(nil)

type App struct {
	cfg        *config.Config
	grpcServer *grpc.Server
	httpServer *httpHandler.Server
	gossip     port.MembershipPort
	store      *lsm.Store
	hints      *boltdb.HintQueue
	replicas   *boltdb.ReplicaStore
	client     *grpcHandler.ClientAdapter
	redis      *redis.Client
	node       *service.NodeServiceImpl
}

func New(configPath string) (*App, error) {
	// 1. Load Config
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Initialize Logger
	logger.InitLogger(&cfg.Logger)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	// If NodeID is empty, generate it based on hostname and port
	if cfg.Server.NodeID == "" {
		host, _ := os.Hostname()
		cfg.Server.NodeID = fmt.Sprintf("%s-%d", host, cfg.Server.Port)
	}
	nodeID := cfg.Server.NodeID

	a := &App{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			if a.gossip != nil {
				_ = a.gossip.Leave()
			}
			a.closeAdapters()
		}
	}()

	// 3. Gossip
	gossipAdapter, err := gossip.NewGossipAdapter(gossip.Config{
		NodeID:     nodeID,
		BindAddr:   cfg.Server.Hostname,
		BindPort:   cfg.Gossip.Port,
		ServerPort: cfg.Server.Port,
		Interval:   config.Millis(cfg.Gossip.IntervalMs),
		Tokens:     shard.GenerateTokens(nodeID, cfg.Ring.VNodes),
		Capability: shard.Capability{Capacity: cfg.Gossip.Capacity},
	}, membership.Config{
		SuspectAfter: cfg.Gossip.SuspectAfter,
		DeadAfter:    cfg.Gossip.DeadAfter,
		DeadTimeout:  config.Millis(cfg.Gossip.DeadTimeoutMs),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init gossip: %w", err)
	}
	a.gossip = gossipAdapter

	// 4. Storage
	if a.store, err = lsm.Open(cfg.Storage, cfg.Layout()); err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}
	if a.hints, err = boltdb.OpenHintQueue(cfg.Storage.DataDir); err != nil {
		return nil, fmt.Errorf("failed to open hint queue: %w", err)
	}
	if a.replicas, err = boltdb.OpenReplicaStore(cfg.Storage.DataDir); err != nil {
		return nil, fmt.Errorf("failed to open replica store: %w", err)
	}

	// 5. Redis (optional): ring export and a shared time base for session IDs
	var (
		publisher port.RingPublisher
		idClock   idgen.Clock = idgen.SystemClock{}
	)
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		publisher = redisexport.NewPublisher(a.redis, cfg.Redis.RingKey)
		idClock = idgen.NewRedisClock(a.redis)
	}

	// 6. Peer client
	m := metrics.New()
	a.client = grpcHandler.NewClientAdapter(grpcHandler.ClientConfig{
		NodeID:  nodeID,
		Timeout: config.Millis(cfg.Replication.RPCTimeoutMs),
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
			OpenTimeout:      config.Millis(cfg.Breaker.OpenTimeoutMs),
		},
		Metrics: m,
	})

	// 7. Node service
	tracker := gossipAdapter.Tracker()
	a.node, err = service.NewNodeService(cfg, service.Deps{
		Store:     a.store,
		Hints:     a.hints,
		Replicas:  a.replicas,
		Peers:     a.client,
		Members:   tracker,
		Publisher: publisher,
		Metrics:   m,
		IDClock:   idClock,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init node service: %w", err)
	}
	a.client.SetRingSource(a.node)
	tracker.OnChange(a.node.OnMembershipChange)

	// 8. Servers
	a.grpcServer = grpc.NewServer(
		grpc.MaxRecvMsgSize(16*1024*1024),
		grpc.MaxSendMsgSize(16*1024*1024),
	)
	kvv1.RegisterPeerServiceServer(a.grpcServer, grpcHandler.NewServer(a.node))
	a.httpServer = httpHandler.NewServer(cfg, a.node, m)

	ok = true
	return a, nil
}

func (a *App) Run() error {
	a.joinSeeds()

	// Start gRPC
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		a.closeAdapters()
		return fmt.Errorf("failed to listen on port %d: %w", a.cfg.Server.Port, err)
	}

	logger.Infow("KV node starting",
		"id", a.gossip.LocalNode().ID,
		"port", a.cfg.Server.Port,
		"http", a.cfg.Server.HTTPPort,
		"gossip", a.cfg.Gossip.Port,
		"ring_version", a.node.RingStamp().Version)

	serverErrCh := make(chan error, 2)
	go func() {
		if err := a.grpcServer.Serve(listener); err != nil {
			serverErrCh <- fmt.Errorf("gRPC server failed: %w", err)
		}
	}()
	go func() {
		if err := a.httpServer.Start(); err != nil {
			serverErrCh <- fmt.Errorf("http server failed: %w", err)
		}
	}()

	// Background workers: failure detector, handoff, tree builder, anti-entropy
	bgCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.gossip.Run(bgCtx)
	}()
	go func() {
		defer wg.Done()
		a.node.Run(bgCtx)
	}()

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	select {
	case sig := <-stop:
		logger.Infow("Shutdown signal received", "signal", sig.String())
	case err := <-serverErrCh:
		// Ignore expected stop errors.
		errMsg := err.Error()
		if !strings.Contains(errMsg, "use of closed network connection") && !errors.Is(err, grpc.ErrServerStopped) {
			runErr = err
			logger.Errorw("KV node server exited unexpectedly", "error", errMsg)
		}
	}

	logger.Info("Shutting down KV node")
	if err := a.gossip.Leave(); err != nil {
		logger.Warnw("Gossip leave failed", "error", err.Error())
	}
	cancel()
	wg.Wait()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		logger.Warnw("HTTP shutdown error", "error", err.Error())
	}
	a.grpcServer.GracefulStop()
	a.node.Close()
	a.closeAdapters()

	return runErr
}

// joinSeeds joins the gossip mesh, skipping this node's own address.
func (a *App) joinSeeds() {
	seeds := make([]string, 0, len(a.cfg.Gossip.Seeds))
	selfSeedSuffix := fmt.Sprintf(":%d", a.cfg.Gossip.Port)
	for _, seed := range a.cfg.Gossip.Seeds {
		if seed == "" {
			continue
		}
		if strings.HasSuffix(seed, selfSeedSuffix) && strings.Contains(seed, a.cfg.Server.Hostname) {
			continue
		}
		seeds = append(seeds, seed)
	}
	if len(seeds) == 0 {
		return
	}

	var joinErr error
	for i := 0; i < 5; i++ {
		joinErr = a.gossip.Join(seeds)
		if joinErr == nil {
			return
		}
		logger.Warnw("Failed to join cluster, retrying...", "attempt", i+1, "error", joinErr.Error())
		time.Sleep(2 * time.Second)
	}
	// Writes still succeed with hints until the mesh forms.
	logger.Errorw("Failed to join cluster after retries", "error", joinErr.Error())
}

func (a *App) closeAdapters() {
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			logger.Warnw("Peer client close failed", "error", err.Error())
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnw("Store close failed", "error", err.Error())
		}
	}
	if a.hints != nil {
		if err := a.hints.Close(); err != nil {
			logger.Warnw("Hint queue close failed", "error", err.Error())
		}
	}
	if a.replicas != nil {
		if err := a.replicas.Close(); err != nil {
			logger.Warnw("Replica store close failed", "error", err.Error())
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
