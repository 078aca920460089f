package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
	"github.com/anthanhphan/gosdk/conflux"
	"github.com/anthanhphan/gosdk/logger"
)

// Config holds the configuration of one store node.
type Config struct {
	Server      ServerConfig      `json:"server" yaml:"server"`
	Gossip      GossipConfig      `json:"gossip" yaml:"gossip"`
	Ring        RingConfig        `json:"ring" yaml:"ring"`
	Replication ReplicationConfig `json:"replication" yaml:"replication"`
	Handoff     HandoffConfig     `json:"handoff" yaml:"handoff"`
	AntiEntropy AntiEntropyConfig `json:"anti_entropy" yaml:"anti_entropy"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	Breaker     BreakerConfig     `json:"breaker" yaml:"breaker"`
	Redis       RedisConfig       `json:"redis" yaml:"redis"`
	Logger      logger.Config     `json:"logger" yaml:"logger"`
}

type ServerConfig struct {
	NodeID   string `json:"node_id" yaml:"node_id"`
	Hostname string `json:"hostname" yaml:"hostname"`
	Port     int    `json:"port" yaml:"port"`           // peer gRPC
	HTTPPort int    `json:"http_port" yaml:"http_port"` // client and operator HTTP
}

type GossipConfig struct {
	Port          int      `json:"port" yaml:"port"`
	Seeds         []string `json:"seeds" yaml:"seeds"`
	IntervalMs    int      `json:"interval_ms" yaml:"interval_ms"`
	SuspectAfter  int      `json:"suspect_after" yaml:"suspect_after"`
	DeadAfter     int      `json:"dead_after" yaml:"dead_after"`
	DeadTimeoutMs int      `json:"dead_timeout_ms" yaml:"dead_timeout_ms"`
	Capacity      int64    `json:"capacity" yaml:"capacity"`
}

type RingConfig struct {
	VNodes      int `json:"vnodes" yaml:"vnodes"`
	Partitions  int `json:"partitions" yaml:"partitions"`
	MerkleDepth int `json:"merkle_depth" yaml:"merkle_depth"`
}

type ReplicationConfig struct {
	Default           domain.Policy            `json:"default" yaml:"default"`
	Namespaces        map[string]domain.Policy `json:"namespaces" yaml:"namespaces"`
	WriteTimeoutMs    int                      `json:"write_timeout_ms" yaml:"write_timeout_ms"`
	ReadTimeoutMs     int                      `json:"read_timeout_ms" yaml:"read_timeout_ms"`
	RPCTimeoutMs      int                      `json:"rpc_timeout_ms" yaml:"rpc_timeout_ms"`
	ReadRepairWorkers int                      `json:"read_repair_workers" yaml:"read_repair_workers"`
	ReadRepairQueue   int                      `json:"read_repair_queue" yaml:"read_repair_queue"`
}

type HandoffConfig struct {
	IntervalMs int `json:"interval_ms" yaml:"interval_ms"`
	BatchSize  int `json:"batch_size" yaml:"batch_size"`
	TTLMs      int `json:"ttl_ms" yaml:"ttl_ms"`
}

type AntiEntropyConfig struct {
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	IntervalMs        int     `json:"interval_ms" yaml:"interval_ms"`
	SessionsPerSecond float64 `json:"sessions_per_second" yaml:"sessions_per_second"`
	Burst             int     `json:"burst" yaml:"burst"`
	LoadThreshold     float64 `json:"load_threshold" yaml:"load_threshold"`
	MaxStalenessMs    int     `json:"max_staleness_ms" yaml:"max_staleness_ms"`
	BuildIntervalMs   int     `json:"build_interval_ms" yaml:"build_interval_ms"`
	LeavesPerTick     int     `json:"leaves_per_tick" yaml:"leaves_per_tick"`
	DescentBatch      int     `json:"descent_batch" yaml:"descent_batch"`
	FetchBatch        int     `json:"fetch_batch" yaml:"fetch_batch"`
}

type StorageConfig struct {
	DataDir             string `json:"data_dir" yaml:"data_dir"`
	FSync               bool   `json:"fsync" yaml:"fsync"`
	MaxSegmentSizeMB    int    `json:"max_segment_size_mb" yaml:"max_segment_size_mb"`
	CompactionThreshold int    `json:"compaction_threshold" yaml:"compaction_threshold"`
}

type BreakerConfig struct {
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`
	OpenTimeoutMs    int `json:"open_timeout_ms" yaml:"open_timeout_ms"`
}

// RedisConfig points at the optional Redis used for ring snapshot export
// and as the time base of repair session IDs.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	RingKey  string `json:"ring_key" yaml:"ring_key"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Hostname: "127.0.0.1",
			Port:     8081,
			HTTPPort: 8080,
		},
		Gossip: GossipConfig{
			Port:          7946,
			IntervalMs:    1000,
			SuspectAfter:  3,
			DeadAfter:     6,
			DeadTimeoutMs: 5 * 60 * 1000,
		},
		Ring: RingConfig{
			VNodes:      shard.DefaultVNodesPerNode,
			Partitions:  shard.DefaultPartitions,
			MerkleDepth: shard.DefaultMerkleDepth,
		},
		Replication: ReplicationConfig{
			Default:           domain.Policy{N: 3, W: 2, R: 2},
			WriteTimeoutMs:    2000,
			ReadTimeoutMs:     2000,
			RPCTimeoutMs:      5000,
			ReadRepairWorkers: 4,
			ReadRepairQueue:   1024,
		},
		Handoff: HandoffConfig{
			IntervalMs: 10_000,
			BatchSize:  128,
			TTLMs:      24 * 60 * 60 * 1000,
		},
		AntiEntropy: AntiEntropyConfig{
			Enabled:           true,
			IntervalMs:        30_000,
			SessionsPerSecond: 0.5,
			Burst:             2,
			LoadThreshold:     200,
			MaxStalenessMs:    10 * 60 * 1000,
			BuildIntervalMs:   500,
			LeavesPerTick:     256,
			DescentBatch:      64,
			FetchBatch:        128,
		},
		Storage: StorageConfig{
			DataDir:             "./data",
			MaxSegmentSizeMB:    64,
			CompactionThreshold: 8,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			SuccessThreshold: 2,
			OpenTimeoutMs:    10_000,
		},
		Redis: RedisConfig{
			RingKey: "kv:ring",
		},
		Logger: logger.Config{
			LogLevel:    logger.LevelInfo,
			LogEncoding: logger.EncodingJSON,
		},
	}
}

// Validate rejects configurations the node cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.HTTPPort <= 0 {
		return fmt.Errorf("server ports must be positive")
	}
	if _, err := shard.NewLayout(c.Ring.Partitions, c.Ring.MerkleDepth); err != nil {
		return fmt.Errorf("ring: %w", err)
	}
	if c.Ring.VNodes <= 0 {
		return fmt.Errorf("ring: vnodes must be positive")
	}
	if err := c.Policies().Validate(); err != nil {
		return fmt.Errorf("replication: %w", err)
	}
	if c.Gossip.DeadAfter < c.Gossip.SuspectAfter {
		return fmt.Errorf("gossip: dead_after must not be below suspect_after")
	}
	return nil
}

// Policies returns the per-namespace consistency policies.
func (c *Config) Policies() domain.PolicySet {
	return domain.PolicySet{Default: c.Replication.Default, Namespaces: c.Replication.Namespaces}
}

// Layout returns the partition layout shared by every node.
func (c *Config) Layout() shard.Layout {
	return shard.MustLayout(c.Ring.Partitions, c.Ring.MerkleDepth)
}

// Millis converts a *_ms setting to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	configPath := path
	if configPath == "" {
		env := os.Getenv("ENV")
		if env == "" {
			env = "local"
		}
		configPath = filepath.Join("internal", "node", "config", env+".yaml")
	}

	cfg := DefaultConfig()

	parsedCfg, err := conflux.ParseConfig(configPath, cfg)
	if err != nil {
		log.Printf("Config file not found or failed to parse, using defaults if file not specified. Path: %s, Error: %v", configPath, err)
		if path != "" {
			return nil, err
		}
		return cfg, cfg.Validate()
	}

	if err := parsedCfg.Validate(); err != nil {
		return nil, err
	}
	return parsedCfg, nil
}
