// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/CeresDB/tabletmeta/pkg/log"
	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
	"github.com/CeresDB/tabletmeta/server/coordinator/balancer"
	"github.com/caarlos0/env/v6"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

const (
	envPrefix = "TABLETMETA_"

	defaultHTTPPort    = 8080
	defaultNodeName    = "tabletmeta0"
	defaultLeaseTTLSec = 10

	defaultEtcdEndpoints     = "127.0.0.1:2379"
	defaultEtcdRootPath      = "/tabletmeta"
	defaultEtcdDialTimeoutMs = 5000
	defaultEtcdDataDir       = "/tmp/tabletmeta/etcd"
	defaultEtcdPeerURL       = "http://127.0.0.1:2380"
	defaultMaxScanLimit      = 100
	defaultMinScanLimit      = 20

	defaultBalancerIntervalMs = 1000

	defaultEnableLimiter                 = true
	defaultTokenBucketFillRate           = 100
	defaultTokenBucketBurstEventCapacity = 1000

	defaultHeartbeatTimeoutMs = 10000

	defaultDispatchWorkerNum    = 4
	defaultDispatchQueueSize    = 128
	defaultDispatchRPCTimeoutMs = 5000
)

type EtcdConfig struct {
	Endpoints     []string `toml:"endpoints" env:"ETCD_ENDPOINTS" envSeparator:","`
	RootPath      string   `toml:"root-path" env:"ETCD_ROOT_PATH"`
	DialTimeoutMs int64    `toml:"dial-timeout-ms" env:"ETCD_DIAL_TIMEOUT_MS"`
	// Embedded starts an etcd server inside the process, storing its data in DataDir.
	Embedded     bool   `toml:"embedded" env:"ETCD_EMBEDDED"`
	DataDir      string `toml:"data-dir" env:"ETCD_DATA_DIR"`
	PeerURL      string `toml:"peer-url" env:"ETCD_PEER_URL"`
	MaxScanLimit int    `toml:"max-scan-limit" env:"ETCD_MAX_SCAN_LIMIT"`
	MinScanLimit int    `toml:"min-scan-limit" env:"ETCD_MIN_SCAN_LIMIT"`
}

func (c EtcdConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMs) * time.Millisecond
}

type BalancerConfig struct {
	Enable                          bool  `toml:"enable" env:"BALANCER_ENABLE"`
	IntervalMs                      int64 `toml:"interval-ms" env:"BALANCER_INTERVAL_MS"`
	MaxConcurrentAdds               int   `toml:"max-concurrent-adds" env:"BALANCER_MAX_CONCURRENT_ADDS"`
	MaxConcurrentRemovals           int   `toml:"max-concurrent-removals" env:"BALANCER_MAX_CONCURRENT_REMOVALS"`
	MaxConcurrentLeaderMoves        int   `toml:"max-concurrent-leader-moves" env:"BALANCER_MAX_CONCURRENT_LEADER_MOVES"`
	AllowLimitStartingTablets       bool  `toml:"allow-limit-starting-tablets" env:"BALANCER_ALLOW_LIMIT_STARTING_TABLETS"`
	AllowLimitOverReplicatedTablets bool  `toml:"allow-limit-over-replicated-tablets" env:"BALANCER_ALLOW_LIMIT_OVER_REPLICATED_TABLETS"`
}

func (c BalancerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// ToOptions builds the load balancer options of the live domain.
func (c BalancerConfig) ToOptions() balancer.Options {
	return balancer.Options{
		MaxConcurrentAdds:               c.MaxConcurrentAdds,
		MaxConcurrentRemovals:           c.MaxConcurrentRemovals,
		MaxConcurrentLeaderMoves:        c.MaxConcurrentLeaderMoves,
		AllowLimitStartingTablets:       c.AllowLimitStartingTablets,
		AllowLimitOverReplicatedTablets: c.AllowLimitOverReplicatedTablets,
		Domain:                          metadata.LiveDomain(),
	}
}

type LimiterConfig struct {
	Enable                        bool `toml:"enable" env:"LIMITER_ENABLE"`
	TokenBucketFillRate           int  `toml:"token-bucket-fill-rate" env:"LIMITER_TOKEN_BUCKET_FILL_RATE"`
	TokenBucketBurstEventCapacity int  `toml:"token-bucket-burst-event-capacity" env:"LIMITER_TOKEN_BUCKET_BURST_EVENT_CAPACITY"`
	// UnLimitList holds the keys never throttled by the limiter.
	UnLimitList []string `toml:"unlimit-list" env:"LIMITER_UNLIMIT_LIST" envSeparator:","`
}

type TSManagerConfig struct {
	HeartbeatTimeoutMs int64 `toml:"heartbeat-timeout-ms" env:"TS_MANAGER_HEARTBEAT_TIMEOUT_MS"`
}

func (c TSManagerConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutMs) * time.Millisecond
}

type DispatchConfig struct {
	WorkerNum    int   `toml:"worker-num" env:"DISPATCH_WORKER_NUM"`
	QueueSize    int   `toml:"queue-size" env:"DISPATCH_QUEUE_SIZE"`
	RPCTimeoutMs int64 `toml:"rpc-timeout-ms" env:"DISPATCH_RPC_TIMEOUT_MS"`
}

func (c DispatchConfig) RPCTimeout() time.Duration {
	return time.Duration(c.RPCTimeoutMs) * time.Millisecond
}

type Config struct {
	Log      log.Config `toml:"log"`
	NodeName string     `toml:"node-name" env:"NODE_NAME"`
	HTTPPort int        `toml:"http-port" env:"HTTP_PORT"`
	// LeaseTTLSec is the ttl of the leader lease, the balancer runs only on the leader.
	LeaseTTLSec int64 `toml:"lease-ttl-sec" env:"LEASE_TTL_SEC"`

	Etcd      EtcdConfig      `toml:"etcd"`
	Balancer  BalancerConfig  `toml:"balancer"`
	Limiter   LimiterConfig   `toml:"limiter"`
	TSManager TSManagerConfig `toml:"ts-manager"`
	Dispatch  DispatchConfig  `toml:"dispatch"`
}

// ValidateAndAdjust checks the ranges of the config and fills the values left empty.
func (c *Config) ValidateAndAdjust() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return errors.WithMessagef(ErrInvalidConfig, "httpPort:%d", c.HTTPPort)
	}
	if c.NodeName == "" {
		return errors.WithMessage(ErrInvalidConfig, "node name is required")
	}
	if c.LeaseTTLSec <= 0 {
		return errors.WithMessagef(ErrInvalidConfig, "leaseTTLSec:%d", c.LeaseTTLSec)
	}
	if len(c.Etcd.Endpoints) == 0 && !c.Etcd.Embedded {
		return errors.WithMessage(ErrInvalidConfig, "etcd endpoints are required without embedded etcd")
	}
	if c.Etcd.RootPath == "" || !strings.HasPrefix(c.Etcd.RootPath, "/") {
		return errors.WithMessagef(ErrInvalidConfig, "etcd root path must be absolute, rootPath:%s", c.Etcd.RootPath)
	}
	if c.Etcd.MinScanLimit <= 0 || c.Etcd.MaxScanLimit < c.Etcd.MinScanLimit {
		return errors.WithMessagef(ErrInvalidConfig, "scan limits, min:%d, max:%d", c.Etcd.MinScanLimit, c.Etcd.MaxScanLimit)
	}
	if c.Balancer.IntervalMs <= 0 {
		return errors.WithMessagef(ErrInvalidConfig, "balancer intervalMs:%d", c.Balancer.IntervalMs)
	}
	if err := c.Balancer.ToOptions().Validate(); err != nil {
		return errors.WithMessage(err, "balancer")
	}
	if c.TSManager.HeartbeatTimeoutMs <= 0 {
		return errors.WithMessagef(ErrInvalidConfig, "heartbeatTimeoutMs:%d", c.TSManager.HeartbeatTimeoutMs)
	}
	if c.Dispatch.WorkerNum <= 0 || c.Dispatch.QueueSize <= 0 {
		return errors.WithMessagef(ErrInvalidConfig, "dispatch workerNum:%d, queueSize:%d", c.Dispatch.WorkerNum, c.Dispatch.QueueSize)
	}

	if c.Dispatch.RPCTimeoutMs <= 0 {
		c.Dispatch.RPCTimeoutMs = defaultDispatchRPCTimeoutMs
	}
	if c.Etcd.DialTimeoutMs <= 0 {
		c.Etcd.DialTimeoutMs = defaultEtcdDialTimeoutMs
	}
	return nil
}

// Parser builds the config from command line flags, then overlays the toml file and the environment.
type Parser struct {
	flagSet        *flag.FlagSet
	cfg            *Config
	configFilePath string
	etcdEndpoints  string
	unLimitList    string
}

func (p *Parser) Parse(arguments []string) (*Config, error) {
	if err := p.flagSet.Parse(arguments); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, ErrHelpUsage
		}
		return nil, ErrInvalidCommandArgs.WithCausef("parse flag arguments failed, err:%v", err)
	}

	p.cfg.Etcd.Endpoints = splitList(p.etcdEndpoints)
	p.cfg.Limiter.UnLimitList = splitList(p.unLimitList)
	return p.cfg, nil
}

func (p *Parser) ParseConfigFromToml() error {
	if p.configFilePath == "" {
		log.Info("no config file specified, skip parsing from toml")
		return nil
	}

	b, err := os.ReadFile(p.configFilePath)
	if err != nil {
		return ErrReadConfigFile.WithCausef("path:%s, err:%v", p.configFilePath, err)
	}
	if err := toml.Unmarshal(b, p.cfg); err != nil {
		return ErrInvalidConfig.WithCausef("decode toml file, path:%s, err:%v", p.configFilePath, err)
	}
	return nil
}

func (p *Parser) ParseConfigFromEnv() error {
	if err := env.Parse(p.cfg, env.Options{Prefix: envPrefix}); err != nil {
		return ErrInvalidConfig.WithCausef("parse environment variables, err:%v", err)
	}
	return nil
}

func splitList(s string) []string {
	items := make([]string, 0)
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func MakeConfigParser() (*Parser, error) {
	fs, cfg := flag.NewFlagSet("tabletmeta", flag.ContinueOnError), &Config{}
	builder := &Parser{
		flagSet: fs,
		cfg:     cfg,
	}

	fs.StringVar(&builder.configFilePath, "config", "", "config file path")

	fs.StringVar(&cfg.Log.Level, "log-level", log.DefaultLogLevel, "log level of the server")
	fs.StringVar(&cfg.Log.File, "log-file", log.DefaultLogFile, "file for log output")
	fs.StringVar(&cfg.NodeName, "node-name", defaultNodeName, "name of this member in the leader election")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "http port of the admin api")
	fs.Int64Var(&cfg.LeaseTTLSec, "lease-ttl-sec", defaultLeaseTTLSec, "ttl of the leader lease")

	fs.StringVar(&builder.etcdEndpoints, "etcd-endpoints", defaultEtcdEndpoints, "comma separated etcd endpoints")
	fs.StringVar(&cfg.Etcd.RootPath, "etcd-root-path", defaultEtcdRootPath, "root path of the keys in etcd")
	fs.Int64Var(&cfg.Etcd.DialTimeoutMs, "etcd-dial-timeout-ms", defaultEtcdDialTimeoutMs, "dial timeout of the etcd client")
	fs.BoolVar(&cfg.Etcd.Embedded, "etcd-embedded", false, "start an embedded etcd server")
	fs.StringVar(&cfg.Etcd.DataDir, "etcd-data-dir", defaultEtcdDataDir, "data dir of the embedded etcd")
	fs.StringVar(&cfg.Etcd.PeerURL, "etcd-peer-url", defaultEtcdPeerURL, "peer url of the embedded etcd")
	fs.IntVar(&cfg.Etcd.MaxScanLimit, "etcd-max-scan-limit", defaultMaxScanLimit, "max keys of one etcd scan batch")
	fs.IntVar(&cfg.Etcd.MinScanLimit, "etcd-min-scan-limit", defaultMinScanLimit, "min keys of one etcd scan batch")

	defaultOptions := balancer.DefaultOptions()
	fs.BoolVar(&cfg.Balancer.Enable, "balancer-enable", true, "run the load balancer periodically")
	fs.Int64Var(&cfg.Balancer.IntervalMs, "balancer-interval-ms", defaultBalancerIntervalMs, "interval between two balancer rounds")
	fs.IntVar(&cfg.Balancer.MaxConcurrentAdds, "max-concurrent-adds", defaultOptions.MaxConcurrentAdds, "max in flight replica additions")
	fs.IntVar(&cfg.Balancer.MaxConcurrentRemovals, "max-concurrent-removals", defaultOptions.MaxConcurrentRemovals, "max in flight replica removals")
	fs.IntVar(&cfg.Balancer.MaxConcurrentLeaderMoves, "max-concurrent-leader-moves", defaultOptions.MaxConcurrentLeaderMoves, "max in flight leader stepdowns")
	fs.BoolVar(&cfg.Balancer.AllowLimitStartingTablets, "allow-limit-starting-tablets", defaultOptions.AllowLimitStartingTablets, "count starting replicas in the server load")
	fs.BoolVar(&cfg.Balancer.AllowLimitOverReplicatedTablets, "allow-limit-over-replicated-tablets", defaultOptions.AllowLimitOverReplicatedTablets, "remove replicas above the replication factor")

	fs.BoolVar(&cfg.Limiter.Enable, "limiter-enable", defaultEnableLimiter, "throttle replica changes")
	fs.IntVar(&cfg.Limiter.TokenBucketFillRate, "limiter-fill-rate", defaultTokenBucketFillRate, "tokens added per second")
	fs.IntVar(&cfg.Limiter.TokenBucketBurstEventCapacity, "limiter-burst-capacity", defaultTokenBucketBurstEventCapacity, "capacity of the token bucket")
	fs.StringVar(&builder.unLimitList, "limiter-unlimit-list", "", "comma separated keys never throttled")

	fs.Int64Var(&cfg.TSManager.HeartbeatTimeoutMs, "heartbeat-timeout-ms", defaultHeartbeatTimeoutMs, "tablet servers silent for longer are not live")

	fs.IntVar(&cfg.Dispatch.WorkerNum, "dispatch-worker-num", defaultDispatchWorkerNum, "workers sending replica changes")
	fs.IntVar(&cfg.Dispatch.QueueSize, "dispatch-queue-size", defaultDispatchQueueSize, "capacity of the replica change queue")
	fs.Int64Var(&cfg.Dispatch.RPCTimeoutMs, "dispatch-rpc-timeout-ms", defaultDispatchRPCTimeoutMs, "timeout of one replica change call")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage of tabletmeta:\n")
		fs.PrintDefaults()
	}

	return builder, nil
}
