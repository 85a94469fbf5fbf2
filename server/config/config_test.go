// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/CeresDB/tabletmeta/pkg/coderr"
	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	re := require.New(t)

	parser, err := MakeConfigParser()
	re.NoError(err)
	cfg, err := parser.Parse([]string{})
	re.NoError(err)
	re.NoError(cfg.ValidateAndAdjust())

	re.Equal([]string{defaultEtcdEndpoints}, cfg.Etcd.Endpoints)
	re.Equal(defaultHTTPPort, cfg.HTTPPort)
	re.True(cfg.Balancer.Enable)

	options := cfg.Balancer.ToOptions()
	re.Equal(1, options.MaxConcurrentAdds)
	re.Equal(2, options.MaxConcurrentLeaderMoves)
	re.Equal(metadata.LiveDomain(), options.Domain)
}

func TestParseFlags(t *testing.T) {
	re := require.New(t)

	parser, err := MakeConfigParser()
	re.NoError(err)
	cfg, err := parser.Parse([]string{
		"--etcd-endpoints", "10.0.0.1:2379, 10.0.0.2:2379",
		"--max-concurrent-adds", "5",
		"--allow-limit-over-replicated-tablets=false",
		"--limiter-unlimit-list", "stepdown_leader",
	})
	re.NoError(err)
	re.Equal([]string{"10.0.0.1:2379", "10.0.0.2:2379"}, cfg.Etcd.Endpoints)
	re.Equal(5, cfg.Balancer.MaxConcurrentAdds)
	re.False(cfg.Balancer.AllowLimitOverReplicatedTablets)
	re.Equal([]string{"stepdown_leader"}, cfg.Limiter.UnLimitList)

	_, err = parser.Parse([]string{"--unknown-flag"})
	re.True(coderr.Is(err, coderr.InvalidParams))
}

func TestParseHelp(t *testing.T) {
	parser, err := MakeConfigParser()
	require.NoError(t, err)
	_, err = parser.Parse([]string{"-h"})
	require.True(t, coderr.Is(err, coderr.PrintHelpUsage))
}

func TestParseTomlAndEnv(t *testing.T) {
	re := require.New(t)

	path := filepath.Join(t.TempDir(), "tabletmeta.toml")
	content := `
http-port = 9090

[etcd]
root-path = "/prod"

[balancer]
max-concurrent-removals = 3

[dispatch]
worker-num = 8
`
	re.NoError(os.WriteFile(path, []byte(content), 0o644))

	parser, err := MakeConfigParser()
	re.NoError(err)
	cfg, err := parser.Parse([]string{"--config", path})
	re.NoError(err)
	re.NoError(parser.ParseConfigFromToml())
	re.Equal(9090, cfg.HTTPPort)
	re.Equal("/prod", cfg.Etcd.RootPath)
	re.Equal(3, cfg.Balancer.MaxConcurrentRemovals)
	re.Equal(8, cfg.Dispatch.WorkerNum)
	// Values missing from the file keep their flag defaults.
	re.Equal(defaultDispatchQueueSize, cfg.Dispatch.QueueSize)

	t.Setenv("TABLETMETA_HTTP_PORT", "9191")
	t.Setenv("TABLETMETA_LOG_LEVEL", "debug")
	t.Setenv("TABLETMETA_BALANCER_MAX_CONCURRENT_ADDS", "4")
	re.NoError(parser.ParseConfigFromEnv())
	re.Equal(9191, cfg.HTTPPort)
	re.Equal("debug", cfg.Log.Level)
	re.Equal(4, cfg.Balancer.MaxConcurrentAdds)
	re.NoError(cfg.ValidateAndAdjust())
}

func TestValidateAndAdjust(t *testing.T) {
	re := require.New(t)

	newConfig := func() *Config {
		parser, err := MakeConfigParser()
		re.NoError(err)
		cfg, err := parser.Parse([]string{})
		re.NoError(err)
		return cfg
	}

	cfg := newConfig()
	cfg.Balancer.MaxConcurrentAdds = -1
	re.True(coderr.Is(cfg.ValidateAndAdjust(), coderr.InvalidParams))

	cfg = newConfig()
	cfg.Etcd.RootPath = "relative"
	re.True(coderr.EqualsByValue(cfg.ValidateAndAdjust(), ErrInvalidConfig))

	cfg = newConfig()
	cfg.Etcd.Endpoints = nil
	re.Error(cfg.ValidateAndAdjust())
	cfg.Etcd.Embedded = true
	re.NoError(cfg.ValidateAndAdjust())

	cfg = newConfig()
	cfg.NodeName = ""
	re.True(coderr.EqualsByValue(cfg.ValidateAndAdjust(), ErrInvalidConfig))

	cfg = newConfig()
	cfg.Dispatch.RPCTimeoutMs = 0
	re.NoError(cfg.ValidateAndAdjust())
	re.Equal(int64(defaultDispatchRPCTimeoutMs), cfg.Dispatch.RPCTimeoutMs)
}
