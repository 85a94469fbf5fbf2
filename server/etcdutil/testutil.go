// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package etcdutil

import (
	"fmt"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
)

// NewEmbedConfig returns the config of a single member etcd listening on the given urls.
func NewEmbedConfig(name, dataDir string, peerURL, clientURL url.URL) *embed.Config {
	cfg := embed.NewConfig()
	cfg.Name = name
	cfg.Dir = dataDir
	cfg.LogLevel = "error"
	cfg.LogOutputs = []string{"stderr"}

	cfg.ListenPeerUrls = []url.URL{peerURL}
	cfg.AdvertisePeerUrls = cfg.ListenPeerUrls
	cfg.ListenClientUrls = []url.URL{clientURL}
	cfg.AdvertiseClientUrls = cfg.ListenClientUrls

	cfg.InitialCluster = cfg.InitialClusterFromName(cfg.Name)
	cfg.ClusterState = embed.ClusterStateFlagNew
	return cfg
}

// StartEmbedded starts the etcd server and waits until it serves requests.
func StartEmbedded(cfg *embed.Config, timeout time.Duration) (*embed.Etcd, error) {
	etcd, err := embed.StartEtcd(cfg)
	if err != nil {
		return nil, ErrEtcdStart.WithCause(err)
	}

	select {
	case <-etcd.Server.ReadyNotify():
		return etcd, nil
	case <-time.After(timeout):
		etcd.Close()
		return nil, ErrEtcdStart.WithCausef("server not ready after %s", timeout)
	}
}

func allocURL(t *testing.T) url.URL {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	u, err := url.Parse(fmt.Sprintf("http://%s", addr))
	require.NoError(t, err)
	return *u
}

func NewTestSingleConfig(t *testing.T) *embed.Config {
	return NewEmbedConfig("test_etcd", t.TempDir(), allocURL(t), allocURL(t))
}

// PrepareEtcdServerAndClient starts an embedded etcd for the test and returns a client of it.
// The returned function closes both.
func PrepareEtcdServerAndClient(t *testing.T) (*embed.Etcd, *clientv3.Client, func()) {
	cfg := NewTestSingleConfig(t)
	etcd, err := StartEmbedded(cfg, 10*time.Second)
	require.NoError(t, err)

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{cfg.ListenClientUrls[0].String()},
		DialTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	return etcd, client, func() {
		_ = client.Close()
		etcd.Close()
	}
}
