// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CeresDB/tabletmeta/pkg/coderr"
	"github.com/CeresDB/tabletmeta/server/cluster"
	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
	"github.com/CeresDB/tabletmeta/server/config"
	"github.com/CeresDB/tabletmeta/server/coordinator/balancer"
	"github.com/CeresDB/tabletmeta/server/coordinator/task"
	"github.com/CeresDB/tabletmeta/server/limiter"
	"github.com/CeresDB/tabletmeta/server/vtable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type liveServers []metadata.TabletServerDescriptor

func (s liveServers) GetAllLiveDescriptors() []metadata.TabletServerDescriptor {
	return s
}

type fakeRunner struct {
	results []balancer.PassResult
	err     error
}

func (r *fakeRunner) RunOnce(_ context.Context) ([]balancer.PassResult, error) {
	return r.results, r.err
}

type memBlacklist struct {
	lock    sync.Mutex
	servers []metadata.TabletServerID
}

func (b *memBlacklist) Blacklist() metadata.Blacklist {
	b.lock.Lock()
	defer b.lock.Unlock()
	return metadata.Blacklist{Servers: append([]metadata.TabletServerID{}, b.servers...)}
}

func (b *memBlacklist) AddToBlacklist(_ context.Context, serverID metadata.TabletServerID) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.servers = append(b.servers, serverID)
	return nil
}

func (b *memBlacklist) RemoveFromBlacklist(_ context.Context, serverID metadata.TabletServerID) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	kept := b.servers[:0]
	for _, id := range b.servers {
		if id != serverID {
			kept = append(kept, id)
		}
	}
	b.servers = kept
	return nil
}

type testEnv struct {
	router    *Router
	runner    *fakeRunner
	tracker   *task.Tracker
	blacklist *memBlacklist
	tsManager *cluster.TSManager
}

func newTestEnv(t *testing.T, limiterConfig config.LimiterConfig) *testEnv {
	re := require.New(t)

	registry := vtable.NewRegistry()
	re.NoError(registry.Register(vtable.NewPeersTable(liveServers{
		{ID: "ts-b", Cloud: metadata.CloudInfo{Cloud: "aws", Region: "r1", Zone: "z2"}, Live: true},
		{ID: "ts-a", Cloud: metadata.CloudInfo{Cloud: "aws", Region: "r1", Zone: "z1"}, Live: true},
	})))

	env := &testEnv{
		runner:    &fakeRunner{},
		tracker:   task.NewTracker(),
		blacklist: &memBlacklist{},
		tsManager: cluster.NewTSManager(time.Minute),
	}
	api := NewAPI(registry, env.runner, env.tracker, env.blacklist, env.tsManager, limiter.NewFlowLimiter(limiterConfig),
		prometheus.NewRegistry())
	env.router = api.NewAPIRouter()
	return env
}

func (e *testEnv) do(t *testing.T, method, target string) (int, map[string]any) {
	return e.doWithBody(t, method, target, "")
}

func (e *testEnv) doWithBody(t *testing.T, method, target, reqBody string) (int, map[string]any) {
	recorder := httptest.NewRecorder()
	e.router.ServeHTTP(recorder, httptest.NewRequest(method, target, strings.NewReader(reqBody)))

	var body map[string]any
	if recorder.Code != http.StatusNotFound || recorder.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	}
	return recorder.Code, body
}

func TestReadVirtualTable(t *testing.T) {
	re := require.New(t)
	env := newTestEnv(t, config.LimiterConfig{Enable: false})

	code, body := env.do(t, http.MethodGet, "/api/v1/vtables/system.peers")
	re.Equal(http.StatusOK, code)
	re.Equal(statusSuccess, body["status"])
	data := body["data"].(map[string]any)
	re.Equal([]any{"peer", "cloud", "region", "zone", "placement_uuid"}, data["columns"])
	rows := data["rows"].([]any)
	re.Len(rows, 2)
	re.Equal("ts-a", rows[0].(map[string]any)["values"].([]any)[0])

	code, body = env.do(t, http.MethodGet, "/api/v1/vtables/system.peers?3=z2")
	re.Equal(http.StatusOK, code)
	rows = body["data"].(map[string]any)["rows"].([]any)
	re.Len(rows, 1)
	re.Equal("ts-b", rows[0].(map[string]any)["values"].([]any)[0])

	code, body = env.do(t, http.MethodGet, "/api/v1/vtables/system.peers?0=ts-a&3=z2")
	re.Equal(http.StatusOK, code)
	re.Empty(body["data"].(map[string]any)["rows"])

	code, body = env.do(t, http.MethodGet, "/api/v1/vtables/system.peers?zone=z2")
	re.Equal(http.StatusBadRequest, code)
	re.Equal(statusError, body["status"])

	code, _ = env.do(t, http.MethodGet, "/api/v1/vtables/system.peers?42=z2")
	re.Equal(http.StatusBadRequest, code)

	code, body = env.do(t, http.MethodGet, "/api/v1/vtables/system.missing")
	re.Equal(http.StatusNotFound, code)
	re.Equal(float64(coderr.NotFound), body["code"])
}

func TestBalancerRoutes(t *testing.T) {
	re := require.New(t)
	env := newTestEnv(t, config.LimiterConfig{Enable: false})

	env.runner.results = []balancer.PassResult{
		{
			Domain: metadata.LiveDomain(),
			Actions: []metadata.Action{
				{TableID: "table-1", TabletID: "tablet-1", Kind: metadata.ActionAdd, Target: "ts-c"},
			},
			TabletsVisited: 1,
		},
	}
	code, body := env.do(t, http.MethodPost, "/api/v1/balancer/run")
	re.Equal(http.StatusOK, code)
	passes := body["data"].([]any)
	re.Len(passes, 1)
	pass := passes[0].(map[string]any)
	re.Equal(false, pass["idle"])
	action := pass["actions"].([]any)[0].(map[string]any)
	re.Equal("add", action["kind"])
	re.Equal("ts-c", action["target"])

	_, err := env.tracker.Track(metadata.Action{TableID: "table-1", TabletID: "tablet-1", Kind: metadata.ActionAdd, Target: "ts-c"})
	re.NoError(err)
	code, body = env.do(t, http.MethodGet, "/api/v1/balancer/tasks")
	re.Equal(http.StatusOK, code)
	re.Len(body["data"].([]any), 1)

	env.runner.err = balancer.ErrLoadPlacement.WithCausef("no placement")
	code, _ = env.do(t, http.MethodPost, "/api/v1/balancer/run")
	re.Equal(http.StatusInternalServerError, code)
}

func TestBlacklistRoutes(t *testing.T) {
	re := require.New(t)
	env := newTestEnv(t, config.LimiterConfig{Enable: false})

	code, _ := env.do(t, http.MethodPut, "/api/v1/blacklist/ts-a")
	re.Equal(http.StatusOK, code)
	code, body := env.do(t, http.MethodPut, "/api/v1/blacklist/ts-b")
	re.Equal(http.StatusOK, code)
	re.Equal([]any{"ts-a", "ts-b"}, body["data"].(map[string]any)["servers"])

	code, body = env.do(t, http.MethodDelete, "/api/v1/blacklist/ts-a")
	re.Equal(http.StatusOK, code)
	re.Equal([]any{"ts-b"}, body["data"].(map[string]any)["servers"])

	_, body = env.do(t, http.MethodGet, "/api/v1/blacklist")
	re.Equal([]any{"ts-b"}, body["data"].(map[string]any)["servers"])
}

func TestFlowLimit(t *testing.T) {
	re := require.New(t)
	env := newTestEnv(t, config.LimiterConfig{
		Enable:                        true,
		TokenBucketFillRate:           1,
		TokenBucketBurstEventCapacity: 2,
		UnLimitList:                   []string{"/api/v1/blacklist"},
	})

	for i := 0; i < 2; i++ {
		code, _ := env.do(t, http.MethodGet, "/api/v1/balancer/tasks")
		re.Equal(http.StatusOK, code)
	}
	code, body := env.do(t, http.MethodGet, "/api/v1/balancer/tasks")
	re.Equal(http.StatusTooManyRequests, code)
	re.Equal(statusError, body["status"])

	code, _ = env.do(t, http.MethodGet, "/api/v1/blacklist")
	re.Equal(http.StatusOK, code)
}

func TestHeartbeat(t *testing.T) {
	re := require.New(t)
	env := newTestEnv(t, config.LimiterConfig{Enable: false})

	code, _ := env.doWithBody(t, http.MethodPut, "/api/v1/servers/ts-x/heartbeat",
		`{"cloud":{"cloud":"aws","region":"r1","zone":"z3"},"placementUUID":"rr"}`)
	re.Equal(http.StatusOK, code)

	desc, ok := env.tsManager.GetDescriptor("ts-x")
	re.True(ok)
	re.True(desc.IsLive())
	re.Equal("z3", desc.Cloud.Zone)
	re.Equal("rr", desc.PlacementUUID)

	code, _ = env.doWithBody(t, http.MethodPut, "/api/v1/servers/ts-x/heartbeat", "{")
	re.Equal(http.StatusBadRequest, code)
}
