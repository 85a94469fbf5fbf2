// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
	"github.com/CeresDB/tabletmeta/server/config"
	"github.com/CeresDB/tabletmeta/server/coordinator/task"
	"github.com/CeresDB/tabletmeta/server/limiter"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type call struct {
	method    string
	tabletID  metadata.TabletID
	target    metadata.TabletServerID
	newLeader metadata.TabletServerID
}

type mockChanger struct {
	lock  sync.Mutex
	calls []call
	err   error
	// block holds every call until it is closed.
	block chan struct{}
}

func (m *mockChanger) record(ctx context.Context, c call) error {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.calls = append(m.calls, c)
	return m.err
}

func (m *mockChanger) AddServer(ctx context.Context, tabletID metadata.TabletID, target metadata.TabletServerID) error {
	return m.record(ctx, call{method: "add", tabletID: tabletID, target: target})
}

func (m *mockChanger) RemoveServer(ctx context.Context, tabletID metadata.TabletID, target, newLeader metadata.TabletServerID) error {
	return m.record(ctx, call{method: "remove", tabletID: tabletID, target: target, newLeader: newLeader})
}

func (m *mockChanger) StepDown(ctx context.Context, tabletID metadata.TabletID, leader, newLeader metadata.TabletServerID) error {
	return m.record(ctx, call{method: "stepdown", tabletID: tabletID, target: leader, newLeader: newLeader})
}

func (m *mockChanger) Calls() []call {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]call(nil), m.calls...)
}

func newLimiter(enable bool, capacity int) *limiter.FlowLimiter {
	return limiter.NewFlowLimiter(config.LimiterConfig{
		Enable:                        enable,
		TokenBucketFillRate:           1,
		TokenBucketBurstEventCapacity: capacity,
	})
}

func newTestDispatcher(changer ReplicaChanger, flowLimiter *limiter.FlowLimiter, queueSize int) (*Dispatcher, *task.Tracker) {
	tracker := task.NewTracker()
	cfg := config.DispatchConfig{WorkerNum: 2, QueueSize: queueSize, RPCTimeoutMs: 1000}
	return NewDispatcher(cfg, changer, flowLimiter, tracker, prometheus.NewRegistry()), tracker
}

var (
	addAction      = metadata.Action{TableID: "table-1", TabletID: "tablet-1", Kind: metadata.ActionAdd, Target: "ts-c"}
	removeAction   = metadata.Action{TableID: "table-1", TabletID: "tablet-2", Kind: metadata.ActionRemove, Target: "ts-a", NewLeader: "ts-b"}
	stepdownAction = metadata.Action{TableID: "table-1", TabletID: "tablet-3", Kind: metadata.ActionStepdownLeader, Target: "ts-b", NewLeader: "ts-a"}
)

func TestDispatchActions(t *testing.T) {
	re := require.New(t)
	ctx := context.Background()

	changer := &mockChanger{}
	d, tracker := newTestDispatcher(changer, newLimiter(false, 1), 16)
	re.NoError(d.Start(ctx))
	re.Error(d.Start(ctx))

	d.ApplyAction(ctx, addAction)
	d.ApplyAction(ctx, removeAction)
	d.ApplyAction(ctx, stepdownAction)

	re.Eventually(func() bool {
		return len(changer.Calls()) == 3 && len(tracker.ListPending()) == 0
	}, 5*time.Second, 10*time.Millisecond)
	d.Stop()

	re.ElementsMatch([]call{
		{method: "add", tabletID: "tablet-1", target: "ts-c"},
		{method: "remove", tabletID: "tablet-2", target: "ts-a", newLeader: "ts-b"},
		{method: "stepdown", tabletID: "tablet-3", target: "ts-b", newLeader: "ts-a"},
	}, changer.Calls())
	re.Equal(float64(1), testutil.ToFloat64(d.metrics.tasks.WithLabelValues("add", resultFinished)))
}

func TestDispatchFailureIsNotRetried(t *testing.T) {
	re := require.New(t)
	ctx := context.Background()

	changer := &mockChanger{err: errors.New("tablet server unreachable")}
	d, tracker := newTestDispatcher(changer, newLimiter(false, 1), 16)
	re.NoError(d.Start(ctx))
	defer d.Stop()

	d.ApplyAction(ctx, addAction)
	re.Eventually(func() bool {
		return len(tracker.ListPending()) == 0
	}, 5*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	re.Len(changer.Calls(), 1)
	re.Equal(float64(1), testutil.ToFloat64(d.metrics.tasks.WithLabelValues("add", resultFailed)))
}

func TestDispatchDrops(t *testing.T) {
	re := require.New(t)
	ctx := context.Background()

	changer := &mockChanger{block: make(chan struct{})}
	// Workers are not started, the queue holds a single task.
	d, tracker := newTestDispatcher(changer, newLimiter(true, 2), 1)

	d.ApplyAction(ctx, addAction)
	d.ApplyAction(ctx, addAction)
	re.Equal(float64(1), testutil.ToFloat64(d.metrics.dropped.WithLabelValues(dropReasonDuplicate)))
	re.Len(tracker.ListPending(), 1)

	// The bucket held two tokens, both consumed above.
	d.ApplyAction(ctx, removeAction)
	re.Equal(float64(1), testutil.ToFloat64(d.metrics.dropped.WithLabelValues(dropReasonThrottled)))

	d2, tracker2 := newTestDispatcher(changer, newLimiter(false, 1), 1)
	d2.ApplyAction(ctx, addAction)
	d2.ApplyAction(ctx, removeAction)
	re.Equal(float64(1), testutil.ToFloat64(d2.metrics.dropped.WithLabelValues(dropReasonQueueFull)))
	re.Len(tracker2.ListPending(), 1)

	d2.Stop()
	re.Empty(tracker2.ListPending())
	d2.ApplyAction(ctx, stepdownAction)
	re.Equal(float64(1), testutil.ToFloat64(d2.metrics.dropped.WithLabelValues(dropReasonStopped)))
	re.Empty(changer.Calls())
}

func TestApplyUnknownKind(t *testing.T) {
	err := Apply(context.Background(), DryRunChanger{}, metadata.Action{Kind: metadata.ActionKind(42)})
	require.Error(t, err)
	require.NoError(t, Apply(context.Background(), DryRunChanger{}, addAction))
}

func TestStopRacingApplyLeavesNothingPending(t *testing.T) {
	re := require.New(t)
	ctx := context.Background()

	changer := &mockChanger{block: make(chan struct{})}
	d, tracker := newTestDispatcher(changer, newLimiter(false, 1), 64)
	re.NoError(d.Start(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		action := metadata.Action{TableID: "table-1", TabletID: metadata.TabletID(fmt.Sprintf("tablet-%d", i)), Kind: metadata.ActionAdd, Target: "ts-c"}
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.ApplyAction(ctx, action)
		}()
	}
	d.Stop()
	wg.Wait()

	re.Empty(tracker.ListPending())
	re.Empty(changer.Calls())
}
