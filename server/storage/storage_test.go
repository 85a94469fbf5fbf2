// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/CeresDB/tabletmeta/pkg/coderr"
	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
	"github.com/CeresDB/tabletmeta/server/etcdutil"
	"github.com/stretchr/testify/require"
)

const (
	defaultRequestTimeout = 10 * time.Second
	testRootPath          = "/tabletmeta/test"
)

func newTestStorage(t *testing.T) Storage {
	_, client, closeSrv := etcdutil.PrepareEtcdServerAndClient(t)
	t.Cleanup(closeSrv)

	return NewStorageWithEtcdBackend(client, testRootPath, Options{MaxScanLimit: 3, MinScanLimit: 1})
}

func newTablet(tableID metadata.TableID, tabletID metadata.TabletID) *metadata.Tablet {
	return &metadata.Tablet{
		ID:      tabletID,
		TableID: tableID,
		Leader:  "ts-a",
		Replicas: map[metadata.TabletServerID]metadata.Replica{
			"ts-a": {ServerID: "ts-a", Role: metadata.ReplicaRoleLeader, State: metadata.ReplicaStateRunning},
			"ts-b": {ServerID: "ts-b", Role: metadata.ReplicaRoleFollower, State: metadata.ReplicaStateStarting},
		},
	}
}

func TestTablesAndTablets(t *testing.T) {
	re := require.New(t)
	s := newTestStorage(t)
	ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()

	tables := make([]*metadata.Table, 0)
	for i := 0; i < 7; i++ {
		tableID := metadata.TableID(fmt.Sprintf("table-%d", i))
		table := &metadata.Table{ID: tableID, Name: fmt.Sprintf("name_%d", i), State: metadata.TableStateRunning}
		for j := 0; j < 2; j++ {
			tablet := newTablet(tableID, metadata.TabletID(fmt.Sprintf("tablet-%d-%d", i, j)))
			re.NoError(s.PutTablet(ctx, tablet))
			table.TabletIDs = append(table.TabletIDs, tablet.ID)
		}
		re.NoError(s.CreateTable(ctx, table))
		tables = append(tables, table)
	}

	err := s.CreateTable(ctx, tables[0])
	re.True(coderr.EqualsByValue(err, ErrTableAlreadyExists))

	values, err := s.ListTables(ctx)
	re.NoError(err)
	re.Equal(tables, values)

	tablets, err := s.ListTablets(ctx)
	re.NoError(err)
	re.Len(tablets, 14)
	re.Equal(newTablet("table-0", "tablet-0-0"), tablets[0])

	tables[1].State = metadata.TableStateDeleted
	re.NoError(s.PutTable(ctx, tables[1]))
	re.NoError(s.DeleteTable(ctx, tables[2]))
	re.NoError(s.DeleteTablet(ctx, "tablet-3-0"))

	values, err = s.ListTables(ctx)
	re.NoError(err)
	re.Len(values, 6)
	re.True(values[1].IsDeleted())

	tablets, err = s.ListTablets(ctx)
	re.NoError(err)
	re.Len(tablets, 11)
}

func TestPolicies(t *testing.T) {
	re := require.New(t)
	s := newTestStorage(t)
	ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()

	info, err := s.GetReplicationInfo(ctx)
	re.NoError(err)
	re.Equal(metadata.ReplicationInfo{}, info)

	zone := metadata.CloudInfo{Cloud: "aws", Region: "us-west-2", Zone: "us-west-2a"}
	info = metadata.ReplicationInfo{
		Live: metadata.PlacementInfo{NumReplicas: 3, Blocks: []metadata.PlacementBlock{{Cloud: zone, MinNumReplicas: 1}}},
		ReadReplicas: []metadata.PlacementInfo{
			{NumReplicas: 1, PlacementUUID: "rr-1"},
		},
	}
	re.NoError(s.PutReplicationInfo(ctx, info))
	stored, err := s.GetReplicationInfo(ctx)
	re.NoError(err)
	re.Equal(info, stored)

	re.NoError(s.PutBlacklist(ctx, metadata.Blacklist{Servers: []metadata.TabletServerID{"ts-c"}}))
	blacklist, err := s.GetBlacklist(ctx)
	re.NoError(err)
	re.True(blacklist.Contains("ts-c"))

	zones, err := s.GetAffinitizedZones(ctx)
	re.NoError(err)
	re.Empty(zones)
	re.NoError(s.PutAffinitizedZones(ctx, []metadata.CloudInfo{zone}))
	zones, err = s.GetAffinitizedZones(ctx)
	re.NoError(err)
	re.Equal([]metadata.CloudInfo{zone}, zones)
}

func TestWatch(t *testing.T) {
	re := require.New(t)
	s := newTestStorage(t)
	ctx, cancel := context.WithCancel(context.Background())

	events := make(chan Event, 16)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, func(e Event) { events <- e })
	}()

	// Writes racing with the watch registration may be missed, retry until one is seen.
	re.Eventually(func() bool {
		_ = s.PutBlacklist(context.Background(), metadata.Blacklist{Servers: []metadata.TabletServerID{"ts-a"}})
		select {
		case e := <-events:
			return e.Type == EventPut && e.Category == blacklist
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	re.NoError(s.PutTablet(context.Background(), newTablet("table-1", "tablet-1")))
	re.NoError(s.DeleteTablet(context.Background(), "tablet-1"))

	var got []Event
	for len(got) < 2 {
		select {
		case e := <-events:
			if e.Category == tablet {
				got = append(got, e)
			}
		case <-time.After(5 * time.Second):
			re.FailNow("watch events not received")
		}
	}
	re.Equal(EventPut, got[0].Type)
	re.Equal("tablet-1", got[0].ID)
	re.Equal(EventDelete, got[1].Type)

	cancel()
	re.NoError(<-done)
}

func TestParseCategory(t *testing.T) {
	re := require.New(t)

	category, id := parseCategory(testRootPath, makeTabletKey(testRootPath, "tablet-9"))
	re.Equal(tablet, category)
	re.Equal("tablet-9", id)

	category, id = parseCategory(testRootPath, makeBlacklistKey(testRootPath))
	re.Equal(blacklist, category)
	re.Empty(id)
}
