// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package vtable_test

import (
	"context"
	"math"
	"testing"

	"github.com/CeresDB/tabletmeta/pkg/coderr"
	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
	"github.com/CeresDB/tabletmeta/server/vtable"
	"github.com/stretchr/testify/require"
)

var testSchema = vtable.NewSchema(
	vtable.ColumnSchema{ID: 0, Name: "key"},
	vtable.ColumnSchema{ID: 1, Name: "value"},
	vtable.ColumnSchema{ID: 2, Name: "zone"},
)

type staticRetriever struct {
	rows []vtable.Row
}

func (r staticRetriever) RetrieveData(_ context.Context, _ vtable.ReadRequest) (*vtable.RowBlock, error) {
	block := vtable.NewRowBlock(testSchema)
	for _, row := range r.rows {
		block.Append(row)
	}
	return block, nil
}

type staticRegistry []metadata.TabletServerDescriptor

func (r staticRegistry) GetAllLiveDescriptors() []metadata.TabletServerDescriptor {
	return r
}

func newTestTable(rows ...vtable.Row) *vtable.VirtualTable {
	return vtable.NewVirtualTable("system.test", testSchema, staticRetriever{rows: rows}, nil)
}

func drain(t *testing.T, it *vtable.Iterator, projection vtable.Schema) []vtable.Row {
	re := require.New(t)
	var rows []vtable.Row
	for it.HasNext() {
		row, err := it.NextRow(projection)
		re.NoError(err)
		rows = append(rows, row)
	}
	return rows
}

func TestHashedColumnFilter(t *testing.T) {
	re := require.New(t)
	ctx := context.Background()

	table := newTestTable(
		vtable.NewRow("x", int64(1), "z1"),
		vtable.NewRow("y", int64(2), "z1"),
	)
	req := vtable.ReadRequest{HashedColumnValues: []vtable.ColumnValue{{ColumnID: 0, Value: "x"}}}
	it, err := table.GetIterator(ctx, req, vtable.Schema{}, testSchema, nil, 10)
	re.NoError(err)
	re.Equal(1, it.Len())
	re.Equal([]vtable.Row{vtable.NewRow("x", int64(1), "z1")}, drain(t, it, vtable.Schema{}))
}

func TestHashedColumnFilterAllPredicates(t *testing.T) {
	re := require.New(t)
	ctx := context.Background()

	table := newTestTable(
		vtable.NewRow("a", int64(1), "z1"),
		vtable.NewRow("b", int64(1), "z2"),
		vtable.NewRow("c", int64(2), "z1"),
		vtable.NewRow("d", int64(1), "z1"),
	)
	req := vtable.ReadRequest{HashedColumnValues: []vtable.ColumnValue{
		{ColumnID: 1, Value: 1},
		{ColumnID: 2, Value: "z1"},
	}}
	it, err := table.GetIterator(ctx, req, vtable.Schema{}, testSchema, nil, 0)
	re.NoError(err)

	rows := drain(t, it, vtable.NewSchema(vtable.ColumnSchema{ID: 0, Name: "key"}))
	re.Equal([]vtable.Row{vtable.NewRow("a"), vtable.NewRow("d")}, rows)

	// No predicates keeps every row.
	it, err = table.GetIterator(ctx, vtable.ReadRequest{}, vtable.Schema{}, testSchema, nil, 0)
	re.NoError(err)
	re.Equal(4, it.Len())

	// Nothing matches.
	req = vtable.ReadRequest{HashedColumnValues: []vtable.ColumnValue{{ColumnID: 0, Value: "missing"}}}
	it, err = table.GetIterator(ctx, req, vtable.Schema{}, testSchema, nil, 0)
	re.NoError(err)
	re.False(it.HasNext())
	_, err = it.NextRow(vtable.Schema{})
	re.True(coderr.Is(err, coderr.IllegalState))
}

func TestHashedColumnUnknown(t *testing.T) {
	re := require.New(t)

	table := newTestTable(vtable.NewRow("x", int64(1), "z1"))
	req := vtable.ReadRequest{HashedColumnValues: []vtable.ColumnValue{{ColumnID: 42, Value: "x"}}}
	it, err := table.GetIterator(context.Background(), req, vtable.Schema{}, testSchema, nil, 0)
	re.Nil(it)
	re.True(coderr.Is(err, coderr.InvalidParams))
}

func TestBuildScanSpec(t *testing.T) {
	re := require.New(t)
	table := newTestTable()

	spec, staticSpec, readTime, err := table.BuildScanSpec(vtable.ReadRequest{}, 7, testSchema, true, vtable.Schema{})
	re.True(coderr.Is(err, coderr.IllegalState))
	re.Nil(spec)
	re.Nil(staticSpec)
	re.Equal(vtable.HybridTime(0), readTime)

	spec, staticSpec, readTime, err = table.BuildScanSpec(vtable.ReadRequest{}, 7, testSchema, false, vtable.Schema{})
	re.NoError(err)
	re.True(spec.IsUnrestricted())
	re.Nil(staticSpec)
	re.Equal(vtable.HybridTime(7), readTime)

	where := vtable.And(
		vtable.Compare(vtable.OpGE, 1, 2),
		vtable.In(2, "z1", "z3"),
	)
	spec, _, _, err = table.BuildScanSpec(vtable.ReadRequest{Where: where}, 9, testSchema, false, vtable.Schema{})
	re.NoError(err)
	re.False(spec.IsUnrestricted())
	re.Same(where, spec.Condition())

	ok, err := spec.Matches(testSchema, vtable.NewRow("a", int64(3), "z3"))
	re.NoError(err)
	re.True(ok)
	ok, err = spec.Matches(testSchema, vtable.NewRow("b", int64(1), "z3"))
	re.NoError(err)
	re.False(ok)
	ok, err = spec.Matches(testSchema, vtable.NewRow("c", int64(5), "z2"))
	re.NoError(err)
	re.False(ok)
}

func TestScanSpecOperators(t *testing.T) {
	re := require.New(t)
	row := vtable.NewRow("m", int64(5), "z1")

	cases := []struct {
		cond   *vtable.Condition
		expect bool
	}{
		{vtable.Compare(vtable.OpEQ, 0, "m"), true},
		{vtable.Compare(vtable.OpNE, 0, "m"), false},
		{vtable.Compare(vtable.OpLT, 1, 6), true},
		{vtable.Compare(vtable.OpLE, 1, int64(5)), true},
		{vtable.Compare(vtable.OpGT, 1, 5), false},
		{vtable.Compare(vtable.OpGE, 0, "a"), true},
		{vtable.In(1, 1, 2, 3), false},
	}
	for _, c := range cases {
		ok, err := vtable.NewScanSpec(c.cond).Matches(testSchema, row)
		re.NoError(err)
		re.Equal(c.expect, ok, "op:%s", c.cond.Op)
	}

	_, err := vtable.NewScanSpec(vtable.Compare(vtable.OpLT, 0, 1)).Matches(testSchema, row)
	re.True(coderr.Is(err, coderr.InvalidParams))
	_, err = vtable.NewScanSpec(vtable.Compare(vtable.OpEQ, 9, 1)).Matches(testSchema, row)
	re.True(coderr.Is(err, coderr.InvalidParams))
}

func TestSortedLiveDescriptors(t *testing.T) {
	re := require.New(t)

	registry := staticRegistry{
		{ID: "ts-c", Live: true},
		{ID: "ts-a", Live: true},
		{ID: "ts-b", Live: true},
	}
	table := vtable.NewVirtualTable("system.test", testSchema, staticRetriever{}, registry)
	for i := 0; i < 3; i++ {
		descs := table.SortedLiveDescriptors()
		re.Len(descs, 3)
		for j := 1; j < len(descs); j++ {
			re.LessOrEqual(string(descs[j-1].ID), string(descs[j].ID))
		}
	}
	// The registry order is left untouched.
	re.Equal(metadata.TabletServerID("ts-c"), registry[0].ID)

	re.Empty(newTestTable().SortedLiveDescriptors())
}

func TestPeersTable(t *testing.T) {
	re := require.New(t)

	registry := staticRegistry{
		{ID: "ts-b", Cloud: metadata.CloudInfo{Cloud: "c", Region: "r", Zone: "z2"}, Live: true},
		{ID: "ts-a", Cloud: metadata.CloudInfo{Cloud: "c", Region: "r", Zone: "z1"}, PlacementUUID: "rr", Live: true},
	}
	peers := vtable.NewPeersTable(registry)
	re.Equal(vtable.PeersTableName, peers.Name())

	it, err := peers.GetIterator(context.Background(), vtable.ReadRequest{}, vtable.Schema{}, peers.Schema(), nil, 0)
	re.NoError(err)
	rows := drain(t, it, vtable.NewSchema(
		vtable.ColumnSchema{ID: vtable.PeersColumnPeer},
		vtable.ColumnSchema{ID: vtable.PeersColumnZone},
	))
	re.Equal([]vtable.Row{vtable.NewRow("ts-a", "z1"), vtable.NewRow("ts-b", "z2")}, rows)

	req := vtable.ReadRequest{HashedColumnValues: []vtable.ColumnValue{{ColumnID: vtable.PeersColumnPlacementUUID, Value: "rr"}}}
	it, err = peers.GetIterator(context.Background(), req, vtable.Schema{}, peers.Schema(), nil, 0)
	re.NoError(err)
	re.Equal(1, it.Len())
}

func TestRegistry(t *testing.T) {
	re := require.New(t)

	registry := vtable.NewRegistry()
	re.NoError(registry.Register(vtable.NewPeersTable(staticRegistry{})))
	re.NoError(registry.Register(newTestTable()))
	re.True(coderr.Is(registry.Register(newTestTable()), coderr.Conflict))

	table, err := registry.Get(vtable.PeersTableName)
	re.NoError(err)
	re.Equal(vtable.PeersTableName, table.Name())
	_, err = registry.Get("system.missing")
	re.True(coderr.Is(err, coderr.NotFound))

	re.Equal([]string{"system.peers", "system.test"}, registry.Names())
}

type sharedRetriever struct {
	block *vtable.RowBlock
}

func (r sharedRetriever) RetrieveData(_ context.Context, _ vtable.ReadRequest) (*vtable.RowBlock, error) {
	return r.block, nil
}

func TestFilterKeepsRetrievedBlock(t *testing.T) {
	re := require.New(t)
	ctx := context.Background()

	block := vtable.NewRowBlock(testSchema)
	block.Append(vtable.NewRow("x", int64(1), "z1"))
	block.Append(vtable.NewRow("y", int64(2), "z1"))
	table := vtable.NewVirtualTable("system.test", testSchema, sharedRetriever{block: block}, nil)

	req := vtable.ReadRequest{HashedColumnValues: []vtable.ColumnValue{{ColumnID: 0, Value: "y"}}}
	it, err := table.GetIterator(ctx, req, vtable.Schema{}, testSchema, nil, 10)
	re.NoError(err)
	re.Equal([]vtable.Row{vtable.NewRow("y", int64(2), "z1")}, drain(t, it, vtable.Schema{}))

	re.Equal([]vtable.Row{vtable.NewRow("x", int64(1), "z1"), vtable.NewRow("y", int64(2), "z1")}, block.Rows)
	it, err = table.GetIterator(ctx, vtable.ReadRequest{}, vtable.Schema{}, testSchema, nil, 10)
	re.NoError(err)
	re.Equal(2, it.Len())
}

func TestValueEqualAcrossIntegerTypes(t *testing.T) {
	re := require.New(t)

	re.True(vtable.ValueEqual(uint64(1), int64(1)))
	re.True(vtable.ValueEqual(uint(7), int32(7)))
	re.True(vtable.ValueEqual(int8(-3), int64(-3)))
	re.True(vtable.ValueEqual(float32(0.5), 0.5))
	re.False(vtable.ValueEqual(uint64(math.MaxUint64), int64(-1)))
	re.False(vtable.ValueEqual(uint64(2), "2"))
}
