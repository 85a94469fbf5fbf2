// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package vtable

import (
	"context"

	"github.com/CeresDB/tabletmeta/pkg/log"
	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Retriever produces the full row set of one system table.
type Retriever interface {
	RetrieveData(ctx context.Context, req ReadRequest) (*RowBlock, error)
}

// DescriptorRegistry is the source of live tablet servers.
type DescriptorRegistry interface {
	GetAllLiveDescriptors() []metadata.TabletServerDescriptor
}

// VirtualTable exposes internal master state through the regular read path.
type VirtualTable struct {
	name      string
	schema    Schema
	retriever Retriever
	registry  DescriptorRegistry
}

func NewVirtualTable(name string, schema Schema, retriever Retriever, registry DescriptorRegistry) *VirtualTable {
	return &VirtualTable{
		name:      name,
		schema:    schema,
		retriever: retriever,
		registry:  registry,
	}
}

func (t *VirtualTable) Name() string {
	return t.name
}

func (t *VirtualTable) Schema() Schema {
	return t.schema
}

// GetIterator retrieves the table rows and keeps those equal to every hashed column value.
// Hashed columns are resolved against the table schema, the surviving rows keep their order.
func (t *VirtualTable) GetIterator(ctx context.Context, req ReadRequest, projection Schema, schema Schema,
	txn *TransactionContext, snapshot HybridTime,
) (*Iterator, error) {
	block, err := t.retriever.RetrieveData(ctx, req)
	if err != nil {
		return nil, ErrRetrieveData.WithCause(err)
	}
	if block == nil {
		block = NewRowBlock(t.schema)
	}

	if len(req.HashedColumnValues) > 0 {
		indices := make([]int, 0, len(req.HashedColumnValues))
		for _, hashed := range req.HashedColumnValues {
			idx, ok := t.schema.FindColumnByID(hashed.ColumnID)
			if !ok {
				return nil, errors.WithMessagef(ErrColumnNotFound, "table:%s, hashed column:%d", t.name, hashed.ColumnID)
			}
			indices = append(indices, idx)
		}

		// The retrieved block may be shared by the retriever, filter into a new one.
		filtered := &RowBlock{Schema: block.Schema, Rows: make([]Row, 0, len(block.Rows))}
		for _, row := range block.Rows {
			if matchesHashed(row, indices, req.HashedColumnValues) {
				filtered.Rows = append(filtered.Rows, row)
			}
		}
		block = filtered
	}

	log.Debug("virtual table read", zap.String("table", t.name), zap.Int("rows", len(block.Rows)),
		zap.Int("hashedColumns", len(req.HashedColumnValues)), zap.Uint64("snapshot", uint64(snapshot)))
	return newIterator(block), nil
}

func matchesHashed(row Row, indices []int, values []ColumnValue) bool {
	for i, value := range values {
		if indices[i] >= len(row.Values) || !ValueEqual(value.Value, row.Column(indices[i])) {
			return false
		}
	}
	return true
}

// BuildScanSpec returns the scan spec, the static row spec and the read time of the request.
// System tables have no static columns, asking for them is an illegal state.
func (t *VirtualTable) BuildScanSpec(req ReadRequest, snapshot HybridTime, schema Schema, includeStatic bool,
	staticProjection Schema,
) (*ScanSpec, *ScanSpec, HybridTime, error) {
	if includeStatic {
		return nil, nil, 0, errors.WithMessagef(ErrStaticColumns, "table:%s", t.name)
	}
	return NewScanSpec(req.Where), nil, snapshot, nil
}

// SortedLiveDescriptors lists the live tablet servers ascending by id.
func (t *VirtualTable) SortedLiveDescriptors() []metadata.TabletServerDescriptor {
	return sortedLiveDescriptors(t.registry)
}

func sortedLiveDescriptors(registry DescriptorRegistry) []metadata.TabletServerDescriptor {
	if registry == nil {
		return nil
	}
	descs := append([]metadata.TabletServerDescriptor(nil), registry.GetAllLiveDescriptors()...)
	metadata.SortDescriptors(descs)
	return descs
}
