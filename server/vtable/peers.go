// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package vtable

import "context"

const PeersTableName = "system.peers"

const (
	PeersColumnPeer ColumnID = iota
	PeersColumnCloud
	PeersColumnRegion
	PeersColumnZone
	PeersColumnPlacementUUID
)

var peersSchema = NewSchema(
	ColumnSchema{ID: PeersColumnPeer, Name: "peer"},
	ColumnSchema{ID: PeersColumnCloud, Name: "cloud"},
	ColumnSchema{ID: PeersColumnRegion, Name: "region"},
	ColumnSchema{ID: PeersColumnZone, Name: "zone"},
	ColumnSchema{ID: PeersColumnPlacementUUID, Name: "placement_uuid"},
)

type peersRetriever struct {
	registry DescriptorRegistry
}

// RetrieveData lists one row per live tablet server.
func (r peersRetriever) RetrieveData(_ context.Context, _ ReadRequest) (*RowBlock, error) {
	block := NewRowBlock(peersSchema)
	for _, desc := range sortedLiveDescriptors(r.registry) {
		block.Append(NewRow(string(desc.ID), desc.Cloud.Cloud, desc.Cloud.Region, desc.Cloud.Zone, desc.PlacementUUID))
	}
	return block, nil
}

// NewPeersTable builds system.peers over the live servers of the registry.
func NewPeersTable(registry DescriptorRegistry) *VirtualTable {
	return NewVirtualTable(PeersTableName, peersSchema, peersRetriever{registry: registry}, registry)
}
