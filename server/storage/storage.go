// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package storage

import (
	"context"

	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Storage persists the catalog of the tablet metadata service.
type Storage interface {
	ListTables(ctx context.Context) ([]*metadata.Table, error)
	// CreateTable fails with ErrTableAlreadyExists when the table is stored already.
	CreateTable(ctx context.Context, table *metadata.Table) error
	PutTable(ctx context.Context, table *metadata.Table) error
	// DeleteTable removes the table together with its tablets.
	DeleteTable(ctx context.Context, table *metadata.Table) error

	ListTablets(ctx context.Context) ([]*metadata.Tablet, error)
	PutTablet(ctx context.Context, tablet *metadata.Tablet) error
	DeleteTablet(ctx context.Context, tabletID metadata.TabletID) error

	// GetReplicationInfo returns the zero value when nothing is stored.
	GetReplicationInfo(ctx context.Context) (metadata.ReplicationInfo, error)
	PutReplicationInfo(ctx context.Context, info metadata.ReplicationInfo) error
	GetBlacklist(ctx context.Context) (metadata.Blacklist, error)
	PutBlacklist(ctx context.Context, blacklist metadata.Blacklist) error
	GetAffinitizedZones(ctx context.Context) ([]metadata.CloudInfo, error)
	PutAffinitizedZones(ctx context.Context, zones []metadata.CloudInfo) error

	// Watch calls the handler for every change under the root path until the context is done.
	Watch(ctx context.Context, handler func(Event)) error
}

type Options struct {
	// MaxScanLimit is the max limit of the number of keys in a scan.
	MaxScanLimit int
	// MinScanLimit is the min limit of the number of keys in a scan.
	MinScanLimit int
}

// NewStorageWithEtcdBackend creates a new storage with etcd backend.
func NewStorageWithEtcdBackend(client *clientv3.Client, rootPath string, opts Options) Storage {
	return newEtcdStorage(client, rootPath, opts)
}
