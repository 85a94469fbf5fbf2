// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package cluster

import (
	"context"
	"sync"

	"github.com/CeresDB/tabletmeta/pkg/log"
	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
	"github.com/CeresDB/tabletmeta/server/storage"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Catalog caches the stored tables, tablets and placement policies.
// Mutations write through to the storage before the cache is updated.
// Accessors return copies.
type Catalog struct {
	lock    sync.RWMutex
	storage storage.Storage

	tables           map[metadata.TableID]*metadata.Table
	tablets          map[metadata.TabletID]*metadata.Tablet
	replicationInfo  metadata.ReplicationInfo
	blacklist        metadata.Blacklist
	affinitizedZones []metadata.CloudInfo
}

func NewCatalog(storage storage.Storage) *Catalog {
	return &Catalog{
		storage: storage,
		tables:  map[metadata.TableID]*metadata.Table{},
		tablets: map[metadata.TabletID]*metadata.Tablet{},
	}
}

// Load replaces the cache with the content of the storage.
func (c *Catalog) Load(ctx context.Context) error {
	tables, err := c.storage.ListTables(ctx)
	if err != nil {
		return errors.WithMessage(err, "catalog load")
	}
	tablets, err := c.storage.ListTablets(ctx)
	if err != nil {
		return errors.WithMessage(err, "catalog load")
	}
	replicationInfo, err := c.storage.GetReplicationInfo(ctx)
	if err != nil {
		return errors.WithMessage(err, "catalog load")
	}
	blacklist, err := c.storage.GetBlacklist(ctx)
	if err != nil {
		return errors.WithMessage(err, "catalog load")
	}
	zones, err := c.storage.GetAffinitizedZones(ctx)
	if err != nil {
		return errors.WithMessage(err, "catalog load")
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	c.tables = make(map[metadata.TableID]*metadata.Table, len(tables))
	for _, table := range tables {
		c.tables[table.ID] = table
	}
	c.tablets = make(map[metadata.TabletID]*metadata.Tablet, len(tablets))
	for _, tablet := range tablets {
		c.tablets[tablet.ID] = tablet
	}
	c.replicationInfo = replicationInfo
	c.blacklist = blacklist
	c.affinitizedZones = zones

	log.Info("catalog loaded", zap.Int("tables", len(tables)), zap.Int("tablets", len(tablets)),
		zap.Int("blacklist", len(blacklist.Servers)), zap.Int("readReplicas", len(replicationInfo.ReadReplicas)))
	return nil
}

// Watch reloads the catalog whenever the storage changes, until the context is done.
func (c *Catalog) Watch(ctx context.Context) error {
	return c.storage.Watch(ctx, func(event storage.Event) {
		log.Debug("catalog storage changed", zap.String("category", event.Category), zap.String("id", event.ID),
			zap.Int64("revision", event.Revision))
		if err := c.Load(ctx); err != nil {
			log.Warn("fail to reload catalog", zap.Error(err))
		}
	})
}

// CreateTable stores the table and its tablets. Every tablet must belong to the table.
func (c *Catalog) CreateTable(ctx context.Context, table *metadata.Table, tablets []*metadata.Tablet) error {
	table = table.Clone()
	table.TabletIDs = table.TabletIDs[:0]
	for _, tablet := range tablets {
		if tablet.TableID != table.ID {
			return errors.WithMessagef(ErrInvalidTablet, "tablet:%s belongs to table:%s, not table:%s", tablet.ID, tablet.TableID, table.ID)
		}
		table.TabletIDs = append(table.TabletIDs, tablet.ID)
	}
	if table.State == "" {
		table.State = metadata.TableStateRunning
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	for _, tablet := range tablets {
		if err := c.storage.PutTablet(ctx, tablet); err != nil {
			return errors.WithMessagef(err, "create table:%s", table.ID)
		}
	}
	if err := c.storage.CreateTable(ctx, table); err != nil {
		return errors.WithMessagef(err, "create table:%s", table.ID)
	}

	c.tables[table.ID] = table
	for _, tablet := range tablets {
		c.tablets[tablet.ID] = tablet.Clone()
	}
	return nil
}

// DeleteTable marks the table deleted, its tablets stay in the catalog.
func (c *Catalog) DeleteTable(ctx context.Context, tableID metadata.TableID) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	table, ok := c.tables[tableID]
	if !ok {
		return errors.WithMessagef(ErrTableNotFound, "table:%s", tableID)
	}
	deleted := table.Clone()
	deleted.State = metadata.TableStateDeleted
	if err := c.storage.PutTable(ctx, deleted); err != nil {
		return errors.WithMessagef(err, "delete table:%s", tableID)
	}
	c.tables[tableID] = deleted
	return nil
}

// PurgeTable removes the table and its tablets.
func (c *Catalog) PurgeTable(ctx context.Context, tableID metadata.TableID) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	table, ok := c.tables[tableID]
	if !ok {
		return errors.WithMessagef(ErrTableNotFound, "table:%s", tableID)
	}
	if err := c.storage.DeleteTable(ctx, table); err != nil {
		return errors.WithMessagef(err, "purge table:%s", tableID)
	}
	for _, tabletID := range table.TabletIDs {
		delete(c.tablets, tabletID)
	}
	delete(c.tables, tableID)
	return nil
}

// UpsertTablet stores the tablet and registers it in its table when it is new.
func (c *Catalog) UpsertTablet(ctx context.Context, tablet *metadata.Tablet) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	table, ok := c.tables[tablet.TableID]
	if !ok {
		return errors.WithMessagef(ErrTableNotFound, "table:%s of tablet:%s", tablet.TableID, tablet.ID)
	}
	if err := c.storage.PutTablet(ctx, tablet); err != nil {
		return errors.WithMessagef(err, "upsert tablet:%s", tablet.ID)
	}

	if _, exists := c.tablets[tablet.ID]; !exists {
		updated := table.Clone()
		updated.TabletIDs = append(updated.TabletIDs, tablet.ID)
		if err := c.storage.PutTable(ctx, updated); err != nil {
			return errors.WithMessagef(err, "upsert tablet:%s", tablet.ID)
		}
		c.tables[table.ID] = updated
	}
	c.tablets[tablet.ID] = tablet.Clone()
	return nil
}

func (c *Catalog) SetReplicationInfo(ctx context.Context, info metadata.ReplicationInfo) error {
	if err := info.Live.Validate(); err != nil {
		return errors.WithMessage(err, "live placement")
	}
	for _, placement := range info.ReadReplicas {
		if placement.PlacementUUID == "" {
			return errors.WithMessage(metadata.ErrInvalidPlacement, "read replica placement without uuid")
		}
		if err := placement.Validate(); err != nil {
			return errors.WithMessagef(err, "read replica placement:%s", placement.PlacementUUID)
		}
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if err := c.storage.PutReplicationInfo(ctx, info); err != nil {
		return errors.WithMessage(err, "set replication info")
	}
	c.replicationInfo = info
	return nil
}

func (c *Catalog) SetBlacklist(ctx context.Context, blacklist metadata.Blacklist) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.setBlacklistLocked(ctx, blacklist)
}

func (c *Catalog) AddToBlacklist(ctx context.Context, serverID metadata.TabletServerID) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.blacklist.Contains(serverID) {
		return nil
	}
	servers := append(append([]metadata.TabletServerID{}, c.blacklist.Servers...), serverID)
	return c.setBlacklistLocked(ctx, metadata.Blacklist{Servers: servers})
}

func (c *Catalog) RemoveFromBlacklist(ctx context.Context, serverID metadata.TabletServerID) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	servers := make([]metadata.TabletServerID, 0, len(c.blacklist.Servers))
	for _, id := range c.blacklist.Servers {
		if id != serverID {
			servers = append(servers, id)
		}
	}
	return c.setBlacklistLocked(ctx, metadata.Blacklist{Servers: servers})
}

func (c *Catalog) setBlacklistLocked(ctx context.Context, blacklist metadata.Blacklist) error {
	if err := c.storage.PutBlacklist(ctx, blacklist); err != nil {
		return errors.WithMessage(err, "set blacklist")
	}
	c.blacklist = blacklist
	return nil
}

func (c *Catalog) SetAffinitizedZones(ctx context.Context, zones []metadata.CloudInfo) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if err := c.storage.PutAffinitizedZones(ctx, zones); err != nil {
		return errors.WithMessage(err, "set affinitized zones")
	}
	c.affinitizedZones = append([]metadata.CloudInfo{}, zones...)
	return nil
}

func (c *Catalog) Table(tableID metadata.TableID) (*metadata.Table, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	table, ok := c.tables[tableID]
	if !ok {
		return nil, false
	}
	return table.Clone(), true
}

func (c *Catalog) Tablet(tabletID metadata.TabletID) (*metadata.Tablet, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	tablet, ok := c.tablets[tabletID]
	if !ok {
		return nil, false
	}
	return tablet.Clone(), true
}

func (c *Catalog) TableMap() map[metadata.TableID]*metadata.Table {
	c.lock.RLock()
	defer c.lock.RUnlock()

	tables := make(map[metadata.TableID]*metadata.Table, len(c.tables))
	for id, table := range c.tables {
		tables[id] = table.Clone()
	}
	return tables
}

func (c *Catalog) TabletMap() map[metadata.TabletID]*metadata.Tablet {
	c.lock.RLock()
	defer c.lock.RUnlock()

	tablets := make(map[metadata.TabletID]*metadata.Tablet, len(c.tablets))
	for id, tablet := range c.tablets {
		tablets[id] = tablet.Clone()
	}
	return tablets
}

func (c *Catalog) ReplicationInfo() metadata.ReplicationInfo {
	c.lock.RLock()
	defer c.lock.RUnlock()

	info := c.replicationInfo
	info.ReadReplicas = append([]metadata.PlacementInfo(nil), c.replicationInfo.ReadReplicas...)
	return info
}

func (c *Catalog) Blacklist() metadata.Blacklist {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return metadata.Blacklist{Servers: append([]metadata.TabletServerID(nil), c.blacklist.Servers...)}
}

func (c *Catalog) AffinitizedZones() []metadata.CloudInfo {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return append([]metadata.CloudInfo(nil), c.affinitizedZones...)
}
