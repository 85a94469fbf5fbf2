// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package storage

import (
	"context"
	"encoding/json"

	"github.com/CeresDB/tabletmeta/pkg/coderr"
	"github.com/CeresDB/tabletmeta/pkg/log"
	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
	"github.com/CeresDB/tabletmeta/server/etcdutil"
	"github.com/pkg/errors"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

type EventType int

const (
	EventPut EventType = iota
	EventDelete
)

// Event is one change of the stored catalog.
type Event struct {
	Type EventType
	// Category is one of table, tablet, replication_info, blacklist and affinitized_zones.
	Category string
	// ID is set for tables and tablets.
	ID       string
	Revision int64
}

// metaStorageImpl stores every entity as a json document under the root path.
type metaStorageImpl struct {
	client *clientv3.Client

	opts Options

	rootPath string
}

func newEtcdStorage(client *clientv3.Client, rootPath string, opts Options) Storage {
	return &metaStorageImpl{client, opts, rootPath}
}

func (s *metaStorageImpl) ListTables(ctx context.Context) ([]*metadata.Table, error) {
	tables := make([]*metadata.Table, 0)
	err := etcdutil.ScanPrefix(ctx, s.client, makeTablePrefix(s.rootPath), s.opts.MaxScanLimit, func(key string, value []byte) error {
		table := &metadata.Table{}
		if err := json.Unmarshal(value, table); err != nil {
			return ErrDecode.WithCausef("decode table, key:%s, err:%v", key, err)
		}
		tables = append(tables, table)
		return nil
	})
	if err != nil {
		return nil, errors.WithMessage(err, "list tables")
	}
	return tables, nil
}

func (s *metaStorageImpl) CreateTable(ctx context.Context, table *metadata.Table) error {
	value, err := encode(table)
	if err != nil {
		return err
	}

	key := makeTableKey(s.rootPath, string(table.ID))
	// A missing key has mod revision 0.
	if err := etcdutil.PutIfRevision(s.client, key, value, 0); err != nil {
		if coderr.EqualsByValue(err, etcdutil.ErrEtcdTxnConflict) {
			return ErrTableAlreadyExists.WithCausef("table:%s", table.ID)
		}
		return errors.WithMessagef(err, "create table, key:%s", key)
	}
	return nil
}

func (s *metaStorageImpl) PutTable(ctx context.Context, table *metadata.Table) error {
	return s.put(ctx, makeTableKey(s.rootPath, string(table.ID)), table)
}

func (s *metaStorageImpl) DeleteTable(_ context.Context, table *metadata.Table) error {
	deletes := make([]string, 0, len(table.TabletIDs)+1)
	deletes = append(deletes, makeTableKey(s.rootPath, string(table.ID)))
	for _, tabletID := range table.TabletIDs {
		deletes = append(deletes, makeTabletKey(s.rootPath, string(tabletID)))
	}
	if err := etcdutil.PutAndDelete(s.client, nil, deletes); err != nil {
		return errors.WithMessagef(err, "delete table:%s", table.ID)
	}
	return nil
}

func (s *metaStorageImpl) ListTablets(ctx context.Context) ([]*metadata.Tablet, error) {
	tablets := make([]*metadata.Tablet, 0)
	err := etcdutil.ScanPrefix(ctx, s.client, makeTabletPrefix(s.rootPath), s.opts.MaxScanLimit, func(key string, value []byte) error {
		tablet := &metadata.Tablet{}
		if err := json.Unmarshal(value, tablet); err != nil {
			return ErrDecode.WithCausef("decode tablet, key:%s, err:%v", key, err)
		}
		tablets = append(tablets, tablet)
		return nil
	})
	if err != nil {
		return nil, errors.WithMessage(err, "list tablets")
	}
	return tablets, nil
}

func (s *metaStorageImpl) PutTablet(ctx context.Context, tablet *metadata.Tablet) error {
	return s.put(ctx, makeTabletKey(s.rootPath, string(tablet.ID)), tablet)
}

func (s *metaStorageImpl) DeleteTablet(ctx context.Context, tabletID metadata.TabletID) error {
	key := makeTabletKey(s.rootPath, string(tabletID))
	if _, err := s.client.Delete(ctx, key); err != nil {
		return errors.Wrapf(err, "delete tablet, key:%s", key)
	}
	return nil
}

func (s *metaStorageImpl) GetReplicationInfo(ctx context.Context) (metadata.ReplicationInfo, error) {
	var info metadata.ReplicationInfo
	_, err := s.get(ctx, makeReplicationInfoKey(s.rootPath), &info)
	return info, err
}

func (s *metaStorageImpl) PutReplicationInfo(ctx context.Context, info metadata.ReplicationInfo) error {
	return s.put(ctx, makeReplicationInfoKey(s.rootPath), info)
}

func (s *metaStorageImpl) GetBlacklist(ctx context.Context) (metadata.Blacklist, error) {
	var blacklist metadata.Blacklist
	_, err := s.get(ctx, makeBlacklistKey(s.rootPath), &blacklist)
	return blacklist, err
}

func (s *metaStorageImpl) PutBlacklist(ctx context.Context, blacklist metadata.Blacklist) error {
	return s.put(ctx, makeBlacklistKey(s.rootPath), blacklist)
}

func (s *metaStorageImpl) GetAffinitizedZones(ctx context.Context) ([]metadata.CloudInfo, error) {
	zones := make([]metadata.CloudInfo, 0)
	_, err := s.get(ctx, makeAffinitizedZonesKey(s.rootPath), &zones)
	return zones, err
}

func (s *metaStorageImpl) PutAffinitizedZones(ctx context.Context, zones []metadata.CloudInfo) error {
	return s.put(ctx, makeAffinitizedZonesKey(s.rootPath), zones)
}

func (s *metaStorageImpl) Watch(ctx context.Context, handler func(Event)) error {
	prefix := makeRootPrefix(s.rootPath)
	watchChan := s.client.Watch(ctx, prefix, clientv3.WithPrefix())
	for resp := range watchChan {
		if err := resp.Err(); err != nil {
			return ErrWatch.WithCausef("prefix:%s, err:%v", prefix, err)
		}
		for _, ev := range resp.Events {
			category, id := parseCategory(s.rootPath, string(ev.Kv.Key))
			event := Event{Category: category, ID: id, Revision: ev.Kv.ModRevision}
			switch ev.Type {
			case mvccpb.PUT:
				event.Type = EventPut
			case mvccpb.DELETE:
				event.Type = EventDelete
			}
			handler(event)
		}
	}

	if ctx.Err() != nil {
		log.Info("storage watch exits", zap.String("prefix", prefix))
		return nil
	}
	return ErrWatch.WithCausef("watch channel closed, prefix:%s", prefix)
}

// get decodes the value of the key into v. It reports false when the key is missing and leaves v untouched.
func (s *metaStorageImpl) get(ctx context.Context, key string, v any) (bool, error) {
	value, err := etcdutil.Get(ctx, s.client, key)
	if err != nil {
		if coderr.Is(err, coderr.NotFound) {
			return false, nil
		}
		return false, errors.WithMessagef(err, "get key:%s", key)
	}
	if err := json.Unmarshal([]byte(value), v); err != nil {
		return false, ErrDecode.WithCausef("key:%s, err:%v", key, err)
	}
	return true, nil
}

func (s *metaStorageImpl) put(ctx context.Context, key string, v any) error {
	value, err := encode(v)
	if err != nil {
		return err
	}
	if _, err := s.client.Put(ctx, key, value); err != nil {
		return errors.Wrapf(err, "put key:%s", key)
	}
	return nil
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", ErrEncode.WithCause(err)
	}
	return string(b), nil
}
