// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package etcdutil

import (
	"context"

	"github.com/CeresDB/tabletmeta/pkg/log"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

func Get(ctx context.Context, client *clientv3.Client, key string) (string, error) {
	resp, err := client.Get(ctx, key)
	if err != nil {
		return "", ErrEtcdKVGet.WithCause(err)
	}
	if n := len(resp.Kvs); n == 0 {
		return "", ErrEtcdKVGetNotFound
	} else if n > 1 {
		return "", ErrEtcdKVGetResponse.WithCausef("%v", resp.Kvs)
	}

	return string(resp.Kvs[0].Value), nil
}

// ScanPrefix visits every key under the prefix in key order, reading at most batchSize keys per request.
func ScanPrefix(ctx context.Context, client *clientv3.Client, prefix string, batchSize int, do func(key string, value []byte) error) error {
	endKey := clientv3.GetPrefixRangeEnd(prefix)
	return Scan(ctx, client, prefix, endKey, batchSize, do)
}

// Scan visits the keys in [startKey, endKey) in key order.
func Scan(ctx context.Context, client *clientv3.Client, startKey, endKey string, batchSize int, do func(key string, value []byte) error) error {
	withRange := clientv3.WithRange(endKey)
	withLimit := clientv3.WithLimit(int64(batchSize))

	for {
		resp, err := client.Get(ctx, startKey, withRange, withLimit)
		if err != nil {
			return ErrEtcdKVGet.WithCause(err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		for _, item := range resp.Kvs {
			if err := do(string(item.Key), item.Value); err != nil {
				return err
			}
		}

		if !resp.More || len(resp.Kvs) == 0 {
			return nil
		}
		lastKey := string(resp.Kvs[len(resp.Kvs)-1].Key)
		// Keys sort bytewise, the smallest key after lastKey appends a zero byte.
		startKey = lastKey + "\x00"
		log.Debug("scan next batch", zap.String("startKey", lastKey), zap.String("endKey", endKey))
	}
}
