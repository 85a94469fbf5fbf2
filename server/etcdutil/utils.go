// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package etcdutil

import (
	"context"
	"time"

	"github.com/CeresDB/tabletmeta/pkg/log"
	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const (
	// DefaultRequestTimeout 10s is long enough for most of etcd clusters.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultSlowRequestTime 1s for the threshold for normal request, for those
	// longer then 1s, they are considered as slow requests.
	DefaultSlowRequestTime = 1 * time.Second
)

// PutIfRevision writes the key only when its mod revision still equals the expected one.
// A zero revision requires the key to be missing.
func PutIfRevision(c *clientv3.Client, key, value string, revision int64) error {
	txn := NewSlowLogTxn(c)
	resp, err := txn.If(clientv3.Compare(clientv3.ModRevision(key), "=", revision)).
		Then(clientv3.OpPut(key, value)).
		Commit()
	if err != nil {
		log.Error("put to etcd meet error", zap.String("key", key), zap.Error(err))
		return ErrEtcdKVPut.WithCause(err)
	}
	if !resp.Succeeded {
		return ErrEtcdTxnConflict.WithCausef("key:%s, revision:%d", key, revision)
	}
	return nil
}

// PutAndDelete applies the puts and the deletes in one transaction.
func PutAndDelete(c *clientv3.Client, puts map[string]string, deletes []string) error {
	ops := make([]clientv3.Op, 0, len(puts)+len(deletes))
	for key, value := range puts {
		ops = append(ops, clientv3.OpPut(key, value))
	}
	for _, key := range deletes {
		ops = append(ops, clientv3.OpDelete(key))
	}

	if _, err := NewSlowLogTxn(c).Then(ops...).Commit(); err != nil {
		log.Error("txn to etcd meet error", zap.Int("puts", len(puts)), zap.Int("deletes", len(deletes)), zap.Error(err))
		return ErrEtcdKVPut.WithCause(err)
	}
	return nil
}

// SlowLogTxn wraps etcd transaction and log slow one.
type SlowLogTxn struct {
	clientv3.Txn
	cancel context.CancelFunc
}

// NewSlowLogTxn create a SlowLogTxn.
func NewSlowLogTxn(client *clientv3.Client) clientv3.Txn {
	ctx, cancel := context.WithTimeout(client.Ctx(), DefaultRequestTimeout)
	return &SlowLogTxn{
		Txn:    client.Txn(ctx),
		cancel: cancel,
	}
}

// If takes a list of comparison. If all comparisons passed in succeed,
// the operations passed into Then() will be executed. Or the operations
// passed into Else() will be executed.
func (t *SlowLogTxn) If(cs ...clientv3.Cmp) clientv3.Txn {
	t.Txn = t.Txn.If(cs...)
	return t
}

// Then takes a list of operations. The Ops list will be executed, if the
// comparisons passed in If() succeed.
func (t *SlowLogTxn) Then(ops ...clientv3.Op) clientv3.Txn {
	t.Txn = t.Txn.Then(ops...)
	return t
}

// Commit implements Txn Commit interface.
func (t *SlowLogTxn) Commit() (*clientv3.TxnResponse, error) {
	start := time.Now()
	resp, err := t.Txn.Commit()
	t.cancel()

	cost := time.Since(start)
	if cost > DefaultSlowRequestTime {
		log.Warn("txn runs too slow",
			zap.Reflect("response", resp),
			zap.Duration("cost", cost),
			zap.Error(err))
	}

	return resp, errors.WithStack(err)
}
