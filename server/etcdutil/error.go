// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package etcdutil

import "github.com/CeresDB/tabletmeta/pkg/coderr"

var (
	ErrEtcdKVGet         = coderr.NewCodeError(coderr.Internal, "etcd KV get failed")
	ErrEtcdKVGetResponse = coderr.NewCodeError(coderr.Internal, "etcd invalid get value response must only one")
	ErrEtcdKVPut         = coderr.NewCodeError(coderr.Internal, "etcd KV put failed")
	ErrEtcdKVGetNotFound = coderr.NewCodeError(coderr.NotFound, "etcd KV get value not found")
	ErrEtcdTxnConflict   = coderr.NewCodeError(coderr.Internal, "etcd txn conflict")
	ErrEtcdStart         = coderr.NewCodeError(coderr.Internal, "start embedded etcd failed")
)
