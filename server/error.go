// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package server

import "github.com/CeresDB/tabletmeta/pkg/coderr"

var (
	ErrCreateEtcdClient = coderr.NewCodeError(coderr.Internal, "fail to create etcd client")
	ErrStartEtcd        = coderr.NewCodeError(coderr.Internal, "fail to start embed etcd")
	ErrStartServer      = coderr.NewCodeError(coderr.Internal, "fail to start server")
	ErrServerStarted    = coderr.NewCodeError(coderr.IllegalState, "server is already running")
)
