// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package balancer

import "github.com/CeresDB/tabletmeta/pkg/coderr"

var (
	ErrInvalidOptions = coderr.NewCodeError(coderr.InvalidParams, "invalid load balancer options")
	ErrLoadPlacement  = coderr.NewCodeError(coderr.Configuration, "load placement info of replication domain")
)
