// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package cluster

import "github.com/CeresDB/tabletmeta/pkg/coderr"

var (
	ErrTableNotFound        = coderr.NewCodeError(coderr.NotFound, "table not found")
	ErrTabletNotFound       = coderr.NewCodeError(coderr.NotFound, "tablet not found")
	ErrTabletServerNotFound = coderr.NewCodeError(coderr.NotFound, "tablet server not found")
	ErrInvalidTablet        = coderr.NewCodeError(coderr.InvalidParams, "invalid tablet")
	ErrInvalidServer        = coderr.NewCodeError(coderr.InvalidParams, "invalid tablet server descriptor")
)
