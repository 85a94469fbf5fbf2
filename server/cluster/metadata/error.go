// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package metadata

import "github.com/CeresDB/tabletmeta/pkg/coderr"

var (
	ErrPlacementNotFound = coderr.NewCodeError(coderr.Configuration, "placement of replication domain not found")
	ErrInvalidPlacement  = coderr.NewCodeError(coderr.Configuration, "invalid placement info")
)
