// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package storage

import "github.com/CeresDB/tabletmeta/pkg/coderr"

var (
	ErrEncode             = coderr.NewCodeError(coderr.Internal, "storage encode")
	ErrDecode             = coderr.NewCodeError(coderr.Internal, "storage decode")
	ErrTableAlreadyExists = coderr.NewCodeError(coderr.Conflict, "table already exists")
	ErrWatch              = coderr.NewCodeError(coderr.Internal, "storage watch")
)
