// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package vtable

import "github.com/CeresDB/tabletmeta/pkg/coderr"

var (
	ErrStaticColumns         = coderr.NewCodeError(coderr.IllegalState, "system table contains no static columns")
	ErrColumnNotFound        = coderr.NewCodeError(coderr.InvalidParams, "column not found")
	ErrInvalidCondition      = coderr.NewCodeError(coderr.InvalidParams, "invalid condition")
	ErrIteratorExhausted     = coderr.NewCodeError(coderr.IllegalState, "iterator has no more rows")
	ErrRetrieveData          = coderr.NewCodeError(coderr.Internal, "retrieve virtual table data")
	ErrVirtualTableNotFound  = coderr.NewCodeError(coderr.NotFound, "virtual table not found")
	ErrVirtualTableDuplicate = coderr.NewCodeError(coderr.Conflict, "virtual table already registered")
)
