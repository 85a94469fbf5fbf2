// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package http

import "github.com/CeresDB/tabletmeta/pkg/coderr"

var (
	ErrParseRequest = coderr.NewCodeError(coderr.BadRequest, "parse request params failed")
	ErrFlowLimited  = coderr.NewCodeError(coderr.TooManyRequests, "request is throttled")
)
