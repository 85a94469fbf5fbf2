// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package dispatch

import "github.com/CeresDB/tabletmeta/pkg/coderr"

var (
	ErrUnknownAction  = coderr.NewCodeError(coderr.Internal, "unknown action kind")
	ErrQueueFull      = coderr.NewCodeError(coderr.TooManyRequests, "dispatch queue is full")
	ErrDispatcherStop = coderr.NewCodeError(coderr.Internal, "dispatcher stopped")
	ErrAlreadyStarted = coderr.NewCodeError(coderr.IllegalState, "dispatcher already started")
)
