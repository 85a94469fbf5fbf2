// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package task

import "github.com/CeresDB/tabletmeta/pkg/coderr"

var (
	ErrTaskAlreadyPending = coderr.NewCodeError(coderr.Conflict, "task of the same kind is already pending for the tablet")
	ErrTaskNotFound       = coderr.NewCodeError(coderr.NotFound, "task not found")
	ErrTransition         = coderr.NewCodeError(coderr.IllegalState, "illegal task state transition")
)
