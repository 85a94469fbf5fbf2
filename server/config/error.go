// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package config

import "github.com/CeresDB/tabletmeta/pkg/coderr"

var (
	ErrHelpUsage          = coderr.NewCodeError(coderr.PrintHelpUsage, "print help usage")
	ErrInvalidCommandArgs = coderr.NewCodeError(coderr.InvalidParams, "invalid command arguments")
	ErrInvalidConfig      = coderr.NewCodeError(coderr.InvalidParams, "invalid config")
	ErrReadConfigFile     = coderr.NewCodeError(coderr.Internal, "fail to read config file")
)
