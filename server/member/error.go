// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package member

import "github.com/CeresDB/tabletmeta/pkg/coderr"

var (
	ErrGrantLease     = coderr.NewCodeError(coderr.Internal, "grant lease")
	ErrRevokeLease    = coderr.NewCodeError(coderr.Internal, "revoke lease")
	ErrGetLeader      = coderr.NewCodeError(coderr.Internal, "get leader")
	ErrCampaignLeader = coderr.NewCodeError(coderr.Internal, "campaign leader")
	ErrLeaderLost     = coderr.NewCodeError(coderr.Conflict, "leader is held by another member")
	ErrResetLeader    = coderr.NewCodeError(coderr.Internal, "reset leader")
)
