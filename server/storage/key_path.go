// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package storage

import (
	"path"
	"strings"
)

const (
	version          = "v1"
	table            = "table"
	tablet           = "tablet"
	replicationInfo  = "replication_info"
	blacklist        = "blacklist"
	affinitizedZones = "affinitized_zones"
)

// Keys are laid out under the root path, e.g.
// <root>/v1/table/<table-id>            -> metadata.Table
// <root>/v1/tablet/<tablet-id>          -> metadata.Tablet
// <root>/v1/replication_info            -> metadata.ReplicationInfo
// <root>/v1/blacklist                   -> metadata.Blacklist
// <root>/v1/affinitized_zones           -> []metadata.CloudInfo
func makeTableKey(rootPath string, tableID string) string {
	return path.Join(rootPath, version, table, tableID)
}

func makeTablePrefix(rootPath string) string {
	return path.Join(rootPath, version, table) + "/"
}

func makeTabletKey(rootPath string, tabletID string) string {
	return path.Join(rootPath, version, tablet, tabletID)
}

func makeTabletPrefix(rootPath string) string {
	return path.Join(rootPath, version, tablet) + "/"
}

func makeReplicationInfoKey(rootPath string) string {
	return path.Join(rootPath, version, replicationInfo)
}

func makeBlacklistKey(rootPath string) string {
	return path.Join(rootPath, version, blacklist)
}

func makeAffinitizedZonesKey(rootPath string) string {
	return path.Join(rootPath, version, affinitizedZones)
}

func makeRootPrefix(rootPath string) string {
	return path.Join(rootPath, version) + "/"
}

// parseCategory returns the category of the key and the id it holds, if any.
func parseCategory(rootPath string, key string) (category string, id string) {
	rest := strings.TrimPrefix(key, makeRootPrefix(rootPath))
	category, id, _ = strings.Cut(rest, "/")
	return category, id
}
