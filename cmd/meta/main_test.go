// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/CeresDB/tabletmeta/pkg/coderr"
	"github.com/stretchr/testify/require"
)

func TestWantsVersion(t *testing.T) {
	re := require.New(t)

	re.True(wantsVersion([]string{"--http-port=8080", "-V"}))
	re.True(wantsVersion([]string{"--version"}))
	re.False(wantsVersion([]string{"--node-name=version"}))
	re.Contains(buildVersion(), "Version:unknown")
}

func TestLoadConfig(t *testing.T) {
	re := require.New(t)

	cfg, err := loadConfig([]string{"--node-name=meta-1", "--http-port=9090"})
	re.NoError(err)
	re.Equal("meta-1", cfg.NodeName)
	re.Equal(9090, cfg.HTTPPort)

	_, err = loadConfig([]string{"-h"})
	re.True(coderr.Is(err, coderr.PrintHelpUsage))

	_, err = loadConfig([]string{"--node-name="})
	re.Error(err)

	path := filepath.Join(t.TempDir(), "meta.toml")
	re.NoError(os.WriteFile(path, []byte("node-name = \"from-file\"\n"), 0o600))
	cfg, err = loadConfig([]string{"--config=" + path})
	re.NoError(err)
	re.Equal("from-file", cfg.NodeName)

	_, err = loadConfig([]string{"--config=" + filepath.Join(t.TempDir(), "missing.toml")})
	re.Error(err)
}
