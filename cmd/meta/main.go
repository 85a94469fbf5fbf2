// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/CeresDB/tabletmeta/pkg/coderr"
	"github.com/CeresDB/tabletmeta/pkg/log"
	"github.com/CeresDB/tabletmeta/server"
	"github.com/CeresDB/tabletmeta/server/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Filled by -ldflags "-X main.version=... -X main.commitID=... -X main.buildDate=...".
var (
	version   = "unknown"
	commitID  = "unknown"
	buildDate = "unknown"
)

func buildVersion() string {
	return fmt.Sprintf("TabletMeta Server\nVersion:%s\nGit commit:%s\nBuild date:%s", version, commitID, buildDate)
}

func wantsVersion(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-V" {
			return true
		}
	}
	return false
}

// loadConfig layers the command line, the toml file and the environment, in that order.
func loadConfig(args []string) (*config.Config, error) {
	parser, err := config.MakeConfigParser()
	if err != nil {
		return nil, errors.WithMessage(err, "generate config parser")
	}
	cfg, err := parser.Parse(args)
	if err != nil {
		return nil, err
	}
	if err := parser.ParseConfigFromToml(); err != nil {
		return nil, errors.WithMessage(err, "parse config from toml file")
	}
	if err := parser.ParseConfigFromEnv(); err != nil {
		return nil, errors.WithMessage(err, "parse config from environment variable")
	}
	if err := cfg.ValidateAndAdjust(); err != nil {
		return nil, errors.WithMessage(err, "invalid config")
	}
	return cfg, nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if wantsVersion(args) {
		fmt.Println(buildVersion())
		return 0
	}

	cfg, err := loadConfig(args)
	if coderr.Is(err, coderr.PrintHelpUsage) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "fail to load config, err:%v\n", err)
		return 2
	}

	if cfg.Etcd.Embedded {
		if err := os.MkdirAll(cfg.Etcd.DataDir, os.ModePerm); err != nil {
			fmt.Fprintf(os.Stderr, "fail to create etcd data dir, data_dir:%s, err:%v\n", cfg.Etcd.DataDir, err)
			return 1
		}
	}

	logger, err := log.InitGlobalLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fail to init global logger, err:%v\n", err)
		return 1
	}
	defer logger.Sync() //nolint:errcheck

	cfgByte, err := toml.Marshal(cfg)
	if err != nil {
		log.Warn("fail to marshal server config", zap.Error(err))
	}
	log.Info("server start with config", zap.String("version", version), zap.String("commit", commitID), zap.ByteString("config", cfgByte))

	srv, err := server.CreateServer(cfg)
	if err != nil {
		log.Error("fail to create server", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Error("fail to run server", zap.Error(err))
		srv.Close()
		return 1
	}

	<-ctx.Done()
	log.Info("got signal to exit")
	srv.Close()
	return 0
}
