package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"rdmaxfer/internal/config"
	"rdmaxfer/internal/logging"
	"rdmaxfer/internal/rdevice"
	"rdmaxfer/internal/server"
)

func main() {
	confDir, err := os.UserConfigDir()
	if err != nil {
		confDir = "."
	}
	confDir = filepath.Join(confDir, "rdmaxfer")
	if err := os.MkdirAll(confDir, 0o755); err != nil {
		fmt.Printf("failed to create config dir: %v\n", err)
		os.Exit(1)
	}
	cfgPath := filepath.Join(confDir, "config.ini")
	storagePath := filepath.Join(confDir, "storage.ini")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New("info", filepath.Join(confDir, "server.log"), true)
	defer log.Sync()

	device, err := rdevice.Init(cfg.RdmaGidIndex, 1, int64(cfg.BlockSize)*1024*int64(cfg.BlockNum)*int64(cfg.MaxThreadNum))
	if err != nil {
		log.Fatal("device init failed", zap.Error(err))
	}

	srv := server.New(log, device, cfg, cfgPath, storagePath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("rdmaxfer server starting", zap.Int("port", cfg.ListenPort), zap.Int("max_thread_num", cfg.MaxThreadNum))
	addr := net.JoinHostPort("", strconv.Itoa(cfg.ListenPort))
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
	log.Info("rdmaxfer server stopped")
}
