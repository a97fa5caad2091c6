package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"rdmaxfer/internal/initiator"
	"rdmaxfer/internal/logging"
	"rdmaxfer/internal/rdevice"
)

func main() {
	if len(os.Args) != 4 {
		fmt.Println("usage: rdmaxfer-client <ip> <port> <filepath>")
		os.Exit(1)
	}
	ip, port, path := os.Args[1], os.Args[2], os.Args[3]

	log := logging.New("info", "", true)
	defer log.Sync()

	device, err := rdevice.Init(0, 1, rdevice.PoolUnbounded)
	if err != nil {
		log.Fatal("device init failed", zap.Error(err))
	}

	ctx := context.Background()
	name := filepath.Base(path)

	log.Info("sending file", zap.String("path", path), zap.String("peer", ip+":"+port))
	err = initiator.SendFile(ctx, device, ip, port, 16, path, name, func(done, total uint64) {
		log.Info("progress", zap.Uint64("done", done), zap.Uint64("total", total))
	})
	if err != nil {
		log.Error("send failed", zap.Error(err))
		os.Exit(1)
	}
	log.Info("send complete")
}
