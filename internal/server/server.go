// Package server is the listener and per-client handler (spec.md
// §4.6): accept loop, admission cap, and a detached handler goroutine
// per admitted client, grounded on cppla-moto's controller.Listen
// accept-then-dispatch shape and its go-cache WAF throttle.
package server

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"rdmaxfer/internal/clients"
	"rdmaxfer/internal/config"
	"rdmaxfer/internal/rdevice"
	"rdmaxfer/internal/rerrors"
	"rdmaxfer/internal/stream"
)

const op = "server"

// requestsPerWindow and window bound how many new connections a
// single source IP may open, mirroring the teacher's 200-per-30s WAF
// rule (cppla-moto/controller/server.go).
const (
	requestsPerWindow = 200
	window            = 30 * time.Second
)

// Server owns the listener socket, the client table, and the shared
// device context every connection registers its memory region with.
type Server struct {
	log         *zap.Logger
	device      *rdevice.Context
	table       *clients.Table
	cfgPath     string
	storagePath string
	ipCache     *cache.Cache
}

// New builds a Server bound to device, admitting at most cfg's
// MaxThreadNum concurrent clients. cfgPath is reloaded before every
// receive so a changed BlockSize/BlockNum/DefaultRate takes effect on
// the next connection; the admission cap stays at the MaxThreadNum of
// the cfg passed here. storagePath is reloaded before every
// receive so a changed storage directory takes effect without a
// restart (spec.md §2, §4.4 step 3).
func New(log *zap.Logger, device *rdevice.Context, cfg *config.Config, cfgPath, storagePath string) *Server {
	return &Server{
		log:         log,
		device:      device,
		table:       clients.New(cfg.MaxThreadNum),
		cfgPath:     cfgPath,
		storagePath: storagePath,
		ipCache:     cache.New(window, window*2),
	}
}

// ListenAndServe opens a TCP listener at addr and runs the accept
// loop until ctx is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return rerrors.New(rerrors.EDevice, op, err)
	}
	s.log.Info("listening", zap.String("addr", ln.Addr().String()))
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on an already-bound listener until ctx
// is cancelled or the listener fails. Split out from ListenAndServe
// so callers (and tests) that need the bound ephemeral address can
// net.Listen themselves first.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error("accept failed", zap.Error(err))
			continue
		}

		if s.throttled(conn) {
			conn.Close()
			continue
		}

		rec, ok := s.table.TryAdmit(conn)
		if !ok {
			s.log.Warn("admission cap reached, rejecting", zap.String("peer", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}

		go s.handle(ctx, conn, rec)
	}
}

func (s *Server) throttled(conn net.Conn) bool {
	ip := conn.RemoteAddr().String()
	if idx := strings.LastIndex(ip, ":"); idx >= 0 {
		ip = ip[:idx]
	}
	if count, found := s.ipCache.Get(ip); found {
		if count.(int) >= requestsPerWindow {
			s.log.Warn("throttling ip", zap.String("ip", ip))
			return true
		}
		s.ipCache.Increment(ip, 1)
		return false
	}
	s.ipCache.Set(ip, 1, cache.DefaultExpiration)
	return false
}

// handle runs the full receiver flow for one admitted client: bring
// up the stream control, receive exactly one file, and on any exit
// path release the connection and its client-table slot.
func (s *Server) handle(ctx context.Context, conn net.Conn, rec *clients.Record) {
	defer conn.Close()
	defer s.table.Remove(conn)

	cfg, err := config.Load(s.cfgPath)
	if err != nil {
		s.log.Error("config reload failed", zap.Error(err))
		return
	}

	rec.Rate = cfg.DefaultRate

	storageDir := func() (string, error) {
		return config.LoadStoragePath(s.storagePath)
	}

	ctrl := stream.NewReceiver(s.device, conn, uint32(cfg.BlockSize), uint32(cfg.BlockNum), storageDir)
	if err := ctrl.Bringup(ctx); err != nil {
		s.log.Warn("bring-up failed", zap.String("peer", rec.PeerIP), zap.Error(err))
		return
	}
	defer ctrl.Close()

	s.table.SetReceiving(rec, &clients.CurrentFile{})
	defer s.table.SetIdle(rec)

	err = ctrl.PostRecvFile(ctx, func(name string) {
		rec.CurrentFile.Name = name
	}, func(done, total uint64) {
		rec.CurrentFile.Received = done
		rec.CurrentFile.Total = total
	})
	if err != nil {
		s.log.Warn("receive failed", zap.String("peer", rec.PeerIP), zap.Error(err))
		return
	}
	s.log.Info("receive complete", zap.String("peer", rec.PeerIP))
}
