// Package initiator is the client-side driver (spec.md §2.6): resolve
// and dial the peer, construct a sender-role stream control, drive
// bring-up, then post_send_file. The dial itself is adapted from the
// teacher's DialFast (cppla-moto/controller/direct.go): race a
// connection attempt per resolved address and take the first to
// succeed, rather than trying addresses one at a time.
package initiator

import (
	"context"
	"net"
	"net/netip"
	"time"

	"rdmaxfer/internal/rdevice"
	"rdmaxfer/internal/rerrors"
	"rdmaxfer/internal/stream"
)

const op = "initiator"

const dialTimeout = 5 * time.Second

// Dial connects to host:port, racing one attempt per resolved address
// when host is not already a literal IP.
func Dial(ctx context.Context, host, port string) (net.Conn, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return dialOne(ctx, net.JoinHostPort(ip.String(), port))
	}

	addrs, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil || len(addrs) == 0 {
		return dialOne(ctx, net.JoinHostPort(host, port))
	}

	type result struct {
		conn net.Conn
		err  error
	}
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	resCh := make(chan result, len(addrs))
	for _, ip := range addrs {
		go func(ip net.IP) {
			d := net.Dialer{Timeout: dialTimeout}
			c, err := d.DialContext(raceCtx, "tcp", net.JoinHostPort(ip.String(), port))
			resCh <- result{conn: c, err: err}
		}(ip)
	}

	var firstErr error
	for range addrs {
		r := <-resCh
		if r.err == nil {
			cancel()
			return r.conn, nil
		}
		if firstErr == nil {
			firstErr = r.err
		}
	}
	return nil, rerrors.New(rerrors.ENotReady, op, firstErr)
}

func dialOne(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, rerrors.New(rerrors.ENotReady, op, err)
	}
	return conn, nil
}

// SendFile dials host:port, brings up the RDMA stream as a sender,
// and posts the whole file at path under name. device is the
// process-wide device context; blockCount is the number of slots in
// this side's send pool, whose slot size is taken from the receiver's
// advertised block size during bring-up.
func SendFile(ctx context.Context, device *rdevice.Context, host, port string, blockCount uint32, path, name string, progress stream.ProgressFunc) error {
	conn, err := Dial(ctx, host, port)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctrl := stream.NewSender(device, conn, 0, blockCount)
	if err := ctrl.Bringup(ctx); err != nil {
		return err
	}
	defer ctrl.Close()

	return ctrl.PostSendFile(ctx, path, name, progress)
}
