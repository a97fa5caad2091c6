package stream

import (
	"context"
	"os"
	"path/filepath"

	"rdmaxfer/internal/rerrors"
	"rdmaxfer/internal/wire"
)

// PostRecvFile implements spec.md §4.4: pre-post every slot, exchange
// FileInfo, reload configuration for the current storage directory,
// open the destination, rendezvous on 'Y', then drain completions
// into the file until received >= file_size.
func (c *Control) PostRecvFile(ctx context.Context, onName NameFunc, progress ProgressFunc) error {
	for i := uint32(0); i < uint32(c.pool.Len()); i++ {
		c.qp.PostRecv(i)
	}

	remoteInfo, err := wire.SyncFileInfo(c.conn, wire.FileInfo{FilePath: wire.ReadyToReceive, FileSize: 0})
	if err != nil {
		return err
	}

	storageDir, err := c.storageDir()
	if err != nil {
		return rerrors.New(rerrors.EInvalidConfig, op, err)
	}
	// Strip any path components from the exchanged name so a
	// malicious sender cannot steer writes outside storageDir
	// (spec.md §9 open question).
	name := filepath.Base(remoteInfo.FilePath)
	dest := filepath.Join(storageDir, name)
	if onName != nil {
		onName(name)
	}

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o777)
	if err != nil {
		return rerrors.New(rerrors.EIoOpen, op, err)
	}
	defer f.Close()

	if err := wire.SyncReadiness(c.conn, 'Y'); err != nil {
		return err
	}
	c.qp.StartRecvLoop(ctx)

	var received uint64
	total := remoteInfo.FileSize
	for received < total {
		if err := ctx.Err(); err != nil {
			return rerrors.New(rerrors.ECancelled, op, err)
		}

		comp, err := c.qp.PollRecv(ctx)
		if err != nil {
			return err
		}

		buf := c.pool.Buffer(comp.WRID)[:comp.ByteLen]
		if _, err := f.Write(buf); err != nil {
			return rerrors.New(rerrors.EIoShort, op, err)
		}

		c.qp.PostRecv(comp.WRID)
		c.sendAck()

		received += uint64(comp.ByteLen)
		if progress != nil {
			progress(received, total)
		}
	}
	return nil
}

// sendAck writes the single-byte receive-credit ack. A real NIC-driven
// non-blocking send has no direct Go analogue; a best-effort
// synchronous write is used instead since acks are one byte on an
// already-open socket and never the long pole.
func (c *Control) sendAck() {
	_, _ = c.conn.Write([]byte{'A'})
}
