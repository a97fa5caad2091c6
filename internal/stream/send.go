package stream

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"rdmaxfer/internal/fabric"
	"rdmaxfer/internal/rerrors"
	"rdmaxfer/internal/wire"
)

// ackReader runs in the background on the sender side, turning the
// receiver's one-byte-per-freed-slot ack stream into a buffered
// channel so the send loop can drain it non-blockingly — the Go
// analogue of an EAGAIN-returning non-blocking socket read.
type ackReader struct {
	ch  chan struct{}
	err chan error
}

func startAckReader(conn io.Reader, capacity int) *ackReader {
	r := &ackReader{
		ch:  make(chan struct{}, capacity),
		err: make(chan error, 1),
	}
	go func() {
		buf := make([]byte, 1)
		for {
			n, err := conn.Read(buf)
			if n == 1 {
				if buf[0] != 'A' {
					r.err <- rerrors.New(rerrors.ESyncFailure, op, nil)
					return
				}
				r.ch <- struct{}{}
			}
			if err != nil {
				if err == io.EOF {
					r.err <- rerrors.New(rerrors.EPeerClosed, op, err)
				} else {
					r.err <- rerrors.New(rerrors.EPeerClosed, op, err)
				}
				return
			}
		}
	}()
	return r
}

// PostSendFile implements spec.md §4.5: stat, exchange FileInfo, open
// read-only, rendezvous on 'Y', then run the credit-controlled
// pipelining loop until the whole file has been posted and every
// SEND has completed.
func (c *Control) PostSendFile(ctx context.Context, path, name string, progress ProgressFunc) error {
	info, err := os.Stat(path)
	if err != nil {
		return rerrors.New(rerrors.EFileNotFound, op, err)
	}
	fileSize := uint64(info.Size())

	remoteInfo, err := wire.SyncFileInfo(c.conn, wire.FileInfo{FilePath: filepath.Base(name), FileSize: fileSize})
	if err != nil {
		return err
	}
	if remoteInfo.FilePath != wire.ReadyToReceive {
		return rerrors.New(rerrors.ENotReady, op, nil)
	}

	f, err := os.Open(path)
	if err != nil {
		return rerrors.New(rerrors.EIoOpen, op, err)
	}
	defer f.Close()

	if err := wire.SyncReadiness(c.conn, 'Y'); err != nil {
		return err
	}

	poolSize := uint32(c.pool.Len())
	acks := startAckReader(c.conn, int(poolSize))

	remainingCredits := c.RemoteBlockNum()
	var outstanding uint32
	bytesLeft := fileSize
	slotIdx := uint32(0)
	readBuf := make([]byte, c.pool.SlotLen())

	for bytesLeft > 0 || outstanding > 0 {
		if err := ctx.Err(); err != nil {
			return rerrors.New(rerrors.ECancelled, op, err)
		}

		gained, err := drainAcks(ctx, acks, remainingCredits == 0 && bytesLeft > 0)
		if err != nil {
			return err
		}
		remainingCredits += gained

		if remainingCredits > 0 && bytesLeft > 0 {
			toRead := c.pool.SlotLen()
			if uint64(toRead) > bytesLeft {
				toRead = int64(bytesLeft)
			}
			n, err := io.ReadFull(f, readBuf[:toRead])
			if err != nil && err != io.ErrUnexpectedEOF {
				return rerrors.New(rerrors.EIoShort, op, err)
			}

			slotBuf := c.pool.Buffer(slotIdx)
			copy(slotBuf, readBuf[:n])
			if err := c.qp.PostSend(slotIdx, slotBuf[:n]); err != nil {
				return err
			}

			remainingCredits--
			outstanding++
			bytesLeft -= uint64(n)
			slotIdx = (slotIdx + 1) % poolSize
			if progress != nil {
				progress(fileSize-bytesLeft, fileSize)
			}
		}

		// Drain completions up to pool_size at a time (spec.md §4.5).
		for _, comp := range c.qp.PollSendCQ(int(poolSize)) {
			if comp.Status != fabric.StatusSuccess {
				return rerrors.New(rerrors.EWorkCompletionError, op, nil)
			}
			outstanding--
		}
	}
	return nil
}

// drainAcks pulls every ack currently buffered without blocking,
// unless block is true (no credits and more to send), in which case
// it waits for at least one ack before returning.
func drainAcks(ctx context.Context, r *ackReader, block bool) (uint32, error) {
	var gained uint32
	if block {
		select {
		case <-r.ch:
			gained++
		case err := <-r.err:
			return gained, err
		case <-ctx.Done():
			return gained, rerrors.New(rerrors.ECancelled, op, ctx.Err())
		}
	}
	for {
		select {
		case <-r.ch:
			gained++
		case err := <-r.err:
			return gained, err
		default:
			return gained, nil
		}
	}
}
