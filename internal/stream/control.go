// Package stream is the per-connection stream control (spec.md §2.4,
// §4.3–§4.5): the object owning one QP, one CQ (via fabric.QueuePair),
// the buffer pool, and the TCP side channel, exposing bring-up and the
// send/receive file operations. Sender and receiver are two operations
// on one type, not two subclasses (spec.md §9).
package stream

import (
	"context"
	"net"
	"sync/atomic"

	"rdmaxfer/internal/bufpool"
	"rdmaxfer/internal/fabric"
	"rdmaxfer/internal/rdevice"
	"rdmaxfer/internal/rerrors"
	"rdmaxfer/internal/wire"
)

const op = "stream"

// Role distinguishes the two operations available on a Control.
type Role int

const (
	RoleReceiver Role = iota
	RoleSender
)

// qpState mirrors the RC QP state machine (spec.md §4.3).
type qpState int

const (
	stateReset qpState = iota
	stateInit
	stateRTR
	stateRTS
)

// ProgressFunc is called after each slot is written/sent, with the
// running byte count and the total advertised in FileInfo.
type ProgressFunc func(done, total uint64)

// NameFunc is called once PostRecvFile has resolved the peer's
// advertised file name, before the receive loop starts.
type NameFunc func(name string)

var qpNumCounter uint32

// StorageDirFunc returns the (possibly just-reloaded) storage
// directory to write received files into (spec.md §4.4 step 3).
type StorageDirFunc func() (string, error)

// Control is one connection's stream engine.
type Control struct {
	device *rdevice.Context
	conn   net.Conn
	role   Role
	state  qpState

	blockSizeKiB uint32
	blockCount   uint32

	mr   *rdevice.MemoryRegion
	pool *bufpool.Pool
	qp   *fabric.QueuePair

	local, remote wire.QPInfo

	storageDir StorageDirFunc
}

// NewReceiver builds a server-role Control. storageDir is consulted
// fresh before each PostRecvFile call.
func NewReceiver(device *rdevice.Context, conn net.Conn, blockSizeKiB, blockCount uint32, storageDir StorageDirFunc) *Control {
	return &Control{
		device:       device,
		conn:         conn,
		role:         RoleReceiver,
		blockSizeKiB: blockSizeKiB,
		blockCount:   blockCount,
		storageDir:   storageDir,
	}
}

// NewSender builds an initiator-role Control. blockSizeKiB may be
// overridden during bring-up by the receiver's advertised block size.
func NewSender(device *rdevice.Context, conn net.Conn, blockSizeKiB, blockCount uint32) *Control {
	return &Control{
		device:       device,
		conn:         conn,
		role:         RoleSender,
		blockSizeKiB: blockSizeKiB,
		blockCount:   blockCount,
	}
}

// Bringup drives the RC QP state machine through the six steps of
// spec.md §4.3, in order, failing fast on the first error.
func (c *Control) Bringup(ctx context.Context) error {
	c.local = wire.QPInfo{
		LID:       c.device.LID,
		QPNum:     atomic.AddUint32(&qpNumCounter, 1),
		BlockNum:  c.blockCount,
		BlockSize: c.blockSizeKiB,
		GID:       c.device.GID,
	}

	if err := wire.SyncReadiness(c.conn, 'R'); err != nil {
		return err
	}

	remote, err := wire.SyncQPInfo(c.conn, c.local)
	if err != nil {
		return err
	}
	c.remote = remote
	if c.role == RoleSender {
		// Initiator adopts the receiver's block size (spec.md §4.3 step 3).
		c.blockSizeKiB = remote.BlockSize
	}

	if err := c.transition(stateInit); err != nil {
		return c.teardown(err)
	}
	if err := c.transition(stateRTR); err != nil {
		return c.teardown(err)
	}
	if err := c.transition(stateRTS); err != nil {
		return c.teardown(err)
	}

	slotBytes := int64(c.blockSizeKiB) * 1024
	mr, err := c.device.CreateMR(slotBytes * int64(c.blockCount))
	if err != nil {
		return c.teardown(err)
	}
	c.mr = mr

	pool, err := bufpool.New(mr, slotBytes)
	if err != nil {
		return c.teardown(err)
	}
	c.pool = pool
	c.qp = fabric.New(c.conn, pool)
	return nil
}

// transition advances the software QP exactly one state forward,
// reproducing the ordering invariant without a real modify-QP call.
func (c *Control) transition(to qpState) error {
	if to != c.state+1 {
		return rerrors.New(rerrors.EDevice, op, nil)
	}
	c.state = to
	return nil
}

// teardown runs the scoped cleanup from spec.md §4.3: modify to
// RESET, release the MR, and propagate the original failure. Each
// step is a no-op if the corresponding resource was never created.
func (c *Control) teardown(cause error) error {
	c.state = stateReset
	if c.mr != nil {
		_ = c.device.DestroyMR(c.mr)
		c.mr = nil
	}
	c.pool = nil
	c.qp = nil
	return cause
}

// Close tears down the connection's resources on any exit path from
// the bulk-transfer loop, leaving the device context intact.
func (c *Control) Close() {
	c.teardown(nil)
}

// RemoteBlockNum exposes the peer's advertised recv-credit budget,
// the sender's starting credit count (spec.md §4.5).
func (c *Control) RemoteBlockNum() uint32 { return c.remote.BlockNum }
