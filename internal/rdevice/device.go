// Package rdevice models the device adapter (spec.md §4.1): the
// process-wide protection domain and the registry of live memory
// regions with free-byte accounting. Shaped after the hyperdrive
// reference file's RDMADevice/MemoryRegion bookkeeping, since the
// pack carries no cgo libibverbs binding to wrap directly.
package rdevice

import (
	"crypto/rand"
	"sync"
	"unsafe"

	"rdmaxfer/internal/rerrors"
)

const op = "rdevice"

// PoolUnbounded is the sentinel pool size for initiators that have no
// fixed budget: the first CreateMR call adopts its argument as the
// pool size (spec.md §4.1).
const PoolUnbounded int64 = -1

// MemoryRegion is a contiguous pinned byte buffer plus its
// registration handle.
type MemoryRegion struct {
	Buffer []byte
	Lkey   uint32
	Rkey   uint32
	Length int64
}

// Context is the one-per-process device context: opened device,
// queried port attributes, selected GID, and protection domain.
type Context struct {
	PortNum  int
	GIDIndex int
	LID      uint16
	GID      [16]byte

	mu        sync.Mutex
	registry  map[uintptr]*MemoryRegion
	freeBytes int64
	unbounded bool
	nextKey   uint32
}

// Init opens the device adapter: selects a port, queries its
// attributes and GID, and allocates the protection domain. poolBytes
// is the process-wide registration budget, or PoolUnbounded.
func Init(gidIndex, portNum int, poolBytes int64) (*Context, error) {
	if gidIndex < 0 {
		return nil, rerrors.New(rerrors.EInvalidArgument, op, nil)
	}
	var gid [16]byte
	if _, err := rand.Read(gid[:]); err != nil {
		return nil, rerrors.New(rerrors.EDevice, op, err)
	}
	ctx := &Context{
		PortNum:   portNum,
		GIDIndex:  gidIndex,
		LID:       uint16(portNum + 1),
		GID:       gid,
		registry:  make(map[uintptr]*MemoryRegion),
		freeBytes: poolBytes,
		unbounded: poolBytes == PoolUnbounded,
	}
	return ctx, nil
}

// FreeBytes returns the current free-byte counter.
func (c *Context) FreeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freeBytes
}

// CreateMR registers a zeroed buffer of length bytes.
func (c *Context) CreateMR(length int64) (*MemoryRegion, error) {
	if length == 0 {
		return nil, rerrors.New(rerrors.EInvalidArgument, op, nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unbounded {
		// First registration adopts its argument as the pool size.
		c.freeBytes = length
		c.unbounded = false
	}
	if length > c.freeBytes {
		return nil, rerrors.New(rerrors.EResourceExhausted, op, nil)
	}

	buf := make([]byte, length)
	if len(buf) == 0 {
		return nil, rerrors.New(rerrors.EAllocationFailed, op, nil)
	}
	c.nextKey++
	mr := &MemoryRegion{
		Buffer: buf,
		Lkey:   c.nextKey,
		Rkey:   c.nextKey,
		Length: length,
	}
	c.registry[bufferAddr(buf)] = mr
	c.freeBytes -= length
	return mr, nil
}

// DestroyMR deregisters mr, returning its length to the free-byte
// counter.
func (c *Context) DestroyMR(mr *MemoryRegion) error {
	if mr == nil {
		return rerrors.New(rerrors.EInvalidArgument, op, nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	addr := bufferAddr(mr.Buffer)
	entry, ok := c.registry[addr]
	if !ok || entry.Lkey != mr.Lkey {
		return rerrors.New(rerrors.EInvalidArgument, op, nil)
	}
	delete(c.registry, addr)
	c.freeBytes += entry.Length
	return nil
}

// LiveMRCount reports the number of currently registered regions,
// used by tests to check the registry invariant.
func (c *Context) LiveMRCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.registry)
}

func bufferAddr(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}
