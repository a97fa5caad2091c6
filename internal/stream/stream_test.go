package stream

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"rdmaxfer/internal/rdevice"
	"rdmaxfer/internal/rerrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// transferScenario drives one sender/receiver pair end to end over a
// net.Pipe and returns the received byte count.
func transferScenario(t *testing.T, blockSizeKiB, blockCount uint32, fileSize int) (received uint64, sendProgress, recvProgress []uint64) {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	senderDevice, err := rdevice.Init(0, 1, rdevice.PoolUnbounded)
	require.NoError(t, err)
	receiverDevice, err := rdevice.Init(0, 1, rdevice.PoolUnbounded)
	require.NoError(t, err)

	srcDir := t.TempDir()
	dstDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "payload.bin")

	data := make([]byte, fileSize)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(srcPath, data, 0o644))

	sender := NewSender(senderDevice, clientConn, blockSizeKiB, blockCount)
	receiver := NewReceiver(receiverDevice, serverConn, blockSizeKiB, blockCount, func() (string, error) {
		return dstDir, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	var sendErr, recvErr error
	go func() {
		defer wg.Done()
		sendErr = sender.Bringup(ctx)
	}()
	go func() {
		defer wg.Done()
		recvErr = receiver.Bringup(ctx)
	}()
	wg.Wait()
	require.NoError(t, sendErr)
	require.NoError(t, recvErr)
	defer sender.Close()
	defer receiver.Close()

	wg.Add(2)
	go func() {
		defer wg.Done()
		sendErr = sender.PostSendFile(ctx, srcPath, "payload.bin", func(done, total uint64) {
			sendProgress = append(sendProgress, done)
		})
	}()
	go func() {
		defer wg.Done()
		recvErr = receiver.PostRecvFile(ctx, nil, func(done, total uint64) {
			recvProgress = append(recvProgress, done)
			received = done
		})
	}()
	wg.Wait()

	require.NoError(t, sendErr)
	require.NoError(t, recvErr)

	got, err := os.ReadFile(filepath.Join(dstDir, "payload.bin"))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	return received, sendProgress, recvProgress
}

func TestHappyPath1MiBDefaultConfig(t *testing.T) {
	const fileSize = 1048576
	received, sendProgress, _ := transferScenario(t, 64, 16, fileSize)
	assert.EqualValues(t, fileSize, received)
	assert.Len(t, sendProgress, 16)
}

func TestUnderSlotFile100Bytes(t *testing.T) {
	received, sendProgress, _ := transferScenario(t, 4, 4, 100)
	assert.EqualValues(t, 100, received)
	require.Len(t, sendProgress, 1)
	assert.EqualValues(t, 100, sendProgress[0])
}

func TestAckFlowControlledLongTransfer(t *testing.T) {
	const fileSize = 1048576
	received, sendProgress, _ := transferScenario(t, 4, 2, fileSize)
	assert.EqualValues(t, fileSize, received)
	assert.Len(t, sendProgress, 256)
}

func TestZeroLengthFile(t *testing.T) {
	received, sendProgress, recvProgress := transferScenario(t, 64, 16, 0)
	assert.EqualValues(t, 0, received)
	assert.Empty(t, sendProgress)
	assert.Empty(t, recvProgress)
}

func TestSenderAdoptsReceiverBlockSize(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	senderDevice, err := rdevice.Init(0, 1, rdevice.PoolUnbounded)
	require.NoError(t, err)
	receiverDevice, err := rdevice.Init(0, 1, rdevice.PoolUnbounded)
	require.NoError(t, err)

	sender := NewSender(senderDevice, clientConn, 999, 16)
	receiver := NewReceiver(receiverDevice, serverConn, 32, 16, func() (string, error) { return t.TempDir(), nil })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	var sendErr, recvErr error
	go func() { defer wg.Done(); sendErr = sender.Bringup(ctx) }()
	go func() { defer wg.Done(); recvErr = receiver.Bringup(ctx) }()
	wg.Wait()
	require.NoError(t, sendErr)
	require.NoError(t, recvErr)
	defer sender.Close()
	defer receiver.Close()

	assert.EqualValues(t, 32, sender.blockSizeKiB)
}

func TestCancelledSendReturnsCancelled(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	senderDevice, err := rdevice.Init(0, 1, rdevice.PoolUnbounded)
	require.NoError(t, err)
	receiverDevice, err := rdevice.Init(0, 1, rdevice.PoolUnbounded)
	require.NoError(t, err)

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "big.bin")
	require.NoError(t, os.WriteFile(srcPath, make([]byte, 1<<20), 0o644))

	sender := NewSender(senderDevice, clientConn, 4, 2)
	receiver := NewReceiver(receiverDevice, serverConn, 4, 2, func() (string, error) { return t.TempDir(), nil })

	bringupCtx, bringupCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer bringupCancel()

	var wg sync.WaitGroup
	wg.Add(2)
	var sendErr, recvErr error
	go func() { defer wg.Done(); sendErr = sender.Bringup(bringupCtx) }()
	go func() { defer wg.Done(); recvErr = receiver.Bringup(bringupCtx) }()
	wg.Wait()
	require.NoError(t, sendErr)
	require.NoError(t, recvErr)
	defer sender.Close()

	sendCtx, cancel := context.WithCancel(context.Background())
	recvCtx, recvCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer recvCancel()

	var sendErr2, recvErr2 error
	wg.Add(2)
	go func() {
		defer wg.Done()
		sendErr2 = sender.PostSendFile(sendCtx, srcPath, "big.bin", func(done, total uint64) {
			if done > 0 {
				cancel()
			}
		})
		clientConn.Close()
	}()
	go func() {
		defer wg.Done()
		recvErr2 = receiver.PostRecvFile(recvCtx, nil, nil)
	}()
	wg.Wait()

	require.Error(t, sendErr2)
	assert.True(t, rerrors.Is(sendErr2, rerrors.ECancelled))
	assert.Error(t, recvErr2)

	receiver.Close()
}
