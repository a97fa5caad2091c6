package wire

import (
	"io"
	"net"

	"rdmaxfer/internal/rerrors"
)

const syncOp = "wire.sync"

// SyncBytes is the bring-up rendezvous primitive (spec.md §4.3 step 2
// and 4): write local concurrently with reading len(local) bytes back
// from conn, so both peers can send-then-receive without deadlocking
// on a small TCP send buffer.
func SyncBytes(conn net.Conn, local []byte) ([]byte, error) {
	errCh := make(chan error, 1)
	go func() {
		_, err := conn.Write(local)
		errCh <- err
	}()

	remote := make([]byte, len(local))
	_, readErr := io.ReadFull(conn, remote)
	writeErr := <-errCh

	if writeErr != nil {
		return nil, rerrors.New(rerrors.ESyncFailure, syncOp, writeErr)
	}
	if readErr != nil {
		return nil, rerrors.New(rerrors.ESyncFailure, syncOp, readErr)
	}
	return remote, nil
}

// SyncReadiness performs the one-byte "R"/"Y" rendezvous, failing with
// ENotReady (not ESyncFailure) when the peer doesn't answer with the
// same token, per spec.md §4.3 step 2's "server not online" framing.
func SyncReadiness(conn net.Conn, token byte) error {
	remote, err := SyncBytes(conn, []byte{token})
	if err != nil {
		return rerrors.New(rerrors.ENotReady, syncOp, err)
	}
	if remote[0] != token {
		return rerrors.New(rerrors.ENotReady, syncOp, nil)
	}
	return nil
}

// SyncQPInfo exchanges local's packed QPInfo for the peer's.
func SyncQPInfo(conn net.Conn, local QPInfo) (QPInfo, error) {
	remoteBuf, err := SyncBytes(conn, local.MarshalBinary())
	if err != nil {
		return QPInfo{}, err
	}
	remote, err := UnmarshalQPInfo(remoteBuf)
	if err != nil {
		return QPInfo{}, rerrors.New(rerrors.ESyncFailure, syncOp, err)
	}
	return remote, nil
}

// SyncFileInfo exchanges local's packed FileInfo for the peer's
// (spec.md §4.4 step 2, §4.5 step 2): both sides send their own
// FileInfo and read the other's back, same simultaneous-exchange
// shape as SyncQPInfo.
func SyncFileInfo(conn net.Conn, local FileInfo) (FileInfo, error) {
	remoteBuf, err := SyncBytes(conn, local.MarshalBinary())
	if err != nil {
		return FileInfo{}, err
	}
	remote, err := UnmarshalFileInfo(remoteBuf)
	if err != nil {
		return FileInfo{}, rerrors.New(rerrors.ESyncFailure, syncOp, err)
	}
	return remote, nil
}

// SendFileInfo writes a FileInfo with a short-write check.
func SendFileInfo(conn net.Conn, info FileInfo) error {
	buf := info.MarshalBinary()
	n, err := conn.Write(buf)
	if err != nil {
		return rerrors.New(rerrors.ESyncFailure, syncOp, err)
	}
	if n != len(buf) {
		return rerrors.New(rerrors.ESyncFailure, syncOp, io.ErrShortWrite)
	}
	return nil
}

// RecvFileInfo reads a FileInfo with a short-read check.
func RecvFileInfo(conn net.Conn) (FileInfo, error) {
	buf := make([]byte, FileInfoSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return FileInfo{}, rerrors.New(rerrors.ESyncFailure, syncOp, err)
	}
	return UnmarshalFileInfo(buf)
}
