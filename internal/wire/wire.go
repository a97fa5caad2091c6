// Package wire packs and unpacks the fixed-layout structures exchanged
// on the TCP side channel during bring-up (spec.md §3, §6).
package wire

import (
	"encoding/binary"
	"fmt"
)

// QPInfo is exchanged once during bring-up. Multi-byte integers are
// network byte order; GID bytes are copied as-is.
type QPInfo struct {
	LID       uint16
	QPNum     uint32
	BlockNum  uint32
	BlockSize uint32
	GID       [16]byte
}

// QPInfoSize is the packed wire size of QPInfo: the sum of its field
// widths (2 + 4 + 4 + 4 + 16). spec.md §6 prose says "28 bytes" but
// its own §3 field table sums to 30; the field table drives the
// testable invariants, so it is authoritative here.
const QPInfoSize = 2 + 4 + 4 + 4 + 16

// MarshalBinary packs q in network byte order.
func (q QPInfo) MarshalBinary() []byte {
	buf := make([]byte, QPInfoSize)
	binary.BigEndian.PutUint16(buf[0:2], q.LID)
	binary.BigEndian.PutUint32(buf[2:6], q.QPNum)
	binary.BigEndian.PutUint32(buf[6:10], q.BlockNum)
	binary.BigEndian.PutUint32(buf[10:14], q.BlockSize)
	copy(buf[14:30], q.GID[:])
	return buf
}

// UnmarshalQPInfo unpacks a QPInfo from exactly QPInfoSize bytes.
func UnmarshalQPInfo(buf []byte) (QPInfo, error) {
	if len(buf) != QPInfoSize {
		return QPInfo{}, fmt.Errorf("wire: QPInfo expects %d bytes, got %d", QPInfoSize, len(buf))
	}
	var q QPInfo
	q.LID = binary.BigEndian.Uint16(buf[0:2])
	q.QPNum = binary.BigEndian.Uint32(buf[2:6])
	q.BlockNum = binary.BigEndian.Uint32(buf[6:10])
	q.BlockSize = binary.BigEndian.Uint32(buf[10:14])
	copy(q.GID[:], buf[14:30])
	return q, nil
}

// FileInfoPathSize is the fixed width of the NUL-padded path field.
const FileInfoPathSize = 256

// FileInfoSize is the packed wire size of FileInfo.
const FileInfoSize = FileInfoPathSize + 8

// ReadyToReceive is the literal token sent by the receiver in place of
// a real file path to signal transfer readiness.
const ReadyToReceive = "READY_TO_RECEIVE"

// FileInfo is exchanged once after the QP reaches RTS.
type FileInfo struct {
	FilePath string // NUL-padded to FileInfoPathSize on the wire
	FileSize uint64 // native byte order, must match on both peers
}

// MarshalBinary packs f. FilePath longer than FileInfoPathSize-1 is
// truncated to leave room for the NUL terminator implied by padding.
func (f FileInfo) MarshalBinary() []byte {
	buf := make([]byte, FileInfoSize)
	path := f.FilePath
	if len(path) > FileInfoPathSize-1 {
		path = path[:FileInfoPathSize-1]
	}
	copy(buf[0:FileInfoPathSize], path)
	binary.NativeEndian.PutUint64(buf[FileInfoPathSize:FileInfoPathSize+8], f.FileSize)
	return buf
}

// UnmarshalFileInfo unpacks a FileInfo from exactly FileInfoSize
// bytes.
func UnmarshalFileInfo(buf []byte) (FileInfo, error) {
	if len(buf) != FileInfoSize {
		return FileInfo{}, fmt.Errorf("wire: FileInfo expects %d bytes, got %d", FileInfoSize, len(buf))
	}
	var f FileInfo
	nul := FileInfoPathSize
	for i, b := range buf[:FileInfoPathSize] {
		if b == 0 {
			nul = i
			break
		}
	}
	f.FilePath = string(buf[:nul])
	f.FileSize = binary.NativeEndian.Uint64(buf[FileInfoPathSize : FileInfoPathSize+8])
	return f, nil
}
