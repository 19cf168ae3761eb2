package bin

import "encoding/binary"

// PutU32BE writes a uint32 in big-endian order.
func PutU32BE(dst []byte, v uint32) { binary.BigEndian.PutUint32(dst, v) }

// PutU64BE writes a uint64 in big-endian order.
func PutU64BE(dst []byte, v uint64) { binary.BigEndian.PutUint64(dst, v) }

// U32BE reads a uint32 in big-endian order.
func U32BE(src []byte) uint32 { return binary.BigEndian.Uint32(src) }

// U64BE reads a uint64 in big-endian order.
func U64BE(src []byte) uint64 { return binary.BigEndian.Uint64(src) }
