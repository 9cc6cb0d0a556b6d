package kvstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

/*
Format of a single frame in the data file:

	[tombstone: 1 byte][key_len: u32][key][value_len: u32][value]

Lengths are little-endian. A tombstone frame has value_len 0 and no value bytes.
There is no file header and no checksum: the data file is just a sequence
of frames.
*/

const (
	flagLive      byte = 0
	flagTombstone byte = 1

	lenSize = 4
	// tombstone flag + key length
	recordHeaderSize = 1 + lenSize

	// MaxKeySize and MaxValueSize are limited by the u32 length fields
	MaxKeySize   = math.MaxUint32
	MaxValueSize = math.MaxUint32
)

// Record is a decoded frame
type Record struct {
	Tombstone bool
	Key       []byte
	// always empty for tombstones
	Value []byte
}

// Size returns the size of the encoded frame in bytes
func (r *Record) Size() int64 {
	n := int64(recordHeaderSize + len(r.Key) + lenSize)
	if !r.Tombstone {
		n += int64(len(r.Value))
	}
	return n
}

func checkRecordSizes(key, value []byte) error {
	if uint64(len(key)) > MaxKeySize {
		return fmt.Errorf("key too large: %d bytes, max is %d", len(key), uint64(MaxKeySize))
	}
	if uint64(len(value)) > MaxValueSize {
		return fmt.Errorf("value too large: %d bytes, max is %d", len(value), uint64(MaxValueSize))
	}
	return nil
}

// AppendRecord appends encoded rec to dst and returns the extended slice.
// For tombstones rec.Value is ignored.
func AppendRecord(dst []byte, rec *Record) []byte {
	flag := flagLive
	if rec.Tombstone {
		flag = flagTombstone
	}
	dst = append(dst, flag)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(rec.Key)))
	dst = append(dst, rec.Key...)
	if rec.Tombstone {
		return binary.LittleEndian.AppendUint32(dst, 0)
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(rec.Value)))
	return append(dst, rec.Value...)
}

// DecodeRecord decodes a frame from the beginning of d.
// Returns the record and the size of the frame. Trailing bytes after
// the frame are ignored.
func DecodeRecord(d []byte) (*Record, int, error) {
	rec, n, err := readRecord(bytes.NewReader(d), 0, int64(len(d)))
	return rec, int(n), err
}

// readRecord reads one frame starting at file offset off.
// remaining is the number of bytes from off to the end of data. Every declared
// length is checked against it before we allocate, so a garbage length
// can't make us allocate gigabytes.
func readRecord(r io.Reader, off int64, remaining int64) (*Record, int64, error) {
	if remaining < recordHeaderSize {
		return nil, 0, corruptf(off, "truncated header: need %d bytes, have %d", recordHeaderSize, remaining)
	}
	var hdr [recordHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, 0, readErr(off, err)
	}
	flag := hdr[0]
	if flag != flagLive && flag != flagTombstone {
		return nil, 0, corruptf(off, "invalid tombstone flag 0x%02x", flag)
	}
	n := int64(recordHeaderSize)

	keyLen := int64(binary.LittleEndian.Uint32(hdr[1:]))
	if keyLen+lenSize > remaining-n {
		return nil, 0, corruptf(off, "key length %d exceeds remaining %d bytes", keyLen, remaining-n)
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, 0, readErr(off, err)
	}
	n += keyLen

	var lenBuf [lenSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, 0, readErr(off, err)
	}
	n += lenSize

	valLen := int64(binary.LittleEndian.Uint32(lenBuf[:]))
	rec := &Record{
		Tombstone: flag == flagTombstone,
		Key:       key,
	}
	if rec.Tombstone {
		if valLen != 0 {
			return nil, 0, corruptf(off, "tombstone with value length %d", valLen)
		}
		rec.Value = []byte{}
		return rec, n, nil
	}
	if valLen > remaining-n {
		return nil, 0, corruptf(off, "value length %d exceeds remaining %d bytes", valLen, remaining-n)
	}
	rec.Value = make([]byte, valLen)
	if _, err := io.ReadFull(r, rec.Value); err != nil {
		return nil, 0, readErr(off, err)
	}
	n += valLen
	return rec, n, nil
}

// the file can shrink under us between Stat() and read. That's still
// a frame that is shorter than it claims to be.
func readErr(off int64, err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return corruptf(off, "unexpected end of data")
	}
	return fmt.Errorf("failed to read record at offset %d: %w", off, err)
}
