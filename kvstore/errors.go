package kvstore

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyNotFound is returned by Get and Delete for keys that are not in the index
	ErrKeyNotFound = errors.New("key not found")

	// ErrCorruptRecord matches every *CorruptRecordError via errors.Is
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrNotLoaded is returned when using a Store before Load or after Close
	ErrNotLoaded = errors.New("store is not loaded")
)

// CorruptRecordError describes a frame whose declared lengths don't match
// the bytes available in the data file
type CorruptRecordError struct {
	Path string
	// offset of the start of the bad frame
	Offset int64
	Reason string
}

func (e *CorruptRecordError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("corrupt record at offset %d: %s", e.Offset, e.Reason)
	}
	return fmt.Sprintf("corrupt record in '%s' at offset %d: %s", e.Path, e.Offset, e.Reason)
}

func (e *CorruptRecordError) Is(target error) bool {
	return target == ErrCorruptRecord
}

func corruptf(off int64, format string, args ...any) *CorruptRecordError {
	return &CorruptRecordError{
		Offset: off,
		Reason: fmt.Sprintf(format, args...),
	}
}

// DecodeError is returned when a Codec fails to convert stored bytes
// back into a value
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode value of key '%s': %s", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
