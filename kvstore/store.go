package kvstore

import (
	"fmt"
	"io"
	"os"

	"github.com/kjk/kvfile/atomicfile"
	"github.com/kjk/kvfile/log"
)

// Store is a key-value store backed by a single append-only data file.
// Set options before calling Load.
type Store struct {
	// if true, won't call file.Sync() after every append
	// much faster but a crash can lose the most recent writes
	NoSync bool

	// permissions used when Load creates the data file, 0644 if not set
	FileMode os.FileMode

	// if set, called for every frame replayed by Load, in file order
	OnRecord func(rec *Record, off int64)

	path  string
	file  *os.File
	size  int64 // end of file, where the next frame goes
	index *Index
}

// New returns a store not yet bound to a file. Call Load before using it.
func New() *Store {
	return &Store{}
}

// Open is New followed by Load
func Open(path string) (*Store, error) {
	s := New()
	if err := s.Load(path); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) isLoaded() bool {
	return s != nil && s.file != nil
}

// Path returns the path of the data file, empty if not loaded
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Size returns size of the data file in bytes, including superseded frames
func (s *Store) Size() int64 {
	if s == nil {
		return 0
	}
	return s.size
}

// Close closes the data file. It's safe to call multiple times and on nil Store.
func (s *Store) Close() error {
	if !s.isLoaded() {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.index = nil
	s.size = 0
	s.path = ""
	return err
}

// append writes a frame at the end of the file. If the write fails we try
// to cut off whatever part of the frame made it to disk so that the file
// stays a sequence of valid frames.
func (s *Store) append(rec *Record) (int64, error) {
	frame := AppendRecord(nil, rec)
	off := s.size
	_, err := s.file.WriteAt(frame, off)
	if err == nil && !s.NoSync {
		err = s.file.Sync()
	}
	if err != nil {
		if errTrunc := s.file.Truncate(off); errTrunc != nil {
			log.Errorf("kvstore: failed to roll back partial append at offset %d of '%s': %s\n", off, s.path, errTrunc)
		}
		return 0, fmt.Errorf("failed to append record to '%s': %w", s.path, err)
	}
	s.size = off + int64(len(frame))
	return off, nil
}

// Insert sets the value of a key. Previous value, if any, stays in the file
// but is no longer reachable.
func (s *Store) Insert(key string, value []byte) error {
	if !s.isLoaded() {
		return ErrNotLoaded
	}
	if err := checkRecordSizes([]byte(key), value); err != nil {
		return err
	}
	rec := &Record{
		Key:   []byte(key),
		Value: value,
	}
	off, err := s.append(rec)
	if err != nil {
		return err
	}
	s.index.Set(key, off)
	return nil
}

// readAt reads the frame at off and checks it's the live frame for key
func (s *Store) readAt(key string, off int64) (*Record, error) {
	remaining := s.size - off
	r := io.NewSectionReader(s.file, off, remaining)
	rec, _, err := readRecord(r, off, remaining)
	if err != nil {
		return nil, setCorruptPath(err, s.path)
	}
	if string(rec.Key) != key {
		return nil, &CorruptRecordError{Path: s.path, Offset: off, Reason: fmt.Sprintf("expected key '%s', got '%s'", key, rec.Key)}
	}
	if rec.Tombstone {
		return nil, &CorruptRecordError{Path: s.path, Offset: off, Reason: fmt.Sprintf("index points to a tombstone for key '%s'", key)}
	}
	return rec, nil
}

// Get returns the current value of a key or ErrKeyNotFound
func (s *Store) Get(key string) ([]byte, error) {
	if !s.isLoaded() {
		return nil, ErrNotLoaded
	}
	off, ok := s.index.Get(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	rec, err := s.readAt(key, off)
	if err != nil {
		return nil, err
	}
	return rec.Value, nil
}

// Delete removes a key and returns its value.
// Deleting a key that doesn't exist returns ErrKeyNotFound and doesn't write anything.
func (s *Store) Delete(key string) ([]byte, error) {
	v, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	rec := &Record{
		Tombstone: true,
		Key:       []byte(key),
	}
	if _, err = s.append(rec); err != nil {
		return nil, err
	}
	s.index.Remove(key)
	return v, nil
}

// Has returns true if key is present
func (s *Store) Has(key string) bool {
	if !s.isLoaded() {
		return false
	}
	_, ok := s.index.Get(key)
	return ok
}

// Len returns number of keys
func (s *Store) Len() int {
	if !s.isLoaded() {
		return 0
	}
	return s.index.Len()
}

// Keys returns all keys, sorted
func (s *Store) Keys() []string {
	if !s.isLoaded() {
		return nil
	}
	return s.index.Keys()
}

// KeysWithPrefix returns keys starting with prefix, sorted
func (s *Store) KeysWithPrefix(prefix string) []string {
	if !s.isLoaded() {
		return nil
	}
	return s.index.KeysWithPrefix(prefix)
}

// Backup writes a copy of the data file to dstPath.
// dstPath is only created if the whole copy succeeds.
func (s *Store) Backup(dstPath string) error {
	if !s.isLoaded() {
		return ErrNotLoaded
	}
	f, err := atomicfile.New(dstPath)
	if err != nil {
		return err
	}
	defer f.RemoveIfNotClosed()

	r := io.NewSectionReader(s.file, 0, s.size)
	if _, err = io.Copy(f, r); err != nil {
		return err
	}
	return f.Close()
}
