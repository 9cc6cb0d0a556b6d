package kvstore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"time"

	"github.com/kjk/kvfile/log"
	"github.com/kjk/kvfile/u"
)

// Frame is a record together with the offset at which it starts in the data file
type Frame struct {
	Rec *Record
	Off int64
}

// End returns the offset just past this frame
func (f Frame) End() int64 {
	return f.Off + f.Rec.Size()
}

// ReadFrames returns an iterator over frames in r, which holds size bytes
// of data file content starting at offset 0.
// Call the returned error function after iteration to check for errors.
// Iteration stops at the first corrupt frame.
func ReadFrames(r io.Reader, size int64) (iter.Seq[Frame], func() error) {
	var iterErr error

	seq := func(yield func(Frame) bool) {
		br := bufio.NewReader(r)
		var off int64
		for off < size {
			rec, n, err := readRecord(br, off, size-off)
			if err != nil {
				iterErr = err
				return
			}
			if !yield(Frame{Rec: rec, Off: off}) {
				return
			}
			off += n
		}
	}

	return seq, func() error { return iterErr }
}

// ReadFramesFromFile is like ReadFrames but reads the data file at path
func ReadFramesFromFile(path string) (iter.Seq[Frame], func() error) {
	var iterErr error

	seq := func(yield func(Frame) bool) {
		f, err := os.Open(path)
		if err != nil {
			iterErr = err
			return
		}
		defer f.Close()
		st, err := f.Stat()
		if err != nil {
			iterErr = err
			return
		}
		frames, errFn := ReadFrames(f, st.Size())
		for fr := range frames {
			if !yield(fr) {
				break
			}
		}
		iterErr = setCorruptPath(errFn(), path)
	}

	return seq, func() error { return iterErr }
}

func setCorruptPath(err error, path string) error {
	var cerr *CorruptRecordError
	if errors.As(err, &cerr) && cerr.Path == "" {
		cerr.Path = path
	}
	return err
}

type replayStats struct {
	frames     int
	tombstones int
}

// replay folds frames from f into idx. Later frames override earlier ones,
// a tombstone removes the key.
func replay(f *os.File, size int64, idx *Index, onRecord func(*Record, int64)) (replayStats, error) {
	var stats replayStats
	frames, errFn := ReadFrames(f, size)
	for fr := range frames {
		stats.frames++
		key := string(fr.Rec.Key)
		if fr.Rec.Tombstone {
			stats.tombstones++
			idx.Remove(key)
		} else {
			idx.Set(key, fr.Off)
		}
		if onRecord != nil {
			onRecord(fr.Rec, fr.Off)
		}
	}
	return stats, setCorruptPath(errFn(), f.Name())
}

// Load opens (creating if needed) the data file at path and rebuilds
// the index by replaying every frame in it.
// If the store was already loaded, the previous file is closed first.
// On error the store is left unloaded.
func (s *Store) Load(path string) error {
	if err := s.Close(); err != nil {
		return err
	}

	timeStart := time.Now()
	mode := s.FileMode
	if mode == 0 {
		mode = 0644
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, mode)
	if err != nil {
		return err
	}
	ok := false
	defer func() {
		if !ok {
			u.CloseNoError(f)
		}
	}()

	st, err := f.Stat()
	if err != nil {
		return err
	}
	size := st.Size()

	idx := NewIndex()
	stats, err := replay(f, size, idx, s.OnRecord)
	if err != nil {
		log.Errorf("kvstore.Load: replay of '%s' failed: %s\n", path, err)
		return err
	}

	ok = true
	s.path = path
	s.file = f
	s.size = size
	s.index = idx
	log.Verbosef("kvstore.Load: '%s', %d keys, %d frames (%d tombstones), %s in %s\n", path, idx.Len(), stats.frames, stats.tombstones, u.FormatSize(size), u.FormatDuration(time.Since(timeStart)))
	return nil
}

// Repair truncates the data file at path at the start of the first
// corrupt frame, e.g. one torn by an interrupted append.
// Everything from the first corrupt frame to the end of file is removed.
// Returns the number of bytes removed (0 if the file is fine).
// It must not be called on a file loaded by a Store.
func Repair(path string) (int64, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return 0, err
	}
	defer u.CloseNoError(f)

	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := st.Size()

	var validEnd int64
	frames, errFn := ReadFrames(f, size)
	for fr := range frames {
		validEnd = fr.End()
	}
	err = errFn()
	if err == nil {
		return 0, nil
	}
	var cerr *CorruptRecordError
	if !errors.As(err, &cerr) {
		return 0, err
	}
	if err = f.Truncate(validEnd); err != nil {
		return 0, fmt.Errorf("failed to truncate '%s' at %d: %w", path, validEnd, err)
	}
	if err = f.Sync(); err != nil {
		return 0, err
	}
	removed := size - validEnd
	log.Logf("kvstore.Repair: truncated '%s' at offset %d, removed %s\n", path, validEnd, u.FormatSize(removed))
	return removed, nil
}
