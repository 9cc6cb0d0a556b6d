package kvstore

import (
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/kjk/kvfile/log"
	"github.com/kjk/kvfile/require"
)

func TestMain(m *testing.M) {
	log.Output = io.Discard
	os.Exit(m.Run())
}

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.kv")
	s := New()
	err := s.Load(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func verifyKeys(t *testing.T, s *Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key_test%d", i)
		v, err := s.Get(key)
		require.NoError(t, err, key)
		require.Equal(t, fmt.Sprintf("test%d", i), string(v))
	}
}

func TestStoreScenario(t *testing.T) {
	s, path := openTestStore(t)
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key_test%d", i)
		err := s.Insert(key, []byte(fmt.Sprintf("test%d", i)))
		require.NoError(t, err)
		v, err := s.Get(key)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("test%d", i), string(v))
	}
	verifyKeys(t, s, 100)

	v, err := s.Delete("key_test0")
	require.NoError(t, err)
	require.Equal(t, "test0", string(v))
	_, err = s.Get("key_test0")
	require.ErrorIs(t, err, ErrKeyNotFound)
	require.Equal(t, 99, s.Len())

	err = s.Insert("key_test0", []byte("test0"))
	require.NoError(t, err)
	verifyKeys(t, s, 100)

	// same thing after re-loading from disk
	require.NoError(t, s.Close())
	s2 := New()
	require.NoError(t, s2.Load(path))
	defer s2.Close()
	require.Equal(t, 100, s2.Len())
	verifyKeys(t, s2, 100)

	v, err = s2.Delete("key_test0")
	require.NoError(t, err)
	require.Equal(t, "test0", string(v))
	_, err = s2.Get("key_test0")
	require.ErrorIs(t, err, ErrKeyNotFound)
	require.NoError(t, s2.Insert("key_test0", []byte("test0")))
	verifyKeys(t, s2, 100)
}

func TestStoreOverwrite(t *testing.T) {
	s, path := openTestStore(t)
	require.NoError(t, s.Insert("k", []byte("first")))
	sizeAfterFirst := s.Size()
	require.NoError(t, s.Insert("k", []byte("second")))
	v, err := s.Get("k")
	require.NoError(t, err)
	require.Equal(t, "second", string(v))
	require.Equal(t, 1, s.Len())
	// old value is still in the file
	require.True(t, s.Size() > sizeAfterFirst)

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	v, err = s2.Get("k")
	require.NoError(t, err)
	require.Equal(t, "second", string(v))
}

func TestStoreDelete(t *testing.T) {
	s, path := openTestStore(t)

	_, err := s.Delete("missing")
	require.ErrorIs(t, err, ErrKeyNotFound)
	// deleting missing key doesn't write a tombstone
	require.Equal(t, int64(0), s.Size())

	require.NoError(t, s.Insert("k", []byte("v1")))
	sizeBefore := s.Size()
	v, err := s.Delete("k")
	require.NoError(t, err)
	require.Equal(t, "v1", string(v))
	tombstone := &Record{Tombstone: true, Key: []byte("k")}
	require.Equal(t, sizeBefore+tombstone.Size(), s.Size())
	require.False(t, s.Has("k"))
	_, err = s.Get("k")
	require.ErrorIs(t, err, ErrKeyNotFound)

	_, err = s.Delete("k")
	require.ErrorIs(t, err, ErrKeyNotFound)
	require.Equal(t, sizeBefore+tombstone.Size(), s.Size())

	require.NoError(t, s.Insert("k", []byte("v2")))
	v, err = s.Get("k")
	require.NoError(t, err)
	require.Equal(t, "v2", string(v))

	// delete survives reload
	_, err = s.Delete("k")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	require.False(t, s2.Has("k"))
	require.Equal(t, 0, s2.Len())
}

func TestStoreEmptyKeyAndValue(t *testing.T) {
	s, path := openTestStore(t)
	require.NoError(t, s.Insert("", []byte("value of empty key")))
	require.NoError(t, s.Insert("empty", []byte{}))
	require.NoError(t, s.Insert("nil", nil))

	check := func(s *Store) {
		v, err := s.Get("")
		require.NoError(t, err)
		require.Equal(t, "value of empty key", string(v))
		v, err = s.Get("empty")
		require.NoError(t, err)
		require.Equal(t, []byte{}, v)
		v, err = s.Get("nil")
		require.NoError(t, err)
		require.Len(t, v, 0)
	}
	check(s)
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	require.Equal(t, 3, s2.Len())
	check(s2)
}

func TestStoreReloadConsistency(t *testing.T) {
	s, path := openTestStore(t)
	rng := rand.New(rand.NewSource(42))
	expected := map[string]string{}
	for i := 0; i < 2000; i++ {
		key := fmt.Sprintf("k%d", rng.Intn(150))
		switch rng.Intn(3) {
		case 0:
			_, err := s.Delete(key)
			if _, ok := expected[key]; ok {
				require.NoError(t, err)
				delete(expected, key)
			} else {
				require.ErrorIs(t, err, ErrKeyNotFound)
			}
		default:
			v := fmt.Sprintf("v%d-%d", i, rng.Intn(1000))
			require.NoError(t, s.Insert(key, []byte(v)))
			expected[key] = v
		}
	}

	verify := func(s *Store) {
		require.Equal(t, len(expected), s.Len())
		for k, exp := range expected {
			v, err := s.Get(k)
			require.NoError(t, err)
			require.Equal(t, exp, string(v))
		}
	}
	verify(s)
	keysBefore := s.Keys()
	sizeBefore := s.Size()
	require.NoError(t, s.Close())

	require.NoError(t, s.Load(path))
	verify(s)
	require.Equal(t, keysBefore, s.Keys())
	require.Equal(t, sizeBefore, s.Size())
}

func TestStoreTruncatedTail(t *testing.T) {
	s, path := openTestStore(t)
	require.NoError(t, s.Insert("a", []byte("1")))
	require.NoError(t, s.Insert("b", []byte("2")))
	validSize := s.Size()
	require.NoError(t, s.Insert("c", []byte("a longer value")))
	fullSize := s.Size()
	require.NoError(t, s.Close())

	// simulate append interrupted in the middle of the last frame
	require.NoError(t, os.Truncate(path, fullSize-3))

	err := s.Load(path)
	require.ErrorIs(t, err, ErrCorruptRecord)
	var cerr *CorruptRecordError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, validSize, cerr.Offset)
	require.Equal(t, path, cerr.Path)

	// failed load leaves the store unusable, not half loaded
	require.Equal(t, "", s.Path())
	require.Equal(t, 0, s.Len())
	_, err = s.Get("a")
	require.ErrorIs(t, err, ErrNotLoaded)
	require.ErrorIs(t, s.Insert("d", []byte("4")), ErrNotLoaded)

	// loading again fails the same way
	err = s.Load(path)
	require.ErrorIs(t, err, ErrCorruptRecord)

	removed, err := Repair(path)
	require.NoError(t, err)
	require.Equal(t, fullSize-3-validSize, removed)

	require.NoError(t, s.Load(path))
	require.Equal(t, []string{"a", "b"}, s.Keys())
	require.Equal(t, validSize, s.Size())
	require.NoError(t, s.Insert("c", []byte("3")))
	v, err := s.Get("c")
	require.NoError(t, err)
	require.Equal(t, "3", string(v))

	// nothing to repair in a valid file
	require.NoError(t, s.Close())
	removed, err = Repair(path)
	require.NoError(t, err)
	require.Equal(t, int64(0), removed)
}

func TestStoreTruncatedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.kv")
	d := AppendRecord(nil, &Record{Key: []byte("a"), Value: []byte("1")})
	validSize := int64(len(d))
	// only 2 bytes of the next frame's header
	d = append(d, 0, 5)
	require.NoError(t, os.WriteFile(path, d, 0644))

	s := New()
	err := s.Load(path)
	var cerr *CorruptRecordError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, validSize, cerr.Offset)
}

func TestStoreNotLoaded(t *testing.T) {
	s := New()
	_, err := s.Get("k")
	require.ErrorIs(t, err, ErrNotLoaded)
	_, err = s.Delete("k")
	require.ErrorIs(t, err, ErrNotLoaded)
	require.ErrorIs(t, s.Insert("k", nil), ErrNotLoaded)
	require.ErrorIs(t, s.Backup(filepath.Join(t.TempDir(), "b.kv")), ErrNotLoaded)
	require.False(t, s.Has("k"))
	require.Equal(t, 0, s.Len())
	require.Nil(t, s.Keys())
	require.NoError(t, s.Close())

	var nilStore *Store
	require.NoError(t, nilStore.Close())
	require.Equal(t, "", nilStore.Path())
	require.Equal(t, int64(0), nilStore.Size())
	require.Equal(t, 0, nilStore.Len())
	require.False(t, nilStore.Has("k"))
	_, err = nilStore.Get("k")
	require.ErrorIs(t, err, ErrNotLoaded)
}

func TestStoreLoadErrors(t *testing.T) {
	s := New()
	err := s.Load(filepath.Join(t.TempDir(), "no", "such", "dir", "data.kv"))
	require.ErrorIs(t, err, fs.ErrNotExist)
	require.Equal(t, "", s.Path())

	// a directory is not a data file
	err = s.Load(t.TempDir())
	require.Error(t, err)
}

func TestStoreLoadTwice(t *testing.T) {
	s, path := openTestStore(t)
	require.NoError(t, s.Insert("a", []byte("1")))

	path2 := filepath.Join(t.TempDir(), "other.kv")
	require.NoError(t, s.Load(path2))
	require.Equal(t, path2, s.Path())
	require.Equal(t, 0, s.Len())
	require.NoError(t, s.Insert("b", []byte("2")))

	require.NoError(t, s.Load(path))
	require.Equal(t, []string{"a"}, s.Keys())
}

func TestStoreIndependentInstances(t *testing.T) {
	s1, _ := openTestStore(t)
	s2, _ := openTestStore(t)
	require.NoError(t, s1.Insert("k", []byte("1")))
	require.NoError(t, s2.Insert("k", []byte("2")))
	v, err := s1.Get("k")
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
	v, err = s2.Get("k")
	require.NoError(t, err)
	require.Equal(t, "2", string(v))
}

func TestStoreKeys(t *testing.T) {
	s, _ := openTestStore(t)
	for _, k := range []string{"user:2", "post:1", "user:1", "user:10", "users", "a"} {
		require.NoError(t, s.Insert(k, []byte(k)))
	}
	_, err := s.Delete("post:1")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "user:1", "user:10", "user:2", "users"}, s.Keys())
	require.Equal(t, []string{"user:1", "user:10", "user:2"}, s.KeysWithPrefix("user:"))
	require.Nil(t, s.KeysWithPrefix("post:"))
	require.True(t, s.Has("users"))
	require.False(t, s.Has("post:1"))
}

func TestStoreOnRecord(t *testing.T) {
	s, path := openTestStore(t)
	require.NoError(t, s.Insert("a", []byte("1")))
	require.NoError(t, s.Insert("b", []byte("2")))
	_, err := s.Delete("a")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	var offsets []int64
	var tombstones int
	s2 := New()
	s2.OnRecord = func(rec *Record, off int64) {
		offsets = append(offsets, off)
		if rec.Tombstone {
			tombstones++
		}
	}
	require.NoError(t, s2.Load(path))
	defer s2.Close()
	require.Len(t, offsets, 3)
	require.Equal(t, 1, tombstones)
	// offsets are strictly increasing
	for i := 1; i < len(offsets); i++ {
		require.True(t, offsets[i] > offsets[i-1])
	}
	require.Equal(t, int64(0), offsets[0])
}

func TestStoreSize(t *testing.T) {
	s, path := openTestStore(t)
	require.NoError(t, s.Insert("k", []byte("v")))
	// flag + key len + key + value len + value
	require.Equal(t, int64(1+4+1+4+1), s.Size())
	require.Equal(t, s.Size(), fileSize(t, path))
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	st, err := os.Stat(path)
	require.NoError(t, err)
	return st.Size()
}

func TestStoreGetCorruptIndex(t *testing.T) {
	s, _ := openTestStore(t)
	require.NoError(t, s.Insert("a", []byte("1")))
	// index entry pointing at another key's frame
	s.index.Set("b", 0)
	_, err := s.Get("b")
	require.ErrorIs(t, err, ErrCorruptRecord)

	// index entry pointing in the middle of a frame
	s.index.Set("c", 3)
	_, err = s.Get("c")
	require.ErrorIs(t, err, ErrCorruptRecord)
}

func TestStoreFailedAppend(t *testing.T) {
	s, _ := openTestStore(t)
	require.NoError(t, s.Insert("a", []byte("1")))
	size := s.Size()

	// make writes fail
	require.NoError(t, s.file.Close())
	err := s.Insert("b", []byte("2"))
	require.Error(t, err)
	require.False(t, s.Has("b"))
	require.Equal(t, size, s.Size())

	_, err = s.Delete("a")
	require.Error(t, err)
	require.True(t, s.Has("a"))
}

func TestStoreNoSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.kv")
	s := &Store{NoSync: true}
	require.NoError(t, s.Load(path))
	for i := 0; i < 500; i++ {
		require.NoError(t, s.Insert(fmt.Sprintf("key_test%d", i), []byte(fmt.Sprintf("test%d", i))))
	}
	require.NoError(t, s.Close())
	require.NoError(t, s.Load(path))
	defer s.Close()
	verifyKeys(t, s, 500)
}

func TestStoreFileMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.kv")
	s := &Store{FileMode: 0600}
	require.NoError(t, s.Load(path))
	defer s.Close()
	st, err := os.Stat(path)
	require.NoError(t, err)
	// umask can only remove bits
	require.Equal(t, os.FileMode(0), st.Mode().Perm()&0077)
}

func TestStoreBackup(t *testing.T) {
	s, _ := openTestStore(t)
	for i := 0; i < 20; i++ {
		require.NoError(t, s.Insert(fmt.Sprintf("key_test%d", i), []byte(fmt.Sprintf("test%d", i))))
	}
	_, err := s.Delete("key_test5")
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "backup.kv")
	require.NoError(t, s.Backup(dst))
	require.Equal(t, s.Size(), fileSize(t, dst))

	b, err := Open(dst)
	require.NoError(t, err)
	defer b.Close()
	require.Equal(t, s.Keys(), b.Keys())
	_, err = b.Get("key_test5")
	require.ErrorIs(t, err, ErrKeyNotFound)
	v, err := b.Get("key_test19")
	require.NoError(t, err)
	require.Equal(t, "test19", string(v))
}

func TestReadFramesFromFile(t *testing.T) {
	s, path := openTestStore(t)
	require.NoError(t, s.Insert("a", []byte("1")))
	require.NoError(t, s.Insert("b", []byte("22")))
	_, err := s.Delete("a")
	require.NoError(t, err)

	var got []string
	var prevEnd int64
	frames, errFn := ReadFramesFromFile(path)
	for fr := range frames {
		require.Equal(t, prevEnd, fr.Off)
		prevEnd = fr.End()
		got = append(got, fmt.Sprintf("%v:%s:%s", fr.Rec.Tombstone, fr.Rec.Key, fr.Rec.Value))
	}
	require.NoError(t, errFn())
	require.Equal(t, []string{"false:a:1", "false:b:22", "true:a:"}, got)
	require.Equal(t, s.Size(), prevEnd)

	frames, errFn = ReadFramesFromFile(filepath.Join(t.TempDir(), "missing.kv"))
	for range frames {
	}
	require.ErrorIs(t, errFn(), fs.ErrNotExist)
}
