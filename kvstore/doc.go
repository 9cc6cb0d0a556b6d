// Package kvstore implements a persistent key-value store backed by a single
// append-only data file.
//
// # Data File
//
// The data file is a sequence of frames:
//
//	[tombstone: 1 byte][key_len: u32][key][value_len: u32][value]
//
// Every Insert appends a frame, every Delete appends a tombstone frame.
// Nothing is ever modified in place so superseded values stay in the file.
// There's no compaction: the file only grows.
//
// # Index
//
// The store keeps an in-memory index that maps a key to the offset of
// its latest frame. The index is not persisted: Load rebuilds it by
// replaying all frames from the start of the file.
//
// If the last frame is torn (e.g. the process died in the middle of an append),
// Load fails with an error matching ErrCorruptRecord. Use Repair to cut off
// the torn frame.
//
// # Basic Usage
//
//	s := kvstore.New()
//	err := s.Load("data.kv")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	err = s.Insert("name", []byte("John"))
//	v, err := s.Get("name")
//	v, err = s.Delete("name")
//
// # Typed Values
//
// Typed wraps a Store with a Codec that converts values to and from bytes:
//
//	users := kvstore.NewTyped[User](s, codec.JSON[User]{})
//	err = users.Insert("john", User{Name: "John"})
//	u, err := users.Get("john")
//
// If stored bytes can't be decoded, Get returns *DecodeError.
//
// # Thread Safety
//
// The Store is not safe for concurrent use. Callers must serialize access.
package kvstore
