package kvstore

import (
	"fmt"

	"github.com/kjk/kvfile/u"
)

// Codec converts values of type V to and from their stored bytes.
// Both directions can fail, e.g. when stored bytes are not a valid encoding.
type Codec[V any] interface {
	Encode(v V) ([]byte, error)
	Decode(d []byte) (V, error)
}

// Typed provides access to a Store with values of type V
type Typed[V any] struct {
	Store *Store
	Codec Codec[V]
}

func NewTyped[V any](s *Store, c Codec[V]) *Typed[V] {
	u.PanicIf(s == nil, "store is nil")
	u.PanicIf(c == nil, "codec is nil")
	return &Typed[V]{
		Store: s,
		Codec: c,
	}
}

func (t *Typed[V]) Insert(key string, v V) error {
	d, err := t.Codec.Encode(v)
	if err != nil {
		return fmt.Errorf("failed to encode value of key '%s': %w", key, err)
	}
	return t.Store.Insert(key, d)
}

// Get returns *DecodeError if stored bytes can't be decoded
func (t *Typed[V]) Get(key string) (V, error) {
	var zero V
	d, err := t.Store.Get(key)
	if err != nil {
		return zero, err
	}
	v, err := t.Codec.Decode(d)
	if err != nil {
		return zero, &DecodeError{Key: key, Err: err}
	}
	return v, nil
}

// Delete deletes the key and returns its decoded value.
// If the stored value can't be decoded, returns *DecodeError and
// the key is not deleted.
func (t *Typed[V]) Delete(key string) (V, error) {
	v, err := t.Get(key)
	if err != nil {
		return v, err
	}
	if _, err = t.Store.Delete(key); err != nil {
		var zero V
		return zero, err
	}
	return v, nil
}
