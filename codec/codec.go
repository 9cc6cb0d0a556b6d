// Package codec has kvstore.Codec implementations for common value types.
package codec

import (
	"encoding/json"
	"errors"
	"unicode/utf8"

	"github.com/kjk/kvfile/kvstore"
	"github.com/kjk/kvfile/u"
	"github.com/tidwall/pretty"
	"github.com/toon-format/toon-go"
)

var (
	ErrInvalidUTF8 = errors.New("invalid utf-8")

	_ kvstore.Codec[string] = String{}
	_ kvstore.Codec[[]byte] = Bytes{}
	_ kvstore.Codec[any]    = JSON[any]{}
	_ kvstore.Codec[any]    = Toon[any]{}
	_ kvstore.Codec[string] = Zstd[string]{}
	_ kvstore.Codec[string] = Brotli[string]{}
	_ kvstore.Codec[string] = Func[string]{}
)

// String stores strings as their utf-8 bytes.
// Decode fails on bytes that are not valid utf-8.
type String struct{}

func (String) Encode(s string) ([]byte, error) {
	return []byte(s), nil
}

func (String) Decode(d []byte) (string, error) {
	if !utf8.Valid(d) {
		return "", ErrInvalidUTF8
	}
	return string(d), nil
}

// Bytes stores values as is
type Bytes struct{}

func (Bytes) Encode(d []byte) ([]byte, error) {
	return d, nil
}

func (Bytes) Decode(d []byte) ([]byte, error) {
	return d, nil
}

// JSON stores values as JSON
type JSON[V any] struct {
	// if true, stores indented JSON which is easier to read
	// when looking at the data file
	Pretty bool
}

func (c JSON[V]) Encode(v V) ([]byte, error) {
	d, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if c.Pretty {
		d = pretty.Pretty(d)
	}
	return d, nil
}

func (JSON[V]) Decode(d []byte) (V, error) {
	var v V
	err := json.Unmarshal(d, &v)
	return v, err
}

// Toon stores values in TOON format (https://toonformat.dev), a more compact
// alternative to JSON
type Toon[V any] struct{}

func (Toon[V]) Encode(v V) ([]byte, error) {
	return toon.Marshal(v)
}

func (Toon[V]) Decode(d []byte) (V, error) {
	var v V
	err := toon.Unmarshal(d, &v)
	return v, err
}

// Zstd compresses bytes produced by Inner with zstd
type Zstd[V any] struct {
	Inner kvstore.Codec[V]
}

func (c Zstd[V]) Encode(v V) ([]byte, error) {
	d, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	return u.ZstdCompressData(d)
}

func (c Zstd[V]) Decode(d []byte) (V, error) {
	d, err := u.ZstdDecompressData(d)
	if err != nil {
		var zero V
		return zero, err
	}
	return c.Inner.Decode(d)
}

// Brotli compresses bytes produced by Inner with brotli
type Brotli[V any] struct {
	Inner kvstore.Codec[V]
	// brotli compression level, 0 means default level
	Level int
}

func (c Brotli[V]) Encode(v V) ([]byte, error) {
	d, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	if c.Level == 0 {
		return u.BrCompressDataDefault(d)
	}
	return u.BrCompressData(d, c.Level)
}

func (c Brotli[V]) Decode(d []byte) (V, error) {
	d, err := u.BrDecompressData(d)
	if err != nil {
		var zero V
		return zero, err
	}
	return c.Inner.Decode(d)
}

// Func is a codec from a pair of functions
type Func[V any] struct {
	EncodeFn func(V) ([]byte, error)
	DecodeFn func([]byte) (V, error)
}

func (c Func[V]) Encode(v V) ([]byte, error) {
	return c.EncodeFn(v)
}

func (c Func[V]) Decode(d []byte) (V, error) {
	return c.DecodeFn(d)
}
