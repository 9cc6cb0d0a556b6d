package u

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

func getErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func BrCompressData(d []byte, level int) ([]byte, error) {
	var dst bytes.Buffer
	w := brotli.NewWriterLevel(&dst, level)
	_, err := w.Write(d)
	err2 := w.Close()
	if err = getErr(err, err2); err != nil {
		return nil, err
	}
	return dst.Bytes(), nil
}

func BrCompressDataDefault(d []byte) ([]byte, error) {
	return BrCompressData(d, brotli.DefaultCompression)
}

func BrDecompressData(d []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(d))
	return io.ReadAll(r)
}

func zstdNewWriter(dst io.Writer) (*zstd.Encoder, error) {
	// zstd.SpeedBestCompression is much slower and not much better
	return zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func ZstdCompressData(d []byte) ([]byte, error) {
	var dst bytes.Buffer
	w, err := zstdNewWriter(&dst)
	if err != nil {
		return nil, err
	}
	_, err = w.Write(d)
	err2 := w.Close()
	if err = getErr(err, err2); err != nil {
		return nil, err
	}
	return dst.Bytes(), nil
}

func ZstdDecompressData(d []byte) ([]byte, error) {
	zr, err := zstd.NewReader(bytes.NewReader(d))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// IsCompressedExt returns true if we know how to compress / decompress
// a file with this extension: .zst, .zstd, .br
func IsCompressedExt(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".zstd", ".br":
		return true
	}
	return false
}

// NewCompressWriter wraps w in a compressor picked based on extension of path
func NewCompressWriter(w io.Writer, path string) (io.WriteCloser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".zst", ".zstd":
		return zstdNewWriter(w)
	case ".br":
		return brotli.NewWriterLevel(w, brotli.DefaultCompression), nil
	}
	return nil, fmt.Errorf("unsupported compression extension '%s' in '%s'", ext, path)
}

type zstdReadCloser struct {
	zr *zstd.Decoder
}

func (rc *zstdReadCloser) Read(p []byte) (int, error) {
	return rc.zr.Read(p)
}

func (rc *zstdReadCloser) Close() error {
	rc.zr.Close()
	return nil
}

// NewDecompressReader wraps r in a decompressor picked based on extension of path
func NewDecompressReader(r io.Reader, path string) (io.ReadCloser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".zst", ".zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return &zstdReadCloser{zr: zr}, nil
	case ".br":
		return io.NopCloser(brotli.NewReader(r)), nil
	}
	return nil, fmt.Errorf("unsupported compression extension '%s' in '%s'", ext, path)
}

// CompressFile compresses src into dst. Compression is picked based
// on extension of dst. dst is removed on error.
func CompressFile(dst string, src string) error {
	fSrc, err := os.Open(src)
	if err != nil {
		return err
	}
	defer fSrc.Close()
	fDst, err := os.Create(dst)
	if err != nil {
		return err
	}
	w, err := NewCompressWriter(fDst, dst)
	if err != nil {
		fDst.Close()
		os.Remove(dst)
		return err
	}
	_, err = io.Copy(w, fSrc)
	err2 := w.Close()
	err3 := fDst.Close()

	err = getErr(err, err2, err3)
	if err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}
