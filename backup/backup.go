// Package backup ships snapshots of a kvstore data file to and from
// S3-compatible storage (S3, Cloudflare R2, Backblaze B2, minio).
//
// Snapshots are compressed based on extension of the remote path:
// ".zst" / ".zstd" for zstd, ".br" for brotli. Other extensions are
// stored uncompressed.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kjk/kvfile/atomicfile"
	"github.com/kjk/kvfile/kvstore"
	"github.com/kjk/kvfile/log"
	"github.com/kjk/kvfile/u"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Access   string
	Secret   string
	Bucket   string
	Endpoint string
	Region   string
	// if true, uses http instead of https. For local minio in tests
	Insecure     bool
	RequestTrace io.Writer
}

func (c *Config) validate() error {
	if c == nil {
		return errors.New("must provide config")
	}
	var missing []string
	if c.Access == "" {
		missing = append(missing, "Access")
	}
	if c.Secret == "" {
		missing = append(missing, "Secret")
	}
	if c.Bucket == "" {
		missing = append(missing, "Bucket")
	}
	if c.Endpoint == "" {
		missing = append(missing, "Endpoint")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing fields in config: %s", strings.Join(missing, ", "))
	}
	return nil
}

type Client struct {
	Client *minio.Client
	Bucket string
}

// New creates a client and verifies that the bucket exists
func New(ctx context.Context, config *Config) (*Client, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	c := config
	mc, err := minio.New(c.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Access, c.Secret, ""),
		Region: c.Region,
		Secure: !c.Insecure,
	})
	if err != nil {
		return nil, err
	}
	if c.RequestTrace != nil {
		mc.TraceOn(c.RequestTrace)
	}
	found, err := mc.BucketExists(ctx, c.Bucket)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("bucket '%s' doesn't exist", c.Bucket)
	}
	return &Client{
		Client: mc,
		Bucket: c.Bucket,
	}, nil
}

// CompressSnapshot compresses data file srcPath into dstPath.
// Compression is picked based on extension of dstPath.
// If it's not a compression extension, the file is copied as is.
func CompressSnapshot(dstPath string, srcPath string) error {
	if !u.IsCompressedExt(dstPath) {
		return copyFileAtomically(dstPath, srcPath, nil)
	}
	timeStart := time.Now()
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return err
	}
	if err := u.CompressFile(dstPath, srcPath); err != nil {
		return err
	}
	log.Verbosef("backup.CompressSnapshot: '%s' (%s) => '%s' (%s) in %s\n", srcPath, u.FormatSize(u.FileSize(srcPath)), dstPath, u.FormatSize(u.FileSize(dstPath)), u.FormatDuration(time.Since(timeStart)))
	return nil
}

// DecompressSnapshot is the reverse of CompressSnapshot. dstPath is
// only created if decompression succeeds.
func DecompressSnapshot(dstPath string, srcPath string) error {
	wrap := func(r io.Reader) (io.ReadCloser, error) {
		return io.NopCloser(r), nil
	}
	if u.IsCompressedExt(srcPath) {
		wrap = func(r io.Reader) (io.ReadCloser, error) {
			return u.NewDecompressReader(r, srcPath)
		}
	}
	return copyFileAtomically(dstPath, srcPath, wrap)
}

func copyFileAtomically(dstPath string, srcPath string, wrap func(io.Reader) (io.ReadCloser, error)) error {
	fSrc, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer fSrc.Close()
	var r io.Reader = fSrc
	if wrap != nil {
		rc, err := wrap(fSrc)
		if err != nil {
			return err
		}
		defer rc.Close()
		r = rc
	}
	return writeAtomically(dstPath, r)
}

func writeAtomically(dstPath string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return err
	}
	f, err := atomicfile.New(dstPath)
	if err != nil {
		return err
	}
	defer f.RemoveIfNotClosed()
	if _, err = io.Copy(f, r); err != nil {
		return err
	}
	return f.Close()
}

// UploadStore uploads a snapshot of s as remotePath
func (c *Client) UploadStore(ctx context.Context, s *kvstore.Store, remotePath string) (minio.UploadInfo, error) {
	var info minio.UploadInfo
	timeStart := time.Now()
	dir, err := os.MkdirTemp("", "kvfile-backup")
	if err != nil {
		return info, err
	}
	defer os.RemoveAll(dir)

	snapshotPath := filepath.Join(dir, "snapshot.kv")
	if err = s.Backup(snapshotPath); err != nil {
		return info, err
	}
	uploadPath := filepath.Join(dir, "upload"+filepath.Ext(remotePath))
	if err = CompressSnapshot(uploadPath, snapshotPath); err != nil {
		return info, err
	}
	opts := minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	}
	info, err = c.Client.FPutObject(ctx, c.Bucket, remotePath, uploadPath, opts)
	if err != nil {
		return info, err
	}
	log.Verbosef("backup.UploadStore: uploaded '%s' (%s, compressed: %s) as '%s' in %s\n", s.Path(), u.FormatSize(s.Size()), u.FormatSize(info.Size), remotePath, u.FormatDuration(time.Since(timeStart)))
	return info, nil
}

// DownloadStore downloads a snapshot uploaded with UploadStore and
// saves it, decompressed, as dstPath.
// It doesn't verify the content, load it with kvstore.Store.Load to do that.
func (c *Client) DownloadStore(ctx context.Context, remotePath string, dstPath string) error {
	obj, err := c.Client.GetObject(ctx, c.Bucket, remotePath, minio.GetObjectOptions{})
	if err != nil {
		return err
	}
	defer obj.Close()

	var r io.Reader = obj
	if u.IsCompressedExt(remotePath) {
		rc, err := u.NewDecompressReader(obj, remotePath)
		if err != nil {
			return err
		}
		defer rc.Close()
		r = rc
	}
	return writeAtomically(dstPath, r)
}

// Exists returns true if remotePath exists in the bucket
func (c *Client) Exists(ctx context.Context, remotePath string) bool {
	_, err := c.Client.StatObject(ctx, c.Bucket, remotePath, minio.StatObjectOptions{})
	return err == nil
}

// List returns names of snapshots with a given prefix
func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	// stops ListObjects goroutine if we return early
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	opts := minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}
	var res []string
	for obj := range c.Client.ListObjects(ctx, c.Bucket, opts) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		res = append(res, obj.Key)
	}
	return res, nil
}

func (c *Client) Remove(ctx context.Context, remotePath string) error {
	return c.Client.RemoveObject(ctx, c.Bucket, remotePath, minio.RemoveObjectOptions{})
}
