package dicom

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

// Sink stores named output files. Names use "/" as separator.
type Sink interface {
	Put(ctx context.Context, name string, data []byte) error
	Delete(ctx context.Context, name string) error
	Close() error
}

// OpenSink returns a DirSink for plain paths and a BlobSink for URLs such
// as gs://bucket/prefix, file:///abs/dir or mem://.
func OpenSink(ctx context.Context, dest string) (Sink, error) {
	if dest == "" {
		return nil, errors.New("output destination is empty")
	}
	if !strings.Contains(dest, "://") {
		return NewDirSink(dest)
	}

	u, err := url.Parse(dest)
	if err != nil {
		return nil, fmt.Errorf("parse output URL: %w", err)
	}
	prefix := ""
	if u.Scheme == "gs" {
		prefix = strings.Trim(u.Path, "/")
		u.Path = ""
	}
	bucket, err := blob.OpenBucket(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", dest, err)
	}
	if prefix != "" {
		bucket = blob.PrefixedBucket(bucket, prefix+"/")
	}
	return NewBlobSink(bucket), nil
}

// DirSink writes files below a local directory.
type DirSink struct {
	root string
}

// NewDirSink creates root if needed.
func NewDirSink(root string) (*DirSink, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &DirSink{root: root}, nil
}

// Root returns the output directory.
func (s *DirSink) Root() string { return s.root }

// Put writes data to root/name.
func (s *DirSink) Put(_ context.Context, name string, data []byte) error {
	path := filepath.Join(s.root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Delete removes root/name and any directories left empty below root.
func (s *DirSink) Delete(_ context.Context, name string) error {
	path := filepath.Join(s.root, filepath.FromSlash(name))
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	root := filepath.Clean(s.root)
	for dir := filepath.Dir(path); dir != root && strings.HasPrefix(dir, root); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

// Close is a no-op.
func (s *DirSink) Close() error { return nil }

// BlobSink writes files to a gocloud bucket.
type BlobSink struct {
	bucket *blob.Bucket
}

// NewBlobSink wraps bucket. The sink owns it and closes it on Close.
func NewBlobSink(bucket *blob.Bucket) *BlobSink {
	return &BlobSink{bucket: bucket}
}

// Bucket returns the underlying bucket.
func (s *BlobSink) Bucket() *blob.Bucket { return s.bucket }

// Put writes data under key name.
func (s *BlobSink) Put(ctx context.Context, name string, data []byte) error {
	return s.bucket.WriteAll(ctx, name, data, &blob.WriterOptions{ContentType: "application/dicom"})
}

// Delete removes key name; missing keys are ignored.
func (s *BlobSink) Delete(ctx context.Context, name string) error {
	if err := s.bucket.Delete(ctx, name); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return err
	}
	return nil
}

// Close closes the bucket.
func (s *BlobSink) Close() error { return s.bucket.Close() }
