// Package source opens trip datasets from local files, standard streams and
// object storage, decompressing .gz and .zst transparently.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Stdio is the dataset name for stdin or stdout.
const Stdio = "-"

// Open opens a dataset for reading.
func Open(ctx context.Context, log *slog.Logger, uri string) (io.ReadCloser, error) {
	switch {
	case uri == Stdio:
		return io.NopCloser(os.Stdin), nil
	case strings.HasPrefix(uri, "s3://"):
		return openS3(ctx, log, uri)
	}

	path := strings.TrimPrefix(uri, "file://")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return decompress(path, f)
}

// Create opens a local dataset for writing, compressing by file extension.
func Create(path string) (io.WriteCloser, error) {
	if path == Stdio {
		return nopWriteCloser{os.Stdout}, nil
	}
	path = strings.TrimPrefix(path, "file://")
	if strings.HasPrefix(path, "s3://") {
		return nil, errors.New("writing to object storage is not supported")
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	switch {
	case strings.HasSuffix(path, ".gz"):
		gz := gzip.NewWriter(f)
		return &stackedWriteCloser{Writer: gz, closers: []io.Closer{gz, f}}, nil
	case strings.HasSuffix(path, ".zst"):
		zw, err := zstd.NewWriter(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		return &stackedWriteCloser{Writer: zw, closers: []io.Closer{zw, f}}, nil
	}
	return f, nil
}

func openS3(ctx context.Context, log *slog.Logger, uri string) (io.ReadCloser, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadS3ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 configuration: %w", err)
	}
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return OpenObject(ctx, log, client, bucket, key)
}

// OpenObject streams an object from S3.
func OpenObject(ctx context.Context, log *slog.Logger, client *s3.Client, bucket, key string) (io.ReadCloser, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	if out.ContentLength != nil {
		log.Debug("opened object", "bucket", bucket, "key", key, "bytes", *out.ContentLength)
	}
	return decompress(key, out.Body)
}

func decompress(name string, rc io.ReadCloser) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		gz, err := gzip.NewReader(rc)
		if err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("failed to open gzip stream %s: %w", name, err)
		}
		return &stackedReadCloser{Reader: gz, closers: []io.Closer{gz, rc}}, nil
	case strings.HasSuffix(name, ".zst"):
		zr, err := zstd.NewReader(rc)
		if err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("failed to open zstd stream %s: %w", name, err)
		}
		return &stackedReadCloser{Reader: zr, closers: []io.Closer{zr.IOReadCloser(), rc}}, nil
	}
	return rc, nil
}

type stackedReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReadCloser) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

type stackedWriteCloser struct {
	io.Writer
	closers []io.Closer
}

func (s *stackedWriteCloser) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
