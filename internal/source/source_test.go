package source_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/docker/go-connections/nat"
	"github.com/klauspost/compress/gzip"
	"github.com/smartlogix/tripwarehouse/internal/source"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/minio"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const payload = "trip_uuid,route_type\ntrip-1,Carting\ntrip-2,Ftl\n"

func TestSource_CreateOpen(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"cleaned.csv", "cleaned.csv.gz", "cleaned.csv.zst"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), name)
			w, err := source.Create(path)
			require.NoError(t, err)
			_, err = io.WriteString(w, payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			if name == "cleaned.csv" {
				require.Equal(t, payload, string(raw))
			} else {
				require.NotEqual(t, payload, string(raw))
			}

			r, err := source.Open(context.Background(), newTestLogger(), "file://"+path)
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			require.Equal(t, payload, string(got))
		})
	}
}

func TestSource_Open_Errors(t *testing.T) {
	t.Parallel()

	_, err := source.Open(context.Background(), newTestLogger(), filepath.Join(t.TempDir(), "missing.csv"))
	require.ErrorContains(t, err, "failed to open")

	notGzip := filepath.Join(t.TempDir(), "plain.csv.gz")
	require.NoError(t, os.WriteFile(notGzip, []byte(payload), 0o644))
	_, err = source.Open(context.Background(), newTestLogger(), notGzip)
	require.ErrorContains(t, err, "failed to open gzip stream")

	_, err = source.Create("s3://bucket/out.csv")
	require.ErrorContains(t, err, "not supported")
}

func TestSource_ParseS3URI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		uri        string
		bucket     string
		key        string
		wantErrMsg string
	}{
		{uri: "s3://raw/2018/delhivery.csv.gz", bucket: "raw", key: "2018/delhivery.csv.gz"},
		{uri: "s3://raw/x", bucket: "raw", key: "x"},
		{uri: "s3:///x", wantErrMsg: "must include a bucket"},
		{uri: "s3://raw", wantErrMsg: "must include an object key"},
		{uri: "file:///tmp/x", wantErrMsg: "not an s3 URI"},
	}
	for _, tt := range tests {
		bucket, key, err := source.ParseS3URI(tt.uri)
		if tt.wantErrMsg != "" {
			require.ErrorContains(t, err, tt.wantErrMsg, tt.uri)
			continue
		}
		require.NoError(t, err, tt.uri)
		require.Equal(t, tt.bucket, bucket)
		require.Equal(t, tt.key, key)
	}
}

func clearS3Env(t *testing.T) {
	for _, k := range []string{
		"S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY",
		"S3_ENDPOINT", "AWS_ENDPOINT_URL", "S3_REGION", "AWS_REGION", "S3_USE_SSL",
	} {
		t.Setenv(k, "")
	}
}

func TestSource_LoadS3ConfigFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		clearS3Env(t)
		cfg, err := source.LoadS3ConfigFromEnv()
		require.NoError(t, err)
		require.Equal(t, &source.S3Config{Region: "us-east-1", UseSSL: true}, cfg)
	})

	t.Run("minio", func(t *testing.T) {
		clearS3Env(t)
		t.Setenv("S3_ACCESS_KEY_ID", "minioadmin")
		t.Setenv("AWS_SECRET_ACCESS_KEY", "minioadmin")
		t.Setenv("S3_ENDPOINT", "localhost:9000")
		t.Setenv("AWS_REGION", "ap-south-1")
		cfg, err := source.LoadS3ConfigFromEnv()
		require.NoError(t, err)
		require.Equal(t, &source.S3Config{
			AccessKeyID:     "minioadmin",
			SecretAccessKey: "minioadmin",
			Endpoint:        "localhost:9000",
			Region:          "ap-south-1",
			UseSSL:          false,
		}, cfg)
	})

	t.Run("minio without credentials", func(t *testing.T) {
		clearS3Env(t)
		t.Setenv("S3_ENDPOINT", "localhost:9000")
		_, err := source.LoadS3ConfigFromEnv()
		require.ErrorContains(t, err, "MinIO requires")
	})

	t.Run("secret without key", func(t *testing.T) {
		clearS3Env(t)
		t.Setenv("S3_SECRET_ACCESS_KEY", "secret")
		_, err := source.LoadS3ConfigFromEnv()
		require.ErrorContains(t, err, "is missing")
	})
}

func TestSource_OpenObject_MinIO(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	minioContainer, err := minio.Run(ctx, "minio/minio:latest",
		minio.WithUsername("minioadmin"),
		minio.WithPassword("minioadmin"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := minioContainer.Terminate(context.Background()); err != nil {
			t.Logf("failed to cleanup minio container: %v", err)
		}
	})

	host, err := minioContainer.Host(ctx)
	require.NoError(t, err)
	if host == "localhost" {
		host = "127.0.0.1"
	}
	port, err := minioContainer.MappedPort(ctx, nat.Port("9000/tcp"))
	require.NoError(t, err)

	client, err := source.NewS3Client(ctx, &source.S3Config{
		AccessKeyID:     minioContainer.Username,
		SecretAccessKey: minioContainer.Password,
		Endpoint:        fmt.Sprintf("%s:%s", host, port.Port()),
		Region:          "us-east-1",
	})
	require.NoError(t, err)

	bucket := "raw-trips"
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &bucket})
	require.NoError(t, err)

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err = io.WriteString(zw, payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	for key, body := range map[string][]byte{
		"2018/cleaned.csv":    []byte(payload),
		"2018/cleaned.csv.gz": gz.Bytes(),
	} {
		_, err = client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: &bucket,
			Key:    &key,
			Body:   bytes.NewReader(body),
		})
		require.NoError(t, err)

		r, err := source.OpenObject(ctx, newTestLogger(), client, bucket, key)
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		require.NoError(t, r.Close())
		require.Equal(t, payload, string(got), key)
	}

	_, err = source.OpenObject(ctx, newTestLogger(), client, bucket, "missing.csv")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "failed to get"))
}
