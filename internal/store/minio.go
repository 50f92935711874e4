package store

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/autopeer-io/podstate/pkg/log"
	"github.com/autopeer-io/podstate/pkg/options"
)

// MinIO stores the snapshot as one object in an S3-compatible bucket.
type MinIO struct {
	client     *minio.Client
	bucketName string
	objectName string
}

// NewMinIO creates the client and makes sure the bucket exists.
func NewMinIO(ctx context.Context, opts *options.S3Options, key string) (*MinIO, error) {
	minioOpts := &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	}
	if opts.InsecureSkipVerify {
		minioOpts.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	client, err := minio.New(opts.Endpoint, minioOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	m := &MinIO{
		client:     client,
		bucketName: opts.BucketName,
		objectName: opts.ObjectPrefix + key + ".json",
	}
	if err := m.checkBucket(ctx, opts.Region); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MinIO) checkBucket(ctx context.Context, region string) error {
	exists, err := m.client.BucketExists(ctx, m.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		log.Info("Bucket does not exist, creating...", "bucket", m.bucketName)
		if err := m.client.MakeBucket(ctx, m.bucketName, minio.MakeBucketOptions{Region: region}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (m *MinIO) Read(ctx context.Context) ([]byte, bool, error) {
	obj, err := m.client.GetObject(ctx, m.bucketName, m.objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("get object %s: %w", m.objectName, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read object %s: %w", m.objectName, err)
	}
	return data, true, nil
}

func (m *MinIO) Write(ctx context.Context, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucketName, m.objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("put object %s: %w", m.objectName, err)
	}
	return nil
}

func (m *MinIO) Ping(ctx context.Context) error {
	_, err := m.client.BucketExists(ctx, m.bucketName)
	return err
}

func (m *MinIO) Close() error { return nil }

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}
