package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/openpodcast/episode-ingest-worker/concurrency"
	"github.com/openpodcast/episode-ingest-worker/config"
	xerrors "github.com/openpodcast/episode-ingest-worker/errors"
)

// ObjectStore is the single S3 bucket artifact adapter of spec §4.2, §6.
// All requests are wrapped in the IO semaphore; Get and Put also retry via
// WithRetry, while GetRange, Exists and List make a single attempt. The teacher's equivalent (object_store_client.go) wrapped a multi-backend
// drivers.StorageDriver the same way; this narrows that pattern to direct
// aws-sdk-go S3 calls since the spec is S3-only (Open Question #1).
type ObjectStore struct {
	S3       *s3.S3
	Uploader *s3manager.Uploader
	Bucket   string
}

func NewObjectStore(sess *session.Session, bucket string) *ObjectStore {
	return &ObjectStore{
		S3:       s3.New(sess),
		Uploader: s3manager.NewUploader(sess, func(u *s3manager.Uploader) {
			u.PartSize = config.S3UploadPartSizeMB * 1024 * 1024
		}),
		Bucket:   bucket,
	}
}

// Get downloads the full object at key, retrying transient errors.
func (o *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	return concurrency.WithSemaphoreCtx(ctx, concurrency.IO, func() ([]byte, error) {
		return concurrency.WithRetry(func() ([]byte, error) {
			out, err := o.S3.GetObjectWithContext(ctx, &s3.GetObjectInput{
				Bucket: aws.String(o.Bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				return nil, translateS3Error(key, err)
			}
			defer out.Body.Close()
			return io.ReadAll(out.Body)
		}, concurrency.RetryOptions{
			Attempts:    3,
			BaseDelay:   500 * time.Millisecond,
			Multiplier:  2,
			IsRetryable: isRetryableS3Error,
		})
	})
}

// GetRange downloads a byte range (e.g. "bytes=0-1023") without
// downloading the whole object. Nothing in this repository calls it.
func (o *ObjectStore) GetRange(ctx context.Context, key, byteRange string) ([]byte, error) {
	return concurrency.WithSemaphoreCtx(ctx, concurrency.IO, func() ([]byte, error) {
		out, err := o.S3.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(o.Bucket),
			Key:    aws.String(key),
			Range:  aws.String(byteRange),
		})
		if err != nil {
			return nil, translateS3Error(key, err)
		}
		defer out.Body.Close()
		return io.ReadAll(out.Body)
	})
}

// Put uploads data to key using the multipart manager (§ DOMAIN STACK,
// s3manager), so artifacts larger than a single part upload in parallel
// chunks without buffering the whole file in memory.
func (o *ObjectStore) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	_, err := concurrency.WithSemaphoreCtx(ctx, concurrency.IO, func() (struct{}, error) {
		_, err := concurrency.WithRetry(func() (struct{}, error) {
			_, uerr := o.Uploader.UploadWithContext(ctx, &s3manager.UploadInput{
				Bucket:      aws.String(o.Bucket),
				Key:         aws.String(key),
				Body:        data,
				ContentType: aws.String(contentType),
			})
			if uerr != nil {
				return struct{}{}, translateS3Error(key, uerr)
			}
			return struct{}{}, nil
		}, concurrency.RetryOptions{
			Attempts:    3,
			BaseDelay:   500 * time.Millisecond,
			Multiplier:  2,
			IsRetryable: isRetryableS3Error,
		})
		return struct{}{}, err
	})
	return err
}

// PutBytes is a convenience wrapper for Put when the whole payload (a
// manifest, a thumbnail) is already in memory.
func (o *ObjectStore) PutBytes(ctx context.Context, key string, data []byte, contentType string) error {
	return o.Put(ctx, key, bytes.NewReader(data), contentType)
}

// Exists performs a HEAD request, used by the validator to check that an
// episode's videoLocation object is present.
func (o *ObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	return concurrency.WithSemaphoreCtx(ctx, concurrency.IO, func() (bool, error) {
		_, err := o.S3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(o.Bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			return true, nil
		}
		if isNotFound(err) {
			return false, nil
		}
		return false, translateS3Error(key, err)
	})
}

// List returns every key under prefix. Nothing in this repository calls it.
func (o *ObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	return concurrency.WithSemaphoreCtx(ctx, concurrency.IO, func() ([]string, error) {
		var keys []string
		err := o.S3.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
			Bucket: aws.String(o.Bucket),
			Prefix: aws.String(prefix),
		}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				keys = append(keys, aws.StringValue(obj.Key))
			}
			return true
		})
		if err != nil {
			return nil, translateS3Error(prefix, err)
		}
		return keys, nil
	})
}

// PresignGet returns a time-limited URL for key. Nothing in this repository
// calls it; the HTTP surface does not hand out artifact links.
func (o *ObjectStore) PresignGet(key string, expires time.Duration) (string, error) {
	req, _ := o.S3.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(o.Bucket),
		Key:    aws.String(key),
	})
	return req.Presign(expires)
}

func isNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		return aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound"
	}
	return false
}

func isRetryableS3Error(err error) bool {
	if xerrors.IsObjectNotFound(err) {
		return false
	}
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return false
		}
	}
	return true
}

func translateS3Error(key string, err error) error {
	if isNotFound(err) {
		return xerrors.NewObjectNotFoundError(fmt.Sprintf("key %q not found", key), err)
	}
	return fmt.Errorf("s3 operation on %q: %w", key, err)
}
