// Package s3store stores chunk parts and finalized artifacts in an S3-compatible
// bucket fronted by a CDN.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/donmikel/chunkup/applications/server/domain"
)

const (
	// S3 rejects multipart parts smaller than 5 MiB except the last one.
	minPartSize     = 5 << 20
	DefaultPartSize = 16 << 20
)

type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
	PartSize        int64
}

// Storage implements interfaces.Storage and interfaces.Presigner.
type Storage struct {
	client   *s3.Client
	bucket   string
	partSize int64
	logger   log.Logger
}

func NewStorage(ctx context.Context, cfg Config, logger log.Logger) (*Storage, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewStorageWithClient(client, cfg.Bucket, cfg.PartSize, logger), nil
}

func NewStorageWithClient(client *s3.Client, bucket string, partSize int64, logger log.Logger) *Storage {
	if partSize < minPartSize {
		partSize = DefaultPartSize
	}

	return &Storage{
		client:   client,
		bucket:   bucket,
		partSize: partSize,
		logger:   logger,
	}
}

func (s *Storage) Name() string {
	return "s3"
}

// PutObject uploads body in a single request when it fits in one part and
// falls back to a multipart upload otherwise. Size may be -1 if unknown.
func (s *Storage) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) (domain.ObjectInfo, error) {
	if size >= 0 && size <= s.partSize {
		return s.putSingle(ctx, key, body, size, contentType)
	}

	return s.putMultipart(ctx, key, body, contentType)
}

func (s *Storage) putSingle(ctx context.Context, key string, body io.Reader, size int64, contentType string) (domain.ObjectInfo, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(body, data); err != nil {
		return domain.ObjectInfo{}, fmt.Errorf("read body for %s: %w", key, err)
	}

	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return domain.ObjectInfo{}, fmt.Errorf("put object %s: %w", key, err)
	}

	return domain.ObjectInfo{
		Key:           key,
		ContentLength: size,
		ContentType:   contentType,
		ETag:          trimETag(aws.ToString(out.ETag)),
		ModTime:       time.Now().UTC(),
	}, nil
}

func (s *Storage) putMultipart(ctx context.Context, key string, body io.Reader, contentType string) (info domain.ObjectInfo, err error) {
	createOut, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return domain.ObjectInfo{}, fmt.Errorf("create multipart upload for %s: %w", key, err)
	}

	uploadID := aws.ToString(createOut.UploadId)
	defer func() {
		if err != nil {
			level.Warn(s.logger).Log("msg", "aborting multipart upload", "key", key, "s3_upload_id", uploadID, "err", err)
			if _, abortErr := s.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
				Bucket:   aws.String(s.bucket),
				Key:      aws.String(key),
				UploadId: aws.String(uploadID),
			}); abortErr != nil {
				level.Error(s.logger).Log("msg", "failed to abort multipart upload", "s3_upload_id", uploadID, "err", abortErr)
			}
		}
	}()

	var (
		parts []types.CompletedPart
		total int64
		buf   = make([]byte, s.partSize)
	)
	for partNumber := int32(1); ; partNumber++ {
		n, readErr := io.ReadFull(body, buf)
		if readErr != nil && !errors.Is(readErr, io.ErrUnexpectedEOF) && !errors.Is(readErr, io.EOF) {
			return domain.ObjectInfo{}, fmt.Errorf("read part %d of %s: %w", partNumber, key, readErr)
		}
		if n == 0 && partNumber > 1 {
			break
		}

		upOut, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			UploadId:      aws.String(uploadID),
			PartNumber:    aws.Int32(partNumber),
			Body:          bytes.NewReader(buf[:n]),
			ContentLength: aws.Int64(int64(n)),
		})
		if err != nil {
			return domain.ObjectInfo{}, fmt.Errorf("upload part %d of %s: %w", partNumber, key, err)
		}

		parts = append(parts, types.CompletedPart{
			ETag:       upOut.ETag,
			PartNumber: aws.Int32(partNumber),
		})
		total += int64(n)

		if readErr != nil {
			break
		}
	}

	out, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return domain.ObjectInfo{}, fmt.Errorf("complete multipart upload for %s: %w", key, err)
	}

	level.Info(s.logger).Log("msg", "multipart upload completed",
		"key", key,
		"parts", len(parts),
		"size", humanize.IBytes(uint64(total)),
	)

	return domain.ObjectInfo{
		Key:           key,
		ContentLength: total,
		ContentType:   contentType,
		ETag:          trimETag(aws.ToString(out.ETag)),
		ModTime:       time.Now().UTC(),
	}, nil
}

func (s *Storage) GetObject(ctx context.Context, key string) (domain.Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return domain.Object{}, mapError(key, err)
	}

	return domain.Object{
		Info: domain.ObjectInfo{
			Key:           key,
			ContentLength: aws.ToInt64(out.ContentLength),
			ContentType:   aws.ToString(out.ContentType),
			ETag:          trimETag(aws.ToString(out.ETag)),
			ModTime:       aws.ToTime(out.LastModified),
		},
		Body: out.Body,
	}, nil
}

func (s *Storage) StatObject(ctx context.Context, key string) (domain.ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return domain.ObjectInfo{}, mapError(key, err)
	}

	return domain.ObjectInfo{
		Key:           key,
		ContentLength: aws.ToInt64(out.ContentLength),
		ContentType:   aws.ToString(out.ContentType),
		ETag:          trimETag(aws.ToString(out.ETag)),
		ModTime:       aws.ToTime(out.LastModified),
	}, nil
}

func (s *Storage) DeleteObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return mapError(key, err)
	}

	return nil
}

// PresignPut returns a URL the client can PUT a chunk to without going
// through the coordinator.
func (s *Storage) PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s3.NewPresignClient(s.client).PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign put %s: %w", key, err)
	}

	return req.URL, nil
}

func mapError(key string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", domain.ErrObjectNotFound, key)
	}

	return fmt.Errorf("s3 %s: %w", key, err)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return true
	}

	return false
}

func trimETag(etag string) string {
	if len(etag) >= 2 && etag[0] == '"' && etag[len(etag)-1] == '"' {
		return etag[1 : len(etag)-1]
	}

	return etag
}
