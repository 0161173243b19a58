package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Portabase/agent/internal/api"
	"github.com/Portabase/agent/internal/logger"
	"github.com/Portabase/agent/internal/stream"
)

// partSize is the bytes uploaded per multipart part
const partSize = 100 * 1024 * 1024

// defaultRegion applies when the channel config leaves region unset
const defaultRegion = "eu-central-3"

// S3Config is the channel config for S3-compatible storage
type S3Config struct {
	AccessKey   string `json:"access_key"`
	SecretKey   string `json:"secret_key"`
	BucketName  string `json:"bucket_name"`
	EndPointURL string `json:"end_point_url"`
	SSL         bool   `json:"ssl"`
	Region      string `json:"region"`
}

// S3 ships archives to any S3-compatible object store
type S3 struct {
	log logger.Logger
}

func (s *S3) Name() string { return ProviderS3 }

func (s *S3) Upload(ctx context.Context, channel api.DatabaseStorage, req UploadRequest) (*UploadResult, error) {
	var cfg S3Config
	if err := DecodeConfig(channel.Config, &cfg); err != nil {
		return nil, err
	}

	client, err := s.newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(req.Archive)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}
	archiveSize := info.Size()

	src, err := stream.Build(req.Archive, req.Encrypt, req.MasterKeyB64)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	fileName := RemoteFileName(req.Encrypt)
	remotePath := RemoteFilePath(fileName)

	s.log.Info("Starting multipart upload", "bucket", cfg.BucketName, "key", remotePath)

	if err := s.uploadMultipart(ctx, client, cfg.BucketName, remotePath, src.Reader); err != nil {
		return nil, err
	}

	if src.Sidecar != nil {
		if err := s.putSidecar(ctx, client, cfg.BucketName, remotePath, src.Sidecar); err != nil {
			return nil, err
		}
	}

	return &UploadResult{RemotePath: remotePath, Size: archiveSize}, nil
}

func (s *S3) newClient(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	if cfg.BucketName == "" || cfg.EndPointURL == "" {
		return nil, fmt.Errorf("incomplete s3 config: bucket_name and end_point_url are required")
	}

	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	scheme := "http"
	if cfg.SSL {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s", scheme, cfg.EndPointURL)

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	}), nil
}

// uploadMultipart streams r into the object in fixed-size parts.
// Any failure aborts the multipart upload so no orphan parts linger.
func (s *S3) uploadMultipart(ctx context.Context, client *s3.Client, bucket, key string, r io.Reader) error {
	create, err := client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to create multipart upload: %w", err)
	}
	uploadID := aws.ToString(create.UploadId)
	if uploadID == "" {
		return fmt.Errorf("no upload id returned")
	}

	abort := func() {
		_, abortErr := client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(bucket),
			Key:      aws.String(key),
			UploadId: aws.String(uploadID),
		})
		if abortErr != nil {
			s.log.Warn("Failed to abort multipart upload", "key", key, "error", abortErr)
		}
	}

	var completed []types.CompletedPart
	partNumber := int32(1)
	buf := make([]byte, partSize)

	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			part, err := client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:     aws.String(bucket),
				Key:        aws.String(key),
				UploadId:   aws.String(uploadID),
				PartNumber: aws.Int32(partNumber),
				Body:       bytes.NewReader(buf[:n]),
			})
			if err != nil {
				abort()
				return fmt.Errorf("failed to upload part %d: %w", partNumber, err)
			}

			completed = append(completed, types.CompletedPart{
				PartNumber: aws.Int32(partNumber),
				ETag:       part.ETag,
			})
			s.log.Debug("Uploaded part", "part", partNumber, "bytes", n)
			partNumber++
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			abort()
			return fmt.Errorf("stream error during upload: %w", readErr)
		}
	}

	if len(completed) == 0 {
		abort()
		return fmt.Errorf("no parts were uploaded")
	}

	_, err = client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		abort()
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return nil
}

// putSidecar stores the cipher parameters next to the artifact
func (s *S3) putSidecar(ctx context.Context, client *s3.Client, bucket, key string, sidecar *stream.Sidecar) error {
	body, err := sidecar.TOML()
	if err != nil {
		return err
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key + ".meta"),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/toml"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload metadata sidecar: %w", err)
	}
	return nil
}
