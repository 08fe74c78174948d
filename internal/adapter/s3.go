package adapter

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/edvin/backupd/internal/model"
)

// S3Destination stores artifacts in an S3 bucket (AWS or any S3-compatible
// endpoint such as Ceph RGW or MinIO). The credential URL selects the bucket
// and an optional key prefix: "s3://bucket/prefix". Login and password carry
// the access key pair; APIKey optionally carries a custom endpoint.
type S3Destination struct {
	logger zerolog.Logger
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Destination(creds model.Credentials, logger zerolog.Logger) (*S3Destination, error) {
	u, err := url.Parse(creds.URL)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return nil, fmt.Errorf("invalid s3 url %q, expected s3://bucket[/prefix]", creds.URL)
	}

	opts := s3.Options{
		Region:       "us-east-1",
		Credentials:  credentials.NewStaticCredentialsProvider(creds.Login, creds.Password, ""),
		UsePathStyle: true,
	}
	if creds.APIKey != "" {
		opts.BaseEndpoint = aws.String(creds.APIKey)
	}

	return &S3Destination{
		logger: logger.With().Str("component", "s3-destination").Logger(),
		client: s3.New(opts),
		bucket: u.Host,
		prefix: strings.Trim(u.Path, "/"),
	}, nil
}

func (d *S3Destination) key(name string) string {
	if d.prefix == "" {
		return name
	}
	return d.prefix + "/" + name
}

// UploadBackup writes the object under a provisional key first and promotes
// it with a server-side copy, so a concurrent listing never sees a partial
// object under the final name.
func (d *S3Destination) UploadBackup(ctx context.Context, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact %s: %w", localPath, err)
	}
	defer file.Close()

	finalKey := d.key(filepath.Base(localPath))
	tempKey := finalKey + provisionalSuffix

	_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(tempKey),
		Body:   file,
	})
	if err != nil {
		return "", transportErr("s3", "put "+tempKey, err)
	}

	_, err = d.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(d.bucket),
		Key:        aws.String(finalKey),
		CopySource: aws.String(d.bucket + "/" + tempKey),
	})
	if err != nil {
		_, _ = d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(d.bucket),
			Key:    aws.String(tempKey),
		})
		return "", transportErr("s3", "promote "+finalKey, err)
	}

	_, err = d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(tempKey),
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("key", tempKey).Msg("failed to remove provisional object")
	}

	d.logger.Info().Str("bucket", d.bucket).Str("key", finalKey).Msg("uploaded artifact")
	return finalKey, nil
}

func (d *S3Destination) ListBackups(ctx context.Context) ([]model.Artifact, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(d.bucket)}
	if d.prefix != "" {
		input.Prefix = aws.String(d.prefix + "/")
	}

	var artifacts []model.Artifact
	paginator := s3.NewListObjectsV2Paginator(d.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, transportErr("s3", "list objects", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := path.Base(key)
			if IsProvisional(name) {
				continue
			}

			var size int64
			if obj.Size != nil {
				size = *obj.Size
			}
			artifact, err := artifactFromEntry(name, key, size, aws.ToTime(obj.LastModified))
			if err != nil {
				return nil, transportErr("s3", "list objects", err)
			}
			artifacts = append(artifacts, artifact)
		}
	}
	return artifacts, nil
}

func (d *S3Destination) DeleteBackup(ctx context.Context, remotePath string) error {
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(remotePath),
	})
	if err != nil {
		return transportErr("s3", "delete "+remotePath, err)
	}
	d.logger.Info().Str("bucket", d.bucket).Str("key", remotePath).Msg("deleted artifact")
	return nil
}

func (d *S3Destination) GetBackup(ctx context.Context, remotePath, localPath string) (string, error) {
	if localPath == "" {
		localPath = filepath.Join(os.TempDir(), path.Base(remotePath))
	}

	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(remotePath),
	})
	if err != nil {
		return "", transportErr("s3", "get "+remotePath, err)
	}
	defer out.Body.Close()

	file, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("create local file %s: %w", localPath, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, out.Body); err != nil {
		os.Remove(localPath)
		return "", transportErr("s3", "download "+remotePath, err)
	}
	return localPath, nil
}

func (d *S3Destination) TestConnection(ctx context.Context) bool {
	_, err := d.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(d.bucket)})
	if err != nil {
		d.logger.Warn().Err(err).Str("bucket", d.bucket).Msg("s3 connection test failed")
		return false
	}
	return true
}
