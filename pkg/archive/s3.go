package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Archive implements Archive using AWS S3 (or an S3-compatible
// endpoint such as MinIO). Blobs are stored keyed by their SHA-256
// digest so repeated checkpoints over identical data never re-upload.
type S3Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Config configures an S3Archive.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional custom endpoint for MinIO/LocalStack
	Prefix   string
}

// NewS3Archive creates an S3-backed Archive.
func NewS3Archive(ctx context.Context, cfg S3Config) (*S3Archive, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}

	return &S3Archive{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (a *S3Archive) Store(ctx context.Context, data []byte) (string, error) {
	ref, key := refAndKey(a.prefix, data)

	if _, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(key)}); err == nil {
		return ref, nil
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("archive: s3 put failed: %w", err)
	}
	return ref, nil
}

func (a *S3Archive) Get(ctx context.Context, ref string) ([]byte, error) {
	rawHash, err := stripRefPrefix(ref)
	if err != nil {
		return nil, err
	}
	key := a.prefix + rawHash + ".bundle"

	result, err := a.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("archive: s3 get failed for %s: %w", ref, err)
	}
	defer func() { _ = result.Body.Close() }()

	return io.ReadAll(result.Body)
}

func (a *S3Archive) Exists(ctx context.Context, ref string) (bool, error) {
	rawHash, err := stripRefPrefix(ref)
	if err != nil {
		return false, err
	}
	key := a.prefix + rawHash + ".bundle"

	if _, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(key)}); err != nil {
		return false, nil
	}
	return true, nil
}

func refAndKey(prefix string, data []byte) (ref string, key string) {
	sum := sha256.Sum256(data)
	hexSum := hex.EncodeToString(sum[:])
	return "sha256:" + hexSum, prefix + hexSum + ".bundle"
}

func stripRefPrefix(ref string) (string, error) {
	const p = "sha256:"
	if len(ref) <= len(p) || ref[:len(p)] != p {
		return "", fmt.Errorf("archive: invalid ref format: %s", ref)
	}
	return ref[len(p):], nil
}
