package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hyperjump/kotae/internal/errs"
)

// S3Getter is the subset of the S3 client used by S3Fetcher.
type S3Getter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher reads s3://bucket/key references.
type S3Fetcher struct {
	client   S3Getter
	maxBytes int64
}

// S3Options configures the S3 client. Static keys are used when both are set,
// otherwise the default AWS credential chain. Endpoint points the client at an
// S3-compatible store and switches to path-style addressing.
type S3Options struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Fetcher builds a client from opts.
func NewS3Fetcher(ctx context.Context, opts S3Options, maxBytes int64) (*S3Fetcher, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3FetcherWithClient(client, maxBytes), nil
}

// NewS3FetcherWithClient wraps an existing client.
func NewS3FetcherWithClient(client S3Getter, maxBytes int64) *S3Fetcher {
	return &S3Fetcher{client: client, maxBytes: maxBytes}
}

// Fetch downloads the object named by ref.
func (f *S3Fetcher) Fetch(ctx context.Context, ref string) (*Source, error) {
	bucket, key, err := parseS3Ref(ref)
	if err != nil {
		return nil, err
	}
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch s3://%s: %w", bucket, ctx.Err())
		}
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, errs.Wrap(errs.SourceUnavailable, "fetch.s3", err, fmt.Sprintf("object %s not found in bucket %s", key, bucket))
		}
		return nil, errs.Wrap(errs.SourceUnavailable, "fetch.s3", err, fmt.Sprintf("cannot read from bucket %s", bucket))
	}
	defer out.Body.Close()
	if f.maxBytes > 0 && aws.ToInt64(out.ContentLength) > f.maxBytes {
		return nil, errs.E(errs.SourceUnavailable, "fetch.s3", "object is %d bytes, limit is %d", aws.ToInt64(out.ContentLength), f.maxBytes)
	}
	data, err := readLimited(out.Body, f.maxBytes)
	if err != nil {
		return nil, errs.Wrap(errs.SourceUnavailable, "fetch.s3", err, "object download was interrupted or too large")
	}
	return &Source{
		Ref:         ref,
		Name:        path.Base(key),
		ContentType: aws.ToString(out.ContentType),
		Data:        data,
	}, nil
}

func parseS3Ref(ref string) (bucket, key string, err error) {
	u, perr := url.Parse(ref)
	if perr != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", errs.E(errs.InvalidInput, "fetch.s3", "invalid S3 reference %q: want s3://bucket/key", ref)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", errs.E(errs.InvalidInput, "fetch.s3", "S3 reference %q has no object key", ref)
	}
	return u.Host, key, nil
}
