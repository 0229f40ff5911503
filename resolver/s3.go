package resolver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// s3Location is a parsed s3://bucket/key?region=...&endpoint=...&anonymous=true URI.
type s3Location struct {
	bucket    string
	key       string
	region    string
	endpoint  string
	anonymous bool
}

func parseS3Location(u *url.URL) (s3Location, error) {
	loc := s3Location{
		bucket:    u.Host,
		key:       strings.TrimPrefix(u.Path, "/"),
		region:    u.Query().Get("region"),
		endpoint:  u.Query().Get("endpoint"),
		anonymous: u.Query().Get("anonymous") == "true",
	}
	if loc.bucket == "" || loc.key == "" {
		return loc, fmt.Errorf("invalid S3 URI format, expected s3://bucket/key: %s", u.String())
	}
	if loc.region == "" {
		loc.region = "us-east-1"
	}
	return loc, nil
}

func (loc s3Location) client(timeout time.Duration) (*s3.S3, error) {
	cfg := aws.Config{
		Region:     aws.String(loc.region),
		HTTPClient: NewDownloadClient(timeout, false),
	}
	if loc.endpoint != "" {
		cfg.Endpoint = aws.String(loc.endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if loc.anonymous {
		cfg.Credentials = credentials.AnonymousCredentials
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return s3.New(sess), nil
}

// openS3 returns a reader over the object body. The caller closes it.
func (r *Resolver) openS3(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	loc, err := parseS3Location(u)
	if err != nil {
		return nil, err
	}

	client, err := loc.client(r.timeout)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.bucket),
		Key:    aws.String(loc.key),
	})
	if err != nil {
		r.log.Error("Failed to get object from S3",
			slog.String("bucket", loc.bucket),
			slog.String("key", loc.key),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	return result.Body, nil
}

func (r *Resolver) loadS3(ctx context.Context, u *url.URL) ([]byte, error) {
	body, err := r.openS3(ctx, u)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	r.log.Debug("Fetched content from S3",
		slog.String("bucket", u.Host),
		slog.Int("size", len(data)))
	return data, nil
}
