// Package artifacts uploads k6/Playwright run artifacts (reports, summaries,
// console logs) to S3-compatible object storage, grounded on the same
// aws-sdk-go-v2 endpoint-resolver pattern used for Cloudflare R2 access
// elsewhere in the retrieved corpus.
package artifacts

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oriys/beacon/internal/logging"
)

// Config describes how to reach the S3-compatible bucket artifacts are
// published to.
type Config struct {
	Endpoint        string // custom endpoint, e.g. an R2/MinIO URL; empty uses AWS's default resolver
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	BaseURL         string // public URL prefix returned to callers, e.g. "https://cdn.example.com"
}

// Store uploads local files under a run-scoped object-storage prefix.
type Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	baseURL  string
}

// NewStore builds a Store from cfg. A non-empty Endpoint configures a
// custom resolver (R2/MinIO style); otherwise the AWS SDK's default
// resolution (region-based) is used.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	var optFns []func(*config.LoadOptions) error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	if cfg.Region != "" {
		optFns = append(optFns, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("artifacts: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
		u.Concurrency = 4
	})

	return &Store{client: client, uploader: uploader, bucket: cfg.Bucket, baseURL: cfg.BaseURL}, nil
}

// PutFile uploads the file at localPath to {runID}/{name} and returns the
// public URL a caller can hand back in a K6Result/RunRecord.
func (s *Store) PutFile(ctx context.Context, runID, name, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("artifacts: open %s: %w", localPath, err)
	}
	defer f.Close()

	key := fmt.Sprintf("%s/%s", runID, name)

	uploadCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	_, err = s.uploader.Upload(uploadCtx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("artifacts: upload %s: %w", key, err)
	}

	logging.Op().Debug("artifacts: uploaded", "run_id", runID, "key", key)
	return s.publicURL(key), nil
}

// PutDir walks dir (non-recursively) and uploads every regular file under
// {runID}/, returning a map of file name to public URL. Subdirectories are
// skipped, and the first failed upload stops the walk.
func (s *Store) PutDir(ctx context.Context, runID, dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("artifacts: read dir %s: %w", dir, err)
	}

	urls := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		url, err := s.PutFile(ctx, runID, entry.Name(), filepath.Join(dir, entry.Name()))
		if err != nil {
			return urls, err
		}
		urls[entry.Name()] = url
	}
	return urls, nil
}

// PutReader uploads directly from r without touching disk, for small
// in-memory artifacts such as captured console output.
func (s *Store) PutReader(ctx context.Context, runID, name string, r io.Reader) (string, error) {
	key := fmt.Sprintf("%s/%s", runID, name)
	uploadCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if _, err := s.uploader.Upload(uploadCtx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	}); err != nil {
		return "", fmt.Errorf("artifacts: upload %s: %w", key, err)
	}
	return s.publicURL(key), nil
}

func (s *Store) publicURL(key string) string {
	if s.baseURL == "" {
		return fmt.Sprintf("s3://%s/%s", s.bucket, key)
	}
	return fmt.Sprintf("%s/%s", s.baseURL, key)
}
