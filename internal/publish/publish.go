// Package publish uploads run artifacts to an S3-compatible bucket.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/landslide-lab/sphbox/pkg/core"
)

// DefaultRegion is used when Config.Region is empty.
const DefaultRegion = "us-east-1"

// Config configures the bucket artifacts are uploaded to.
type Config struct {
	Endpoint  string `koanf:"endpoint"`
	Region    string `koanf:"region"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Bucket    string `koanf:"bucket"`
	Prefix    string `koanf:"prefix"`
	UseSSL    bool   `koanf:"use_ssl"`
}

// Enabled reports whether publishing is configured at all.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != "" || strings.TrimSpace(c.Bucket) != ""
}

// Validate checks that every required field is present.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Endpoint) == "":
		return core.ConfigErrorf("publish.endpoint", "endpoint is required")
	case strings.Contains(c.Endpoint, "://"):
		return core.ConfigErrorf("publish.endpoint", "endpoint %q must be host[:port] without a scheme", c.Endpoint)
	case strings.TrimSpace(c.AccessKey) == "" || strings.TrimSpace(c.SecretKey) == "":
		return core.ConfigErrorf("publish.access_key", "access key and secret key are required")
	case strings.TrimSpace(c.Bucket) == "":
		return core.ConfigErrorf("publish.bucket", "bucket is required")
	}
	return nil
}

// Publisher uploads files under <prefix>/<run id>/<file name>.
type Publisher struct {
	client *minio.Client
	bucket string
	region string
	prefix string
	logger *slog.Logger

	initOnce sync.Once
	initErr  error
}

// New creates a publisher. No request is made until the first upload.
func New(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = DefaultRegion
	}

	client, err := minio.New(strings.TrimSpace(cfg.Endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey), ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, core.ConfigErrorf("publish.endpoint", "init s3 client: %v", err)
	}

	return &Publisher{
		client: client,
		bucket: strings.TrimSpace(cfg.Bucket),
		region: region,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}, nil
}

func (p *Publisher) ensureBucket(ctx context.Context) error {
	p.initOnce.Do(func() {
		exists, err := p.client.BucketExists(ctx, p.bucket)
		if err != nil {
			p.initErr = err
			return
		}
		if exists {
			return
		}
		p.logger.Info("creating bucket", slog.String("bucket", p.bucket))
		p.initErr = p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region})
	})
	return p.initErr
}

// Probe reports whether the bucket exists, without creating it.
func (p *Publisher) Probe(ctx context.Context) (bool, error) {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return false, &core.IOError{Op: "probe bucket", Path: p.bucket, Err: err}
	}
	return exists, nil
}

// Bucket returns the bucket name.
func (p *Publisher) Bucket() string { return p.bucket }

// Publish uploads paths and returns their s3:// locations in the same order.
func (p *Publisher) Publish(ctx context.Context, runID string, paths []string) ([]string, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if err := p.ensureBucket(ctx); err != nil {
		return nil, &core.IOError{Op: "ensure bucket", Path: p.bucket, Err: err}
	}

	out := make([]string, 0, len(paths))
	for _, local := range paths {
		key := p.objectKey(runID, local)
		info, err := p.client.FPutObject(ctx, p.bucket, key, local, minio.PutObjectOptions{
			ContentType: contentType(local),
		})
		if err != nil {
			return nil, &core.IOError{Op: "upload", Path: local, Err: err}
		}
		p.logger.Debug("uploaded artifact",
			slog.String("path", local),
			slog.String("key", key),
			slog.Int64("size", info.Size))
		out = append(out, "s3://"+p.bucket+"/"+key)
	}
	return out, nil
}

func (p *Publisher) objectKey(runID, local string) string {
	return path.Join(p.prefix, runID, filepath.Base(local))
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".nc":
		return "application/x-netcdf"
	case ".top", ".dat", ".pts", ".asc", ".hdr":
		return "text/plain"
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
