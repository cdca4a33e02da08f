// Package export persists per-account insight snapshots (quantile reports,
// anomaly summaries, process reports) to S3 as JSON documents.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pulseboard/adinsights/internal/config"
	"github.com/pulseboard/adinsights/internal/pkg/logger"
)

// s3Putter is the slice of the S3 client the exporter uses.
type s3Putter interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Exporter writes insight snapshots to an S3 bucket, keyed
// reports/{account_id}/{date}/{name}.json.
type Exporter struct {
	client s3Putter
	bucket string
	prefix string
	now    func() time.Time
}

// New builds an S3-backed exporter from the export config. Returns nil
// without error when export is disabled.
func New(ctx context.Context, cfg config.ExportConfig) (*Exporter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("export enabled but no s3 bucket configured")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.AWSProfile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &Exporter{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.S3Bucket,
		prefix: cfg.S3Prefix,
		now:    time.Now,
	}, nil
}

// Export writes one named snapshot document for an account. The payload is
// marshaled as indented JSON so snapshots stay diffable.
func (e *Exporter) Export(ctx context.Context, accountID, name string, payload interface{}) (string, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s snapshot: %w", name, err)
	}

	key := e.key(accountID, name)
	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("put snapshot s3://%s/%s: %w", e.bucket, key, err)
	}

	logger.Info("insight snapshot exported",
		"account_id", accountID, "name", name, "bucket", e.bucket, "key", key)
	return key, nil
}

func (e *Exporter) key(accountID, name string) string {
	date := e.now().UTC().Format("2006-01-02")
	return path.Join(e.prefix, "reports", accountID, date, name+".json")
}
