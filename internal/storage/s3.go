package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/reqgraph/backend/pkg/common"
)

var ErrNoBucket = errors.New("no report bucket configured")

type S3Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(cfg.Endpoint))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client, nil
}

type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ReportArchive keeps batch sync results as JSON objects under
// <prefix>/<project>/<timestamp>-<correlation>.json.
type ReportArchive struct {
	client objectAPI
	bucket string
	prefix string
	now    func() time.Time
}

func NewReportArchive(client objectAPI, bucket, prefix string) *ReportArchive {
	return &ReportArchive{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

func (a *ReportArchive) reportKey(projectID, correlationID string) string {
	name := a.now().UTC().Format("20060102T150405Z")
	if correlationID != "" {
		name += "-" + correlationID
	}
	project := projectID
	if project == "" {
		project = "_"
	}
	return path.Join(a.prefix, project, name+".json")
}

// PutReport uploads result and returns its object key.
func (a *ReportArchive) PutReport(ctx context.Context, correlationID string, result common.BatchResult) (string, error) {
	if a.bucket == "" {
		return "", ErrNoBucket
	}
	body, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	key := a.reportKey(result.ProjectID, correlationID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload report to S3: %w", err)
	}
	return key, nil
}

func (a *ReportArchive) GetReport(ctx context.Context, key string) (common.BatchResult, error) {
	if a.bucket == "" {
		return common.BatchResult{}, ErrNoBucket
	}
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return common.BatchResult{}, fmt.Errorf("failed to get report from S3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return common.BatchResult{}, fmt.Errorf("failed to read report: %w", err)
	}
	var result common.BatchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return common.BatchResult{}, fmt.Errorf("decode report %s: %w", key, err)
	}
	return result, nil
}
