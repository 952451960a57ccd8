// Package archive uploads published newsletter issues to an S3-compatible
// bucket (Cloudflare R2, MinIO, or plain S3).
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/marketbrief/marketbrief/internal/config"
	"github.com/marketbrief/marketbrief/internal/domain"
)

const issuePrefix = "issues/"

// Uploader writes issue snapshots to the archive bucket.
type Uploader struct {
	client *s3.Client
	bucket string
	log    zerolog.Logger
}

// IssueObject describes one archived issue.
type IssueObject struct {
	Key       string    `json:"key"`
	SizeBytes int64     `json:"size_bytes"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUploader creates an uploader from archive settings. Returns nil when
// archiving is not configured; callers treat a nil uploader as disabled.
func NewUploader(ctx context.Context, cfg *config.ArchiveConfig, log zerolog.Logger) (*Uploader, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive credentials: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Uploader{
		client: client,
		bucket: cfg.Bucket,
		log:    log.With().Str("service", "archive").Logger(),
	}, nil
}

// UploadIssue stores the issue as JSON under issues/<day>.json. Uploading the
// same day twice overwrites the previous object, so republish is safe.
func (u *Uploader) UploadIssue(ctx context.Context, n *domain.Newsletter) (string, error) {
	body, err := json.MarshalIndent(n, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal issue %s: %w", n.Day, err)
	}

	key := issuePrefix + n.Day + ".json"
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload issue %s: %w", n.Day, err)
	}

	u.log.Info().Str("key", key).Int("size_bytes", len(body)).Msg("Issue archived")
	return key, nil
}

// ListIssues returns archived issues, newest first.
func (u *Uploader) ListIssues(ctx context.Context) ([]IssueObject, error) {
	out, err := u.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(u.bucket),
		Prefix: aws.String(issuePrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list archived issues: %w", err)
	}

	issues := make([]IssueObject, 0, len(out.Contents))
	for _, obj := range out.Contents {
		if obj.Key == nil || !strings.HasSuffix(*obj.Key, ".json") {
			continue
		}
		issue := IssueObject{Key: *obj.Key}
		if obj.Size != nil {
			issue.SizeBytes = *obj.Size
		}
		if obj.LastModified != nil {
			issue.UpdatedAt = *obj.LastModified
		}
		issues = append(issues, issue)
	}

	sort.Slice(issues, func(i, j int) bool {
		return issues[i].Key > issues[j].Key
	})
	return issues, nil
}
