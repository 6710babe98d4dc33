package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oriys/quasar/internal/group"
	"github.com/oriys/quasar/internal/logging"
)

// S3Config configures the S3 membership backend.
type S3Config struct {
	Bucket     string
	Prefix     string // object key prefix, default "quasar/members/"
	Region     string
	Endpoint   string // custom endpoint for MinIO-compatible stores
	AccessKey  string // static credentials; empty uses the default chain
	SecretKey  string
	StaleAfter time.Duration // members older than this are dropped, default 30s
}

// S3 keeps one object per member under a bucket prefix. There is no TTL in
// object storage, so liveness rides on the LastSeen stamp inside each
// object: readers drop entries older than StaleAfter and sweep them away
// best-effort.
type S3 struct {
	client     *s3.Client
	bucket     string
	prefix     string
	staleAfter time.Duration
}

// NewS3 creates an S3 membership backend.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 discovery: bucket is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "quasar/members/"
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Second
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3 discovery: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3{
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		staleAfter: cfg.StaleAfter,
	}, nil
}

func (d *S3) key(id group.MemberID) string {
	return d.prefix + string(id) + ".json"
}

func (d *S3) Announce(ctx context.Context, m group.Member) error {
	if m.LastSeen.IsZero() {
		m.LastSeen = time.Now().UTC()
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(m.ID)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("announce member %s: %w", m.ID, err)
	}
	return nil
}

func (d *S3) Members(ctx context.Context) ([]group.Member, error) {
	var members []group.Member
	var continuation *string
	for {
		out, err := d.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(d.bucket),
			Prefix:            aws.String(d.prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("list members: %w", err)
		}

		for _, obj := range out.Contents {
			m, ok := d.readMember(ctx, aws.ToString(obj.Key))
			if !ok {
				continue
			}
			if time.Since(m.LastSeen) > d.staleAfter {
				d.sweep(ctx, aws.ToString(obj.Key))
				continue
			}
			members = append(members, m)
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuation = out.NextContinuationToken
	}
	sortMembers(members)
	return members, nil
}

func (d *S3) readMember(ctx context.Context, key string) (group.Member, bool) {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		logging.Op().Warn("read member object failed", "key", key, "error", err)
		return group.Member{}, false
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return group.Member{}, false
	}
	var m group.Member
	if err := json.Unmarshal(data, &m); err != nil {
		logging.Op().Warn("skip malformed member object", "key", key, "error", err)
		return group.Member{}, false
	}
	return m, true
}

// sweep deletes a stale member object. Losing the race with another reader
// is fine; deletes are idempotent.
func (d *S3) sweep(ctx context.Context, key string) {
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		logging.Op().Debug("sweep stale member failed", "key", key, "error", err)
	}
}

func (d *S3) Forget(ctx context.Context, id group.MemberID) error {
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(id)),
	})
	if err != nil {
		return fmt.Errorf("forget member %s: %w", id, err)
	}
	return nil
}

func (d *S3) Close() error { return nil }
