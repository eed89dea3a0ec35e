package leads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PutObjectAPI is the part of the S3 client the archive uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive writes every lead as a JSON object under
// <prefix>/<yyyymmdd>/<id>.json.
type S3Archive struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// NewS3Archive loads the default AWS credential chain.
func NewS3Archive(ctx context.Context, bucket, region string) (*S3Archive, error) {
	if region == "" {
		region = os.Getenv("AWS_REGION")
		if region == "" {
			region = "us-east-1"
		}
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3ArchiveWithClient(s3.NewFromConfig(awsCfg), bucket), nil
}

func NewS3ArchiveWithClient(client PutObjectAPI, bucket string) *S3Archive {
	return &S3Archive{client: client, bucket: bucket, prefix: "leads"}
}

func (a *S3Archive) Name() string { return "s3" }

// Key returns the object key for lead.
func (a *S3Archive) Key(lead Lead) string {
	return path.Join(a.prefix, lead.CreatedAt.UTC().Format("20060102"), lead.ID+".json")
}

func (a *S3Archive) Deliver(ctx context.Context, lead Lead) error {
	body, err := json.Marshal(lead)
	if err != nil {
		return fmt.Errorf("marshal lead: %w", err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.Key(lead)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.bucket, a.Key(lead), err)
	}
	return nil
}
