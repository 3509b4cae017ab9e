package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/zostay/go-mailbuild/message"
)

// S3Config configures an S3 sink.
type S3Config struct {
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	// Endpoint points the client at an S3 compatible store such as MinIO.
	// Path style addressing is used when it is set.
	Endpoint string `yaml:"endpoint"`
}

// PutObjectAPI is the part of the S3 client used by the sink.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 stores each message as an object named
// <prefix>/<drafts|outbox>/<file name>.
type S3 struct {
	bucket string
	prefix string
	client PutObjectAPI
}

// NewS3 creates an S3 sink. Static credentials are used when both keys are
// set; otherwise the default AWS credential chain applies.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3WithClient(cfg.Bucket, cfg.Prefix, client), nil
}

// NewS3WithClient creates an S3 sink using client.
func NewS3WithClient(bucket, prefix string, client PutObjectAPI) *S3 {
	return &S3{
		bucket: bucket,
		prefix: prefix,
		client: client,
	}
}

// Key returns the object key msg is stored under.
func (s *S3) Key(env Envelope, msg *message.Message) string {
	return path.Join(s.prefix, Folder(env), FileName(msg))
}

// Deliver uploads msg.
func (s *S3) Deliver(ctx context.Context, env Envelope, msg *message.Message) error {
	body, size, err := reader(msg)
	if err != nil {
		return err
	}

	key := s.Key(env, msg)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(message.DefaultMessageType),
	})
	if err != nil {
		return fmt.Errorf("unable to upload message to s3://%s/%s: %w", s.bucket, key, err)
	}

	slog.Debug("stored message in S3", "bucket", s.bucket, "key", key, "size", size)
	return nil
}

// Name returns "s3".
func (s *S3) Name() string {
	return "s3"
}
