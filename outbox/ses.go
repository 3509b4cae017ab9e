package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/zostay/go-mailbuild/message"
)

const (
	// sesMaxRetries is the number of retries after a failed send.
	sesMaxRetries = 3

	// sesRetryDelay is the delay before the first retry. It doubles for
	// each retry after that.
	sesRetryDelay = time.Second
)

// SESConfig configures an SES sink.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	// ConfigurationSet is passed with every send when set.
	ConfigurationSet string `yaml:"configuration_set"`
}

// SendEmailAPI is the part of the SES v2 client used by the sink.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES sends messages as raw MIME through Amazon SES v2. Messages are
// downgraded to 7bit before sending. Drafts are refused.
type SES struct {
	client     SendEmailAPI
	configSet  string
	retryDelay time.Duration
}

// NewSES creates an SES sink.
func NewSES(ctx context.Context, cfg SESConfig) (*SES, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s := NewSESWithClient(sesv2.NewFromConfig(awsCfg))
	s.configSet = cfg.ConfigurationSet
	return s, nil
}

// NewSESWithClient creates an SES sink using client.
func NewSESWithClient(client SendEmailAPI) *SES {
	return &SES{
		client:     client,
		retryDelay: sesRetryDelay,
	}
}

// SetRetryDelay changes the delay before the first retry.
func (s *SES) SetRetryDelay(d time.Duration) {
	s.retryDelay = d
}

// Deliver sends msg to the envelope recipients, retrying failures with
// exponential backoff.
func (s *SES) Deliver(ctx context.Context, env Envelope, msg *message.Message) error {
	if env.Draft {
		return ErrDraft
	}

	if err := msg.Downgrade(); err != nil {
		return fmt.Errorf("unable to prepare message for SES: %w", err)
	}

	raw, err := serialize(msg)
	if err != nil {
		return err
	}

	input := &sesv2.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: env.Recipients,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{
				Data: raw,
			},
		},
	}
	if env.From != "" {
		input.FromEmailAddress = aws.String(env.From)
	}
	if s.configSet != "" {
		input.ConfigurationSetName = aws.String(s.configSet)
	}

	var lastErr error
	for attempt := 0; attempt <= sesMaxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying SES send",
				"attempt", attempt,
				"max_retries", sesMaxRetries,
			)
			if err := sleep(ctx, backoff(s.retryDelay, attempt)); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		out, err := s.client.SendEmail(ctx, input)
		if err == nil {
			slog.Debug("sent message with SES", "message_id", aws.ToString(out.MessageId))
			return nil
		}

		lastErr = err
		slog.Warn("SES send failed",
			"attempt", attempt,
			"error", err,
		)

		if !retryable(err) {
			return fmt.Errorf("SES rejected message: %w", err)
		}
	}

	return fmt.Errorf("SES send failed after %d retries: %w", sesMaxRetries, lastErr)
}

// Name returns "ses".
func (s *SES) Name() string {
	return "ses"
}

// retryable reports whether err may succeed on a later attempt. Errors the
// service blames on the caller, such as a rejected message, are final.
func retryable(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorFault() != smithy.FaultClient
	}
	return true
}

// backoff returns base doubled attempt-1 times.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
