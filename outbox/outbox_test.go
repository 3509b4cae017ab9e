package outbox_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zostay/go-mailbuild/message"
	"github.com/zostay/go-mailbuild/message/transfer"
	"github.com/zostay/go-mailbuild/outbox"
)

func testMessage(t *testing.T, id string) *message.Message {
	t.Helper()

	m := message.NewMessage()
	require.NoError(t, m.SetFrom("alice@example.com"))
	require.NoError(t, m.SetTo("bob@example.com"))
	m.SetSubject("Hello")
	if id != "" {
		m.SetMessageID(id)
	}

	tb := message.NewTextBody("Grüße\n")
	m.SetBody(tb, "")
	require.NoError(t, m.SetEncoding(transfer.Bit8))
	return m
}

func mustBytes(t *testing.T, m *message.Message) []byte {
	t.Helper()

	b, err := m.Bytes()
	require.NoError(t, err)
	return b
}

func TestFileName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc.1@example.com.eml",
		outbox.FileName(testMessage(t, "<abc.1@example.com>")))
	assert.Equal(t, "a_b_c@example.com.eml",
		outbox.FileName(testMessage(t, "<a/b c@example.com>")))
	assert.Regexp(t, `^\d{8}T\d{6}\.\d{9}\.eml$`, outbox.FileName(testMessage(t, "")))
}

func TestWriter(t *testing.T) {
	t.Parallel()

	m := testMessage(t, "<abc@example.com>")
	buf := &bytes.Buffer{}
	s := outbox.NewWriter(buf)

	require.NoError(t, s.Deliver(context.Background(), outbox.Envelope{}, m))
	assert.Equal(t, mustBytes(t, m), buf.Bytes())
	assert.Equal(t, "writer", s.Name())
}

func TestDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := outbox.NewDir(dir)
	ctx := context.Background()

	sent := testMessage(t, "<sent@example.com>")
	draft := testMessage(t, "<draft@example.com>")

	require.NoError(t, s.Deliver(ctx, outbox.Envelope{}, sent))
	require.NoError(t, s.Deliver(ctx, outbox.Envelope{Draft: true}, draft))

	got, err := os.ReadFile(filepath.Join(dir, "outbox", "sent@example.com.eml"))
	require.NoError(t, err)
	assert.Equal(t, mustBytes(t, sent), got)

	got, err = os.ReadFile(filepath.Join(dir, "drafts", "draft@example.com.eml"))
	require.NoError(t, err)
	assert.Equal(t, mustBytes(t, draft), got)

	entries, err := os.ReadDir(filepath.Join(dir, "outbox"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

type mockS3Client struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (m *mockS3Client) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.input = params
	b, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.body = b
	return &s3.PutObjectOutput{}, m.err
}

func TestS3(t *testing.T) {
	t.Parallel()

	mock := &mockS3Client{}
	s := outbox.NewS3WithClient("mail", "alice", mock)
	m := testMessage(t, "<abc@example.com>")

	require.NoError(t, s.Deliver(context.Background(), outbox.Envelope{Draft: true}, m))

	require.NotNil(t, mock.input)
	assert.Equal(t, "mail", aws.ToString(mock.input.Bucket))
	assert.Equal(t, "alice/drafts/abc@example.com.eml", aws.ToString(mock.input.Key))
	assert.Equal(t, "message/rfc822", aws.ToString(mock.input.ContentType))
	assert.Equal(t, int64(len(mock.body)), aws.ToInt64(mock.input.ContentLength))
	assert.Equal(t, mustBytes(t, m), mock.body)
	assert.Equal(t, "s3", s.Name())

	mock.err = errors.New("access denied")
	err := s.Deliver(context.Background(), outbox.Envelope{}, m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://mail/alice/outbox/abc@example.com.eml")
}

type mockSESClient struct {
	calls     int
	fail      int
	err       error
	lastInput *sesv2.SendEmailInput
}

func (m *mockSESClient) SendEmail(_ context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.calls++
	m.lastInput = params
	if m.calls <= m.fail {
		if m.err != nil {
			return nil, m.err
		}
		return nil, errors.New("throttled")
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-id")}, nil
}

func TestSES(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{fail: 2}
	s := outbox.NewSESWithClient(mock)
	s.SetRetryDelay(time.Millisecond)

	m := testMessage(t, "<abc@example.com>")
	env := outbox.Envelope{
		From:       "alice@example.com",
		Recipients: []string{"bob@example.com", "secret@example.com"},
	}

	require.NoError(t, s.Deliver(context.Background(), env, m))
	assert.Equal(t, 3, mock.calls)

	in := mock.lastInput
	assert.Equal(t, "alice@example.com", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, env.Recipients, in.Destination.ToAddresses)
	require.NotNil(t, in.Content.Raw)
	assert.Equal(t, mustBytes(t, m), in.Content.Raw.Data)

	// the message was downgraded before it was sent
	assert.Equal(t, transfer.QuotedPrintable, m.TransferEncoding())
	assert.NotContains(t, string(in.Content.Raw.Data), "Grüße")
}

func TestSES_GivesUp(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{fail: 10}
	s := outbox.NewSESWithClient(mock)
	s.SetRetryDelay(time.Millisecond)

	err := s.Deliver(context.Background(), outbox.Envelope{}, testMessage(t, "<a@example.com>"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
	assert.Equal(t, 4, mock.calls)
}

func TestSES_Draft(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	s := outbox.NewSESWithClient(mock)

	err := s.Deliver(context.Background(), outbox.Envelope{Draft: true}, testMessage(t, "<a@example.com>"))
	assert.ErrorIs(t, err, outbox.ErrDraft)
	assert.Zero(t, mock.calls)
}

func TestSES_Rejected(t *testing.T) {
	t.Parallel()

	rejected := &smithy.GenericAPIError{
		Code:    "MessageRejected",
		Message: "Email address is not verified.",
		Fault:   smithy.FaultClient,
	}
	mock := &mockSESClient{fail: 10, err: rejected}
	s := outbox.NewSESWithClient(mock)
	s.SetRetryDelay(time.Millisecond)

	err := s.Deliver(context.Background(), outbox.Envelope{}, testMessage(t, "<a@example.com>"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MessageRejected")
	assert.Equal(t, 1, mock.calls)
}
