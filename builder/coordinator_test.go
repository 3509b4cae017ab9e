package builder_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zostay/go-mailbuild/builder"
	"github.com/zostay/go-mailbuild/message"
	"github.com/zostay/go-mailbuild/pgp"
)

type event struct {
	kind      string
	msg       *message.Message
	isDraft   bool
	err       error
	handle    pgp.Handle
	requestID string
}

// recorder is a Consumer that reports every callback on a channel.
type recorder struct {
	events chan event
}

func newRecorder() *recorder {
	return &recorder{events: make(chan event, 10)}
}

func (r *recorder) OnBuildSuccess(msg *message.Message, isDraft bool) {
	r.events <- event{kind: "success", msg: msg, isDraft: isDraft}
}

func (r *recorder) OnBuildException(err error) {
	r.events <- event{kind: "exception", err: err}
}

func (r *recorder) OnBuildUserInteractionRequired(handle pgp.Handle, requestID string) {
	r.events <- event{kind: "interaction", handle: handle, requestID: requestID}
}

func (r *recorder) OnBuildCancel() {
	r.events <- event{kind: "cancel"}
}

func (r *recorder) next(t *testing.T) event {
	t.Helper()

	select {
	case e := <-r.events:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the build")
	}
	return event{}
}

func (r *recorder) none(t *testing.T) {
	t.Helper()

	select {
	case e := <-r.events:
		t.Fatalf("unexpected %s callback", e.kind)
	default:
	}
}

const aliceKey pgp.KeyID = 0xAAAAAAAAAAAAAAAA

func signRequest() *builder.Request {
	req := baseRequest()
	req.Crypto = pgp.Config{
		Mode:         pgp.ModeSignOnly,
		SigningKeyID: aliceKey,
	}
	return req
}

func sign(_ context.Context, _ *pgp.Request, source io.Reader, _ io.Writer) (*pgp.Result, error) {
	if _, err := io.Copy(io.Discard, source); err != nil {
		return nil, err
	}
	return &pgp.Result{
		Code:              pgp.CodeSuccess,
		DetachedSignature: []byte("sig\r\n"),
		MicAlg:            "pgp-sha256",
	}, nil
}

// blockingSign signs once release is closed.
func blockingSign(started chan<- struct{}, release <-chan struct{}) pgp.ServiceFunc {
	return func(ctx context.Context, req *pgp.Request, source io.Reader, sink io.Writer) (*pgp.Result, error) {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return sign(ctx, req, source, sink)
	}
}

// passphrase asks for a passphrase until it is given one.
func passphrase(ctx context.Context, req *pgp.Request, source io.Reader, sink io.Writer) (*pgp.Result, error) {
	if string(req.Interaction) != "secret" {
		_, _ = io.Copy(io.Discard, source)
		return &pgp.Result{
			Code:   pgp.CodeUserInteractionRequired,
			Handle: &pgp.Handle{Kind: "passphrase", KeyID: req.SigningKeyID},
		}, nil
	}
	return sign(ctx, req, source, sink)
}

func newCoordinator(t *testing.T, svc pgp.Service) *builder.Coordinator {
	t.Helper()

	c := builder.NewCoordinator(svc, builder.WithComposer(builder.Composer{
		Boundary: message.NewSequentialBoundary(1),
		TempDir:  t.TempDir(),
	}))
	t.Cleanup(func() { assert.NoError(t, c.Close()) })
	return c
}

func TestCoordinator_Plain(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t, nil)
	rec := newRecorder()

	assert.Equal(t, builder.Idle, c.State())
	require.NoError(t, c.BuildAsync(baseRequest(), rec))

	e := rec.next(t)
	require.Equal(t, "success", e.kind)
	require.NotNil(t, e.msg)
	assert.False(t, e.isDraft)
	defer func() { assert.NoError(t, e.msg.Close()) }()

	subject, err := e.msg.GetSubject()
	require.NoError(t, err)
	assert.Equal(t, "Hello", subject)

	assert.Equal(t, builder.Succeeded, c.State())
	rec.none(t)
}

func TestCoordinator_Signed(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t, pgp.ServiceFunc(sign))
	rec := newRecorder()

	require.NoError(t, c.BuildAsync(signRequest(), rec))

	e := rec.next(t)
	require.Equal(t, "success", e.kind)
	defer func() { assert.NoError(t, e.msg.Close()) }()

	mt, err := e.msg.GetMediaType()
	require.NoError(t, err)
	assert.Equal(t, "multipart/signed", mt)
}

func TestCoordinator_Exception(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t, nil)

	rec := newRecorder()
	require.NoError(t, c.BuildAsync(signRequest(), rec))
	e := rec.next(t)
	require.Equal(t, "exception", e.kind)
	assert.ErrorIs(t, e.err, builder.ErrNoService)
	assert.Equal(t, builder.Failed, c.State())

	req := baseRequest()
	req.Identity.Email = ""

	rec = newRecorder()
	require.NoError(t, c.BuildAsync(req, rec))
	e = rec.next(t)
	require.Equal(t, "exception", e.kind)
	assert.ErrorIs(t, e.err, builder.ErrNoSender)
}

func TestCoordinator_ComposeFailure(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t, nil)

	req := baseRequest()
	req.Attachments = []builder.Attachment{{Name: "missing.bin"}}

	rec := newRecorder()
	require.NoError(t, c.BuildAsync(req, rec))
	e := rec.next(t)
	require.Equal(t, "exception", e.kind)
	assert.Error(t, e.err)
	assert.Equal(t, builder.Failed, c.State())
	rec.none(t)

	rec = newRecorder()
	require.NoError(t, c.BuildAsync(baseRequest(), rec))
	e = rec.next(t)
	require.Equal(t, "success", e.kind)
	assert.NoError(t, e.msg.Close())
	rec.none(t)
}

func TestCoordinator_DetachAndReattach(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	c := newCoordinator(t, blockingSign(started, release))

	first := newRecorder()
	require.NoError(t, c.BuildAsync(signRequest(), first))
	<-started

	assert.Equal(t, builder.Running, c.State())
	assert.ErrorIs(t, c.BuildAsync(signRequest(), newRecorder()), builder.ErrBusy)
	assert.ErrorIs(t, c.ReattachConsumer(newRecorder()), builder.ErrConsumerAttached)

	c.DetachConsumer()
	close(release)

	require.Eventually(t, func() bool {
		return c.State() == builder.Succeeded
	}, 5*time.Second, 10*time.Millisecond)
	first.none(t)

	second := newRecorder()
	require.NoError(t, c.ReattachConsumer(second))
	e := second.next(t)
	require.Equal(t, "success", e.kind)
	defer func() { assert.NoError(t, e.msg.Close()) }()

	// the result is delivered only once
	third := newRecorder()
	require.NoError(t, c.ReattachConsumer(third))
	third.none(t)
	first.none(t)
}

func TestCoordinator_UndeliveredResultDropped(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	c := newCoordinator(t, blockingSign(started, release))

	first := newRecorder()
	require.NoError(t, c.BuildAsync(signRequest(), first))
	<-started
	c.DetachConsumer()
	close(release)

	require.Eventually(t, func() bool {
		return c.State() == builder.Succeeded
	}, 5*time.Second, 10*time.Millisecond)

	second := newRecorder()
	require.NoError(t, c.BuildAsync(baseRequest(), second))

	e := second.next(t)
	require.Equal(t, "success", e.kind)
	defer func() { assert.NoError(t, e.msg.Close()) }()

	mt, err := e.msg.GetMediaType()
	require.NoError(t, err)
	assert.Equal(t, "text/plain", mt)
	first.none(t)
}

func TestCoordinator_Interaction(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t, pgp.ServiceFunc(passphrase))
	rec := newRecorder()

	require.NoError(t, c.BuildAsync(signRequest(), rec))

	e := rec.next(t)
	require.Equal(t, "interaction", e.kind)
	assert.Equal(t, "passphrase", e.handle.Kind)
	assert.Equal(t, aliceKey, e.handle.KeyID)
	assert.NotEmpty(t, e.requestID)
	assert.Equal(t, builder.AwaitingExternalInteraction, c.State())

	assert.ErrorIs(t, c.BuildAsync(signRequest(), rec), builder.ErrBusy)
	assert.ErrorIs(t,
		c.OnExternalResult("unknown", pgp.Outcome{}, rec),
		builder.ErrUnknownRequest)

	require.NoError(t, c.OnExternalResult(e.requestID, pgp.Outcome{Data: []byte("secret")}, rec))

	e = rec.next(t)
	require.Equal(t, "success", e.kind)
	defer func() { assert.NoError(t, e.msg.Close()) }()

	mt, err := e.msg.GetMediaType()
	require.NoError(t, err)
	assert.Equal(t, "multipart/signed", mt)
	assert.Equal(t, builder.Succeeded, c.State())
}

func TestCoordinator_Cancel(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t, pgp.ServiceFunc(passphrase))
	rec := newRecorder()

	require.NoError(t, c.BuildAsync(signRequest(), rec))
	e := rec.next(t)
	require.Equal(t, "interaction", e.kind)
	id := e.requestID

	require.NoError(t, c.OnExternalResult(id, pgp.Outcome{Cancelled: true}, rec))
	e = rec.next(t)
	assert.Equal(t, "cancel", e.kind)
	assert.Equal(t, builder.Idle, c.State())

	assert.ErrorIs(t,
		c.OnExternalResult(id, pgp.Outcome{}, rec),
		builder.ErrUnknownRequest)

	require.NoError(t, c.BuildAsync(baseRequest(), rec))
	e = rec.next(t)
	require.Equal(t, "success", e.kind)
	assert.NoError(t, e.msg.Close())
}

func TestCoordinator_Closed(t *testing.T) {
	t.Parallel()

	c := builder.NewCoordinator(nil)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.BuildAsync(baseRequest(), newRecorder()), builder.ErrClosed)
	assert.ErrorIs(t, c.OnExternalResult("x", pgp.Outcome{}, newRecorder()), builder.ErrClosed)
}
