package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zostay/go-mailbuild/message"
	"github.com/zostay/go-mailbuild/pgp"
)

// Errors returned by the Coordinator.
var (
	// ErrBusy is returned by BuildAsync while a build is running or waiting
	// for user interaction.
	ErrBusy = errors.New("a build is already in progress")

	// ErrConsumerAttached is returned by ReattachConsumer when a consumer is
	// already attached. Call DetachConsumer first.
	ErrConsumerAttached = errors.New("a consumer is already attached")

	// ErrUnknownRequest is returned by OnExternalResult when no build is
	// waiting for the given request ID.
	ErrUnknownRequest = errors.New("no build is waiting for that request")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("coordinator is closed")

	// ErrNoService is returned through OnBuildException when the request
	// needs cryptography but the coordinator has no service.
	ErrNoService = errors.New("no crypto service configured")
)

// State is the state of the build held by a Coordinator.
type State int

const (
	Idle                        State = iota // nothing has been built
	Running                                  // a build is in progress
	Succeeded                                // the last build produced a message
	Failed                                   // the last build failed
	AwaitingExternalInteraction              // the crypto service needs the user
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case AwaitingExternalInteraction:
		return "awaiting-external-interaction"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Consumer receives the outcome of a build. Exactly one of OnBuildSuccess,
// OnBuildException, or OnBuildCancel ends a build.
// OnBuildUserInteractionRequired may come first, any number of times.
//
// Callbacks run on the coordinator's worker goroutine, or on the goroutine
// calling ReattachConsumer when a buffered result is delivered.
type Consumer interface {
	// OnBuildSuccess hands over the finished message. The consumer owns it
	// and must Close it when done.
	OnBuildSuccess(msg *message.Message, isDraft bool)

	OnBuildException(err error)

	// OnBuildUserInteractionRequired asks for user input. Pass requestID and
	// the outcome to OnExternalResult.
	OnBuildUserInteractionRequired(handle pgp.Handle, requestID string)

	OnBuildCancel()
}

type resultKind int

const (
	resultSuccess resultKind = iota
	resultException
	resultInteraction
	resultCancel
)

// result is a build outcome waiting to be delivered.
type result struct {
	kind      resultKind
	msg       *message.Message
	isDraft   bool
	err       error
	handle    pgp.Handle
	requestID string
}

// Coordinator runs builds on a single worker goroutine. One build may be in
// flight at a time. The consumer may be detached while a build runs; the
// result is then kept and handed to the next consumer attached.
type Coordinator struct {
	svc      pgp.Service
	composer Composer
	logger   *slog.Logger
	stepOpts []pgp.Option

	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan func()
	wg     sync.WaitGroup

	mu       sync.Mutex
	state    State
	consumer Consumer
	queued   *result
	step     *pgp.Step
	msg      *message.Message
	isDraft  bool
	closed   bool
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithComposer sets how requests are turned into messages.
func WithComposer(c Composer) CoordinatorOption {
	return func(co *Coordinator) {
		co.composer = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(co *Coordinator) {
		co.logger = l
	}
}

// WithStepOptions passes options to every pgp.Step the coordinator creates.
func WithStepOptions(opts ...pgp.Option) CoordinatorOption {
	return func(co *Coordinator) {
		co.stepOpts = append(co.stepOpts, opts...)
	}
}

// NewCoordinator starts a coordinator using svc for cryptography. svc may be
// nil if no request will ask for it. Call Close to stop the worker.
func NewCoordinator(svc pgp.Service, opts ...CoordinatorOption) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		svc:    svc,
		logger: slog.Default(),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan func(), 1),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.wg.Add(1)
	go c.work()

	return c
}

func (c *Coordinator) work() {
	defer c.wg.Done()
	for job := range c.jobs {
		job()
	}
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// discardQueued drops an undelivered result. c.mu must be held.
func (c *Coordinator) discardQueued() {
	if c.queued != nil && c.queued.msg != nil {
		_ = c.queued.msg.Close()
	}
	c.queued = nil
}

// BuildAsync composes req and applies its crypto configuration on the worker
// goroutine. It returns at once. The outcome goes to consumer.
//
// A result of an earlier build that was never delivered is dropped.
func (c *Coordinator) BuildAsync(req *Request, consumer Consumer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return ErrClosed
	case c.state == Running || c.state == AwaitingExternalInteraction:
		return ErrBusy
	}

	c.discardQueued()
	c.consumer = consumer
	c.state = Running
	c.isDraft = req.Draft

	c.jobs <- func() { c.build(req) }
	return nil
}

func (c *Coordinator) build(req *Request) {
	logger := c.logger.With("draft", req.Draft, "mode", req.Crypto.Mode)
	logger.Debug("building message")

	msg, err := c.composer.Compose(req)
	if err != nil {
		c.finish(nil, err)
		return
	}

	if req.Crypto.Mode != pgp.ModeNone && c.svc == nil {
		_ = msg.Close()
		c.finish(nil, ErrNoService)
		return
	}

	opts := append([]pgp.Option{
		pgp.WithLogger(logger),
		pgp.WithBoundaryGenerator(c.boundaries()),
		pgp.WithTempDir(c.composer.TempDir),
	}, c.stepOpts...)
	step := pgp.NewStep(cryptoConfig(req, c.svc), c.svc, opts...)

	c.mu.Lock()
	c.step = step
	c.msg = msg
	c.mu.Unlock()

	res, err := step.Start(c.ctx, msg, req.Draft)
	c.finish(res, err)
}

func (c *Coordinator) boundaries() message.BoundaryGenerator {
	if c.composer.Boundary == nil {
		return message.DefaultBoundary
	}
	return c.composer.Boundary
}

// OnExternalResult resumes the build waiting on requestID with the user's
// outcome. The outcome is handled on the worker goroutine and reported to
// consumer.
func (c *Coordinator) OnExternalResult(requestID string, outcome pgp.Outcome, consumer Consumer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if c.state != AwaitingExternalInteraction || c.step == nil || c.step.PendingRequest() != requestID {
		return ErrUnknownRequest
	}

	c.discardQueued()
	c.consumer = consumer
	c.state = Running

	step := c.step
	c.jobs <- func() {
		c.logger.Debug("resuming build", "request", requestID, "cancelled", outcome.Cancelled)
		res, err := step.Resume(c.ctx, requestID, outcome)
		c.finish(res, err)
	}
	return nil
}

// finish records the outcome of a step and delivers it.
func (c *Coordinator) finish(res *pgp.StepResult, err error) {
	c.mu.Lock()

	r := &result{isDraft: c.isDraft}
	switch {
	case err != nil:
		c.logger.Debug("build failed", "error", err)
		c.release()
		c.state = Failed
		r.kind, r.err = resultException, err

	case res.Pending():
		c.state = AwaitingExternalInteraction
		r.kind, r.handle, r.requestID = resultInteraction, *res.Handle, res.RequestID

	case res.Cancelled:
		c.release()
		c.state = Idle
		r.kind = resultCancel

	default:
		c.step, c.msg = nil, nil
		c.state = Succeeded
		r.kind, r.msg, r.isDraft = resultSuccess, res.Message, res.IsDraft
	}

	c.queued = r
	c.mu.Unlock()

	c.deliver()
}

// release closes the message of a build that will not complete. c.mu must
// be held.
func (c *Coordinator) release() {
	if c.msg != nil {
		if err := c.msg.Close(); err != nil {
			c.logger.Warn("unable to release message", "error", err)
		}
	}
	c.step, c.msg = nil, nil
}

// deliver hands the queued result to the consumer, if one is attached. The
// consumer is detached afterwards.
func (c *Coordinator) deliver() {
	c.mu.Lock()
	consumer, r := c.consumer, c.queued
	if consumer == nil || r == nil {
		if r != nil {
			c.logger.Debug("keeping build result for later delivery")
		}
		c.mu.Unlock()
		return
	}
	c.consumer, c.queued = nil, nil
	c.mu.Unlock()

	switch r.kind {
	case resultSuccess:
		consumer.OnBuildSuccess(r.msg, r.isDraft)
	case resultException:
		consumer.OnBuildException(r.err)
	case resultInteraction:
		consumer.OnBuildUserInteractionRequired(r.handle, r.requestID)
	case resultCancel:
		consumer.OnBuildCancel()
	}
}

// DetachConsumer forgets the current consumer. The build carries on, and
// its result is kept until ReattachConsumer.
func (c *Coordinator) DetachConsumer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumer = nil
}

// ReattachConsumer attaches consumer. A result produced while no consumer
// was attached is delivered to it straight away, on the calling goroutine.
func (c *Coordinator) ReattachConsumer(consumer Consumer) error {
	c.mu.Lock()
	if c.consumer != nil {
		c.mu.Unlock()
		return ErrConsumerAttached
	}
	c.consumer = consumer
	c.mu.Unlock()

	c.deliver()
	return nil
}

// Close stops the worker after the current job and releases any message
// that was not delivered.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.jobs)
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.discardQueued()
	if c.state == AwaitingExternalInteraction {
		c.release()
		c.state = Idle
	}
	return nil
}
