package pgp

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zostay/go-mailbuild/message"
	"github.com/zostay/go-mailbuild/message/header"
	"github.com/zostay/go-mailbuild/message/header/param"
	"github.com/zostay/go-mailbuild/message/transfer"
)

// Media types and file names used in the rewritten message.
const (
	SignatureType     = "application/pgp-signature"
	EncryptedType     = "application/pgp-encrypted"
	SignatureFilename = "signature.asc"
	EncryptedFilename = "encrypted.asc"

	// ReplacementSubject is the outer subject of a message whose real subject
	// has been moved into the encrypted part.
	ReplacementSubject = "[...]"
)

// StepResult is returned by Step.Start and Step.Resume.
//
// Exactly one of these holds:
//
//   - Handle is set: the service needs user interaction. Pass RequestID and
//     the user's answer to Resume.
//   - Cancelled is true: the user abandoned the interaction.
//   - otherwise Message is complete.
type StepResult struct {
	Message   *message.Message
	IsDraft   bool
	Handle    *Handle
	RequestID string
	Cancelled bool
}

// Pending reports whether the step is waiting for user interaction.
func (r *StepResult) Pending() bool {
	return r.Handle != nil
}

// plan records what the step will do to the current message.
type plan struct {
	sign    bool
	encrypt bool
	inline  bool
}

// Step applies OpenPGP signing or encryption to a composed message. A Step
// handles one message at a time. After Start returns a pending result, only
// Resume with the matching request ID may be called until the message is
// finished.
type Step struct {
	cfg     Config
	svc     Service
	gen     message.BoundaryGenerator
	tempDir string
	logger  *slog.Logger
	newID   func() string

	mu        sync.Mutex
	msg       *message.Message
	isDraft   bool
	plan      plan
	contentCT string
	content   *message.Part
	pending   *Request
}

// Option configures a Step.
type Option func(*Step)

// WithBoundaryGenerator sets the generator used for the boundaries of the
// multipart/signed and multipart/encrypted bodies.
func WithBoundaryGenerator(gen message.BoundaryGenerator) Option {
	return func(s *Step) {
		s.gen = gen
	}
}

// WithTempDir sets the directory for the temporary files that hold service
// output.
func WithTempDir(dir string) Option {
	return func(s *Step) {
		s.tempDir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Step) {
		s.logger = l
	}
}

// WithRequestIDs replaces the request ID generator.
func WithRequestIDs(f func() string) Option {
	return func(s *Step) {
		s.newID = f
	}
}

// NewStep returns a Step that will use svc to apply cfg.
func NewStep(cfg Config, svc Service, opts ...Option) *Step {
	s := &Step{
		cfg:    cfg,
		svc:    svc,
		gen:    message.DefaultBoundary,
		logger: slog.Default(),
		newID:  randomRequestID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// randomRequestID returns 16 random hex digits.
func randomRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("unable to generate request id: %v", err))
	}
	return hex.EncodeToString(b)
}

// Config returns the configuration the step was created with.
func (s *Step) Config() Config {
	return s.cfg
}

// Start transforms msg according to the configuration. The message is
// modified in place and returned in the result.
//
// With ModeNone the message is returned untouched. Otherwise an Autocrypt
// header is added and, for drafts, an Autocrypt-Draft-State header. Drafts
// are never signed and are only encrypted when encryption is enabled or
// EncryptAllDrafts is set.
//
// On error the caller still owns msg and is responsible for closing it.
func (s *Step) Start(ctx context.Context, msg *message.Message, isDraft bool) (*StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.msg != nil {
		return nil, ErrBusy
	}

	if s.cfg.Mode == ModeNone {
		return &StepResult{Message: msg, IsDraft: isDraft}, nil
	}

	if s.cfg.ProviderState != ProviderReady {
		return nil, &ConfigurationError{State: s.cfg.ProviderState}
	}

	p := plan{
		sign:    s.cfg.Signing() && !isDraft,
		encrypt: s.cfg.Encrypting() || (isDraft && s.cfg.EncryptAllDrafts),
		inline:  s.cfg.Inline && !isDraft,
	}

	if p.encrypt && !isDraft && !s.cfg.HasRecipients() {
		if s.cfg.Mode == ModeSignAndEncrypt {
			return nil, &PreconditionError{Mode: s.cfg.Mode, Err: ErrMissingRecipients}
		}
		s.logger.Debug("no recipients for opportunistic encryption, skipping")
		p.encrypt = false
	}

	if p.encrypt && isDraft && s.cfg.selfKey() == NoKey {
		s.logger.Debug("no key to encrypt draft to, skipping")
		p.encrypt = false
	}

	if p.inline && (p.sign || p.encrypt) {
		if _, isText := msg.Body().(*message.TextBody); !isText || len(message.Attachments(&msg.Part)) > 0 {
			return nil, &PreconditionError{Mode: s.cfg.Mode, Err: ErrInlineAttachments}
		}
	}

	addAutocrypt(msg, s.cfg)
	if isDraft {
		msg.Set(AutocryptDraftStateField, draftState(s.cfg))
	}

	if !p.sign && !p.encrypt {
		return &StepResult{Message: msg, IsDraft: isDraft}, nil
	}

	s.msg = msg
	s.isDraft = isDraft
	s.plan = p
	s.contentCT, _ = msg.Get(header.ContentType)
	s.content = s.contentPart()

	if !p.inline {
		if err := s.content.Downgrade(); err != nil {
			s.reset()
			return nil, err
		}
	}

	res, err := s.execute(ctx, s.request())
	if err != nil || !res.Pending() {
		s.reset()
	}
	return res, err
}

// Resume continues the request that returned a pending result. If the
// outcome is cancelled, the step is abandoned and a cancelled result is
// returned.
func (s *Step) Resume(ctx context.Context, requestID string, outcome Outcome) (*StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil || s.pending.ID != requestID {
		return nil, ErrUnknownRequest
	}

	req := *s.pending
	s.pending = nil

	if outcome.Cancelled {
		s.logger.Debug("crypto interaction cancelled", "request", requestID)
		res := &StepResult{Message: s.msg, IsDraft: s.isDraft, Cancelled: true}
		s.reset()
		return res, nil
	}

	req.ID = s.newID()
	req.Interaction = outcome.Data

	res, err := s.execute(ctx, &req)
	if err != nil || !res.Pending() {
		s.reset()
	}
	return res, err
}

// PendingRequest returns the ID of the request awaiting interaction or an
// empty string.
func (s *Step) PendingRequest() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return ""
	}
	return s.pending.ID
}

func (s *Step) reset() {
	s.msg = nil
	s.isDraft = false
	s.plan = plan{}
	s.contentCT = ""
	s.content = nil
	s.pending = nil
}

// contentPart copies the body and the Content-* fields of the message into a
// new part, which is what gets signed or encrypted.
func (s *Step) contentPart() *message.Part {
	cp := &message.Part{}
	for _, f := range s.msg.Fields() {
		if strings.HasPrefix(strings.ToLower(f.Name), "content-") {
			cp.Add(f.Name, f.Body)
		}
	}
	cp.SetBody(s.msg.Body(), s.contentCT)

	if s.isDraft && s.msg.Has(header.Identity) {
		id, _ := s.msg.Get(header.Identity)
		cp.Set(header.Identity, id)
		s.msg.Delete(header.Identity)
	}

	if s.plan.inline {
		return cp
	}

	if s.plan.encrypt && s.cfg.EncryptSubject && s.msg.Has(header.Subject) {
		subj, _ := s.msg.GetSubject()
		ct, _ := cp.Get(header.ContentType)
		cp.Set(header.ContentType, ct+"; protected-headers=\"v1\"")
		cp.SetSubject(subj)
	}

	if s.plan.encrypt && !s.isDraft && len(s.cfg.Gossip) >= 2 {
		addGossip(cp, s.cfg.Gossip)
	}

	return cp
}

// request builds the first service request for the current plan.
func (s *Step) request() *Request {
	req := &Request{
		ID:         s.newID(),
		ASCIIArmor: true,
	}

	switch {
	case s.plan.encrypt && s.plan.sign:
		req.Action = ActionSignAndEncrypt
	case s.plan.encrypt:
		req.Action = ActionEncrypt
	case s.plan.inline:
		req.Action = ActionSign
	default:
		req.Action = ActionDetachedSign
	}

	if s.plan.sign {
		req.SigningKeyID = s.cfg.SigningKeyID
	}

	if s.plan.encrypt {
		if self := s.cfg.selfKey(); self != NoKey {
			req.RecipientKeyIDs = append(req.RecipientKeyIDs, self)
		}
		if !s.isDraft {
			req.RecipientKeyIDs = append(req.RecipientKeyIDs, s.cfg.RecipientKeyIDs...)
			req.RecipientUserIDs = append(req.RecipientUserIDs, s.cfg.RecipientUserIDs...)
		}
	}

	return req
}

// writeSource writes the data to be transformed. For inline crypto that is
// the text alone, otherwise it is the whole content part.
func (s *Step) writeSource(w io.Writer) error {
	if s.plan.inline {
		tb := s.content.Body().(*message.TextBody)
		cw := transfer.NewCRLFWriter(w)
		if _, err := io.WriteString(cw, tb.Text); err != nil {
			return err
		}
		return cw.Close()
	}

	_, err := s.content.WriteTo(w)
	return err
}

// execute makes one service call. The source is streamed to the service
// through a pipe and any output is captured in a temporary file.
func (s *Step) execute(ctx context.Context, req *Request) (*StepResult, error) {
	s.logger.Debug("calling crypto service",
		"request", req.ID,
		"action", req.Action,
		"interaction", len(req.Interaction) > 0)

	var (
		out     *message.BinaryBody
		outFile io.WriteCloser
		sink    io.Writer = io.Discard
		eol     io.WriteCloser
	)
	if req.Action != ActionDetachedSign {
		var err error
		out, outFile, err = message.CreateTempFileBody(s.tempDir)
		if err != nil {
			return nil, err
		}
		eol = transfer.NewCRLFWriter(outFile)
		sink = eol
	}

	release := func() {
		if out != nil {
			_ = outFile.Close()
			_ = out.Close()
		}
	}

	pr, pw := io.Pipe()
	var g errgroup.Group
	g.Go(func() error {
		err := s.writeSource(pw)
		_ = pw.CloseWithError(err)
		if errors.Is(err, io.ErrClosedPipe) {
			return nil
		}
		return err
	})

	res, err := s.svc.Execute(ctx, req, pr, sink)
	_ = pr.Close()
	werr := g.Wait()

	if err != nil {
		release()
		return nil, fmt.Errorf("crypto service failed: %w", err)
	}
	if werr != nil {
		release()
		return nil, fmt.Errorf("unable to write crypto source: %w", werr)
	}
	if res == nil {
		release()
		return nil, errors.New("crypto service returned no result")
	}

	switch res.Code {
	case CodeSuccess:
		if out != nil {
			err := eol.Close()
			if cerr := outFile.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = out.Close()
				return nil, fmt.Errorf("unable to store crypto output: %w", err)
			}
		}

		if err := s.rewrite(res, out); err != nil {
			if out != nil {
				_ = out.Close()
			}
			return nil, err
		}
		return &StepResult{Message: s.msg, IsDraft: s.isDraft}, nil

	case CodeUserInteractionRequired:
		release()
		if res.Handle == nil {
			return nil, errors.New("crypto service requires interaction but returned no handle")
		}
		s.pending = req
		s.logger.Debug("crypto service requires interaction", "request", req.ID, "kind", res.Handle.Kind)
		return &StepResult{Handle: res.Handle, RequestID: req.ID, IsDraft: s.isDraft}, nil

	case CodeError:
		release()
		serr := res.Error
		if serr == nil {
			serr = &ServiceError{Reason: ReasonGeneric, Message: "internal crypto service error"}
		}

		if s.cfg.Mode == ModeOpportunistic && serr.Reason == ReasonMissingKeys {
			s.logger.Debug("skipping encryption due to opportunistic mode", "reason", serr.Message)
			s.fallback()
			return &StepResult{Message: s.msg, IsDraft: s.isDraft}, nil
		}
		return nil, serr

	default:
		release()
		return nil, fmt.Errorf("crypto service returned unknown result code %d", res.Code)
	}
}

// fallback leaves the message unencrypted. The body may have been downgraded
// while building the content part, so its header is brought back in line.
func (s *Step) fallback() {
	if id, err := s.content.Get(header.Identity); err == nil {
		s.msg.Set(header.Identity, id)
	}
	s.msg.SetBody(s.content.Body(), s.contentCT)
}

// rewrite replaces the message body with the service output.
func (s *Step) rewrite(res *Result, out *message.BinaryBody) error {
	switch {
	case s.plan.inline:
		return s.buildInline(out)
	case s.plan.encrypt:
		return s.buildEncrypted(out)
	default:
		return s.buildSigned(res)
	}
}

// boundary returns a boundary not used anywhere inside the content part.
func (s *Step) boundary() string {
	return message.UniqueBoundary(s.gen, message.Boundaries(s.content)...).Generate()
}

func (s *Step) buildSigned(res *Result) error {
	if len(res.DetachedSignature) == 0 {
		return errors.New("crypto service returned no detached signature")
	}

	mb := message.NewMultipartBody(message.Signed, s.boundary())
	mb.Params = append(mb.Params,
		param.Quoted(param.Protocol, SignatureType).Folded("  "))
	if res.MicAlg != "" {
		mb.Params = append(mb.Params, param.Quoted(param.MicAlg, res.MicAlg))
	} else {
		s.logger.Warn("missing micalg parameter for multipart/signed")
	}

	if err := mb.AddPart(s.content); err != nil {
		return err
	}

	sig := message.NewPart(
		message.NewBinaryBody(toCRLF(res.DetachedSignature)),
		param.New(SignatureType, param.Quoted(param.Name, SignatureFilename)).String())
	if err := sig.SetEncoding(transfer.Bit7); err != nil {
		return err
	}
	if err := mb.AddPart(sig); err != nil {
		return err
	}

	s.msg.SetBody(mb, "")
	return nil
}

// toCRLF normalizes line endings in armored service output.
func toCRLF(b []byte) []byte {
	var buf bytes.Buffer
	w := transfer.NewCRLFWriter(&buf)
	_, _ = w.Write(b)
	_ = w.Close()
	return buf.Bytes()
}

func (s *Step) buildEncrypted(out *message.BinaryBody) error {
	if out == nil {
		return errors.New("crypto service produced no encrypted output")
	}

	mb := message.NewMultipartBody(message.Encrypted, s.boundary())
	mb.Params = append(mb.Params,
		param.Quoted(param.Protocol, EncryptedType).Folded("  "))

	control := message.NewPart(message.NewBinaryBody([]byte("Version: 1")), EncryptedType)
	if err := control.SetEncoding(transfer.Bit7); err != nil {
		return err
	}

	data := message.NewPart(out,
		param.New(message.DefaultBinaryType, param.Quoted(param.Name, EncryptedFilename)).String())
	if err := data.SetEncoding(transfer.Bit7); err != nil {
		return err
	}
	data.SetDisposition("inline", param.Quoted(param.Filename, EncryptedFilename))

	if err := mb.AddPart(control); err != nil {
		return err
	}
	if err := mb.AddPart(data); err != nil {
		return err
	}

	if s.cfg.EncryptSubject && s.content.Has(header.Subject) {
		s.msg.SetSubject(ReplacementSubject)
	}

	s.msg.SetBody(mb, "")
	if err := s.msg.SetEncoding(transfer.Bit7); err != nil {
		return err
	}

	// The plaintext is no longer part of the message.
	if err := s.content.Close(); err != nil {
		s.logger.Warn("unable to release plaintext content", "error", err)
	}

	return nil
}

func (s *Step) buildInline(out *message.BinaryBody) error {
	if out == nil {
		return errors.New("crypto service produced no inline output")
	}

	s.msg.SetBody(out, s.contentCT)

	cte := transfer.Bit7
	if !s.plan.encrypt {
		cte = transfer.QuotedPrintable
	}
	return s.msg.SetEncoding(cte)
}
