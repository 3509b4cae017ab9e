package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zostay/go-mailbuild/builder"
	"github.com/zostay/go-mailbuild/internal/config"
	"github.com/zostay/go-mailbuild/message"
	"github.com/zostay/go-mailbuild/message/header"
	"github.com/zostay/go-mailbuild/outbox"
	"github.com/zostay/go-mailbuild/pgp"
	"github.com/zostay/go-mailbuild/pgp/local"
)

// ErrCancelled is returned when the user declines to answer a crypto prompt.
var ErrCancelled = errors.New("build cancelled")

var (
	buildCmd = &cobra.Command{
		Use:   "build <request.yaml>",
		Short: "Build a message from a request file and hand it to the outbox",
		Args:  cobra.ExactArgs(1),
		RunE:  RunBuild,
	}

	buildDraft     bool
	buildDowngrade bool
	buildNoCrypto  bool
	buildDate      string
	buildOutbox    string
	buildOutDir    string
)

func init() {
	buildCmd.Flags().BoolVar(&buildDraft, "draft", false, "build the message as a draft")
	buildCmd.Flags().BoolVar(&buildDowngrade, "downgrade", false, "convert the message to 7bit before output")
	buildCmd.Flags().BoolVar(&buildNoCrypto, "no-crypto", false, "do not sign or encrypt")
	buildCmd.Flags().StringVar(&buildDate, "date", "", "date of the message, in almost any format")
	buildCmd.Flags().StringVar(&buildOutbox, "outbox", "", "outbox kind: stdout, dir, s3, or ses")
	buildCmd.Flags().StringVarP(&buildOutDir, "out", "o", "", "store the message below this directory")
}

// readRequest loads a build request. Relative attachment paths are resolved
// against the directory of the request file.
func readRequest(path string) (*builder.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read request: %w", err)
	}

	req := &builder.Request{}
	if err := yaml.Unmarshal(data, req); err != nil {
		return nil, fmt.Errorf("unable to parse request %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	for i := range req.Attachments {
		if p := req.Attachments[i].Path; p != "" && !filepath.IsAbs(p) {
			req.Attachments[i].Path = filepath.Join(dir, p)
		}
	}

	return req, nil
}

// applyDefaults fills in what the request leaves to configuration and flags.
func applyDefaults(req *builder.Request) error {
	if req.Identity.Email == "" {
		req.Identity = cfg.Identity
	}

	if req.UserAgent == "" {
		req.UserAgent = cfg.Build.UserAgent
		if req.UserAgent == "" {
			req.UserAgent = UserAgent()
		}
	}

	req.HideTimeZone = req.HideTimeZone || cfg.Build.HideTimeZone
	req.Draft = req.Draft || buildDraft

	if buildDate != "" {
		t, err := header.ParseTime(buildDate)
		if err != nil {
			return fmt.Errorf("bad --date: %w", err)
		}
		req.SentDate = t
	}

	switch {
	case buildNoCrypto:
		req.Crypto = pgp.Config{}
	case req.Crypto.Mode == pgp.ModeNone:
		req.Crypto = cfg.Crypto.Defaults
	}

	return nil
}

// loadService opens the configured keyring. It returns nil when there is
// none.
func loadService() (*local.Service, error) {
	if cfg.Crypto.Keyring == "" {
		return nil, nil
	}
	return local.LoadKeyRingFile(cfg.Crypto.Keyring, nil)
}

// newSink creates the configured outbox. The stdout outbox writes to w.
func newSink(ctx context.Context, w io.Writer) (outbox.Sink, error) {
	kind, dir := cfg.Outbox.Kind, cfg.Outbox.Dir
	if buildOutDir != "" {
		kind, dir = config.OutboxDir, buildOutDir
	}
	if buildOutbox != "" {
		kind = strings.ToLower(buildOutbox)
	}

	switch kind {
	case config.OutboxStdout:
		return outbox.NewWriter(w), nil
	case config.OutboxDir:
		if dir == "" {
			return nil, fmt.Errorf("%w: dir outbox needs a directory", config.ErrIncomplete)
		}
		return outbox.NewDir(dir), nil
	case config.OutboxS3:
		return outbox.NewS3(ctx, cfg.Outbox.S3)
	case config.OutboxSES:
		return outbox.NewSES(ctx, cfg.Outbox.SES)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrOutbox, kind)
	}
}

type buildOutcome struct {
	msg     *message.Message
	isDraft bool
	err     error
}

// waiter is the Consumer of a command line build. It answers interaction
// requests itself and reports the final outcome on done.
type waiter struct {
	c      *builder.Coordinator
	answer func(pgp.Handle) ([]byte, bool)
	done   chan buildOutcome
}

func (w *waiter) OnBuildSuccess(msg *message.Message, isDraft bool) {
	w.done <- buildOutcome{msg: msg, isDraft: isDraft}
}

func (w *waiter) OnBuildException(err error) {
	w.done <- buildOutcome{err: err}
}

func (w *waiter) OnBuildUserInteractionRequired(handle pgp.Handle, requestID string) {
	data, ok := w.answer(handle)
	err := w.c.OnExternalResult(requestID, pgp.Outcome{Cancelled: !ok, Data: data}, w)
	if err != nil {
		w.done <- buildOutcome{err: err}
	}
}

func (w *waiter) OnBuildCancel() {
	w.done <- buildOutcome{err: ErrCancelled}
}

// prompter answers passphrase requests from the configuration the first
// time and from in after that. An empty answer cancels.
func prompter(in io.Reader, out io.Writer) func(pgp.Handle) ([]byte, bool) {
	configured := cfg.Crypto.Passphrase
	lines := bufio.NewReader(in)

	return func(h pgp.Handle) ([]byte, bool) {
		if h.Kind == local.InteractionPassphrase && configured != "" {
			p := configured
			configured = ""
			return []byte(p), true
		}

		prompt := h.Prompt
		if prompt == "" {
			prompt = "Passphrase for key " + h.KeyID.String()
		}
		_, _ = fmt.Fprintf(out, "%s: ", prompt)

		line, err := lines.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "" || (err != nil && !errors.Is(err, io.EOF)) {
			return nil, false
		}
		return []byte(line), true
	}
}

func RunBuild(cmd *cobra.Command, args []string) error {
	req, err := readRequest(args[0])
	if err != nil {
		return err
	}

	if err := applyDefaults(req); err != nil {
		return err
	}

	ls, err := loadService()
	if err != nil {
		return err
	}

	var svc pgp.Service
	if ls != nil {
		svc = ls
		if req.Crypto.Mode != pgp.ModeNone && req.Crypto.SigningKeyID == pgp.NoKey {
			if id, ok := ls.KeyIDForAddress(req.Identity.Email); ok {
				req.Crypto.SigningKeyID = id
			}
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	sink, err := newSink(ctx, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	c := builder.NewCoordinator(svc,
		builder.WithComposer(builder.Composer{TempDir: cfg.Build.TempDir}),
		builder.WithLogger(slog.Default()),
	)
	defer func() { _ = c.Close() }()

	w := &waiter{
		c:      c,
		answer: prompter(cmd.InOrStdin(), cmd.ErrOrStderr()),
		done:   make(chan buildOutcome, 1),
	}
	if err := c.BuildAsync(req, w); err != nil {
		return err
	}

	var res buildOutcome
	select {
	case res = <-w.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if res.err != nil {
		return res.err
	}
	defer func() { _ = res.msg.Close() }()

	if cfg.Build.Downgrade || buildDowngrade {
		if err := res.msg.Downgrade(); err != nil {
			return err
		}
	}

	env := outbox.Envelope{
		From:       req.Identity.Email,
		Recipients: req.Recipients(),
		Draft:      res.isDraft,
	}
	if err := sink.Deliver(ctx, env, res.msg); err != nil {
		return err
	}

	slog.Info("message built",
		"outbox", sink.Name(),
		"draft", res.isDraft,
		"crypto", req.Crypto.Mode,
	)
	return nil
}
