// Package mailbuild builds MIME messages for sending or for storage as
// drafts, optionally signed or encrypted with OpenPGP.
//
// The module is split by the stage of a build. The message package holds the
// entity model: a message.Message is a header and a body, where the body is
// text, binary, an enclosed message, or a multipart list of further parts.
// Every part knows its Content-Transfer-Encoding, can serialize itself with
// CRLF line endings, and can be downgraded so that a message bound for a
// 7-bit transport carries no 8-bit content. Boundaries for multipart bodies
// come from a message.BoundaryGenerator, so tests can ask for predictable
// ones.
//
// The pgp package turns a composed message into its signed or encrypted
// form. A pgp.Step asks a pgp.Service to do the work and may stop part way
// when the service needs something from the user, such as a passphrase. The
// pgp/local package provides a Service backed by an in-process keyring.
//
// The builder package ties these together. A builder.Composer turns a
// builder.Request into a message, and a builder.Coordinator runs compose and
// crypto in the background, reporting to a Consumer that may detach and
// reattach while the build runs.
//
// Finished messages are handed to an outbox.Sink, which writes them to a
// stream or a directory, stores them in S3, or sends them through SES.
//
// The mailbuild command in cmd/mailbuild drives all of this from a YAML
// request file and an optional configuration file.
package mailbuild
