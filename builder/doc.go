// Package builder composes outgoing messages from a Request and runs the
// crypto step over them in the background.
//
// Compose is synchronous: it turns a Request into a *message.Message with
// the header fields in a fixed order, a text body assembled from the
// composed text, the quoted text, and the signature, and one part per
// attachment.
//
// A Coordinator does the same on a worker goroutine and then applies the
// request's pgp.Config. The outcome is reported to a Consumer. A user
// interface that goes away while a build runs calls DetachConsumer; the
// outcome is held and handed over by ReattachConsumer.
//
//	c := builder.NewCoordinator(svc)
//	defer c.Close()
//	err := c.BuildAsync(req, consumer)
package builder
