// Package pgp turns a composed message into a PGP/MIME or PGP/INLINE signed
// or encrypted message.
//
// The cryptography itself is done by a Service, which may live in another
// process. The Step streams the content to the service, and the service may
// answer that it needs something from the user first, such as a passphrase.
// In that case Start returns a pending StepResult carrying a Handle and a
// request ID. Once the user has answered, the caller passes the request ID
// and the Outcome to Resume, and the step carries on from where it stopped.
//
//	step := pgp.NewStep(cfg, svc)
//	res, err := step.Start(ctx, msg, false)
//	for err == nil && res.Pending() {
//		answer := askUser(res.Handle)
//		res, err = step.Resume(ctx, res.RequestID, answer)
//	}
//
// A signed message becomes multipart/signed with the downgraded content as
// the first part and the detached signature as the second. An encrypted
// message becomes multipart/encrypted with a version part and the
// ciphertext.
package pgp
