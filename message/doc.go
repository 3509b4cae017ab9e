// Package message is the heart of this library. It provides the entity tree
// used to build outgoing email and the serializer that turns that tree into
// the exact bytes sent on the wire.
//
// A Part is a header plus one Body. The Body is one of four kinds:
//
//   - *TextBody holds characters with a charset
//   - *BinaryBody holds octets, in memory or in a temporary file
//   - *MessageBody holds a whole nested Message (message/rfc822)
//   - *MultipartBody holds further parts separated by a boundary
//
// A Message is a Part used at the top of the tree. Build one like this:
//
//	msg := message.NewMessage()
//	_ = msg.SetFrom("from@example.com")
//	_ = msg.SetTo("to@example.com")
//	msg.SetSubject("Test Message")
//
//	mixed := message.NewMultipartBody(message.Mixed, "")
//	_ = mixed.AddPart(message.NewPart(message.NewTextBody("Hello\r\n"), "text/plain"))
//	msg.SetBody(mixed, "")
//
//	_, err := msg.WriteTo(os.Stdout)
//
// Every line is terminated with CRLF. Call Downgrade before writing when the
// transport cannot carry 8-bit data.
package message
