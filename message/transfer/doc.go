// Package transfer contains the Content-Transfer-Encoding codecs used when a
// body is written. Only quoted-printable and base64 change the bytes; 7bit,
// 8bit and binary pass bytes through as-is.
//
// For the sake of this module, "encoded" means the content has been
// transformed from its charset encoded form into the named transfer encoding,
// and "decoded" means the reverse.
package transfer
