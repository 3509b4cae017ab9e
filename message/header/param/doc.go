// Package param handles parameterized header values such as those carried by
// Content-Type and Content-Disposition. A Value remembers the order and the
// layout of its parameters, so a value built here is written back out exactly
// as it was described: same line or folded, quoted or bare.
package param
